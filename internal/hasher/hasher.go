package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// ChunkSize is the number of bytes read from a file per hash update.
// It bounds peak memory regardless of file size.
const ChunkSize = 8192

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = "sha256"

// ErrUnsupportedAlgorithm is returned for an unknown algorithm identifier.
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

var algorithms = map[string]func() hash.Hash{
	"md5":         md5.New,
	"sha1":        sha1.New,
	"sha224":      sha256.New224,
	"sha256":      sha256.New,
	"sha384":      sha512.New384,
	"sha512":      sha512.New,
	"sha512_224":  sha512.New512_224,
	"sha512_256":  sha512.New512_256,
	"sha3_224":    sha3.New224,
	"sha3_256":    sha3.New256,
	"sha3_384":    sha3.New384,
	"sha3_512":    sha3.New512,
	"blake2b_256": mustKeyless(blake2b.New256),
	"blake2b_384": mustKeyless(blake2b.New384),
	"blake2b_512": mustKeyless(blake2b.New512),
	"blake2s_256": mustKeyless(blake2s.New256),
	"blake3":      func() hash.Hash { return blake3.New() },
}

// mustKeyless adapts the keyed blake2 constructors. With a nil key they
// cannot fail.
func mustKeyless(fn func(key []byte) (hash.Hash, error)) func() hash.Hash {
	return func() hash.Hash {
		h, err := fn(nil)
		if err != nil {
			panic(err)
		}
		return h
	}
}

// Normalize maps an algorithm identifier to its canonical form:
// lowercase, with "-" replaced by "_". "SHA-256" and "sha_256" both
// become "sha256".
func Normalize(algorithm string) string {
	a := strings.ToLower(strings.TrimSpace(algorithm))
	a = strings.ReplaceAll(a, "-", "_")
	if a == "" {
		return DefaultAlgorithm
	}
	if _, ok := algorithms[a]; ok {
		return a
	}
	// sha_256 -> sha256, sha3_256 stays as is
	if collapsed := strings.Replace(a, "_", "", 1); algorithms[collapsed] != nil {
		return collapsed
	}
	return a
}

// Supported reports whether the algorithm identifier is known.
func Supported(algorithm string) bool {
	_, ok := algorithms[Normalize(algorithm)]
	return ok
}

// Algorithms returns the sorted list of supported identifiers.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns a fresh hash for the algorithm.
func New(algorithm string) (hash.Hash, error) {
	ctor, ok := algorithms[Normalize(algorithm)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
	return ctor(), nil
}

// Digest streams the file at path through the algorithm in ChunkSize
// reads and returns the lowercase hex digest.
func Digest(path, algorithm string) (string, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := feed(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestReader hashes everything read from r.
func DigestReader(r io.Reader, algorithm string) (string, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", err
	}
	if err := feed(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes hashes data in a single update.
func DigestBytes(data []byte, algorithm string) (string, error) {
	h, err := New(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// feed reads r in ChunkSize pieces. io.CopyBuffer is not used because
// *os.File implements WriterTo, which would bypass the fixed buffer.
func feed(h hash.Hash, r io.Reader) error {
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
