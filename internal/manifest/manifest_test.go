package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gur-shatz/go-integrity/internal/manifest"
)

const (
	digestA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	digestB = "486ea46224d1bb4fb680f34f7c9ad96a8f24ec88be73ea8e5a6c65260e9cb8a7"
)

var _ = Describe("Manifest", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	Describe("Write and Read", func() {
		It("round-trips entries in text format", func() {
			path := filepath.Join(tmpDir, "integrity.sum")
			entries := map[string]string{
				"data/a.txt": digestA,
				"data/b.txt": digestB,
			}

			Expect(manifest.Write(path, entries, manifest.FormatText)).To(Succeed())

			got, err := manifest.Read(path, manifest.FormatText)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(entries))
		})

		It("writes one path:digest line per entry", func() {
			path := filepath.Join(tmpDir, "integrity.sum")
			entries := map[string]string{
				"z.txt": digestB,
				"a.txt": digestA,
			}

			Expect(manifest.Write(path, entries, manifest.FormatText)).To(Succeed())

			content, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(Equal("a.txt:" + digestA + "\nz.txt:" + digestB + "\n"))
		})

		It("truncates previous content", func() {
			path := filepath.Join(tmpDir, "integrity.sum")
			Expect(manifest.Write(path, map[string]string{"a": digestA, "b": digestB}, manifest.FormatText)).To(Succeed())
			Expect(manifest.Write(path, map[string]string{"c": digestA}, manifest.FormatText)).To(Succeed())

			got, err := manifest.Read(path, manifest.FormatText)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(map[string]string{"c": digestA}))
		})

		It("round-trips paths containing colons", func() {
			path := filepath.Join(tmpDir, "integrity.sum")
			entries := map[string]string{
				`C:\data\a.txt`:     digestA,
				"logs/12:30:00.log": digestB,
			}

			Expect(manifest.Write(path, entries, manifest.FormatText)).To(Succeed())

			got, err := manifest.Read(path, manifest.FormatText)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(entries))
		})

		It("round-trips entries in jsonl format", func() {
			path := filepath.Join(tmpDir, "integrity.jsonl")
			entries := map[string]string{
				"weird:name\n.txt": digestA,
				"b.txt":            digestB,
			}

			Expect(manifest.Write(path, entries, manifest.FormatAuto)).To(Succeed())

			content, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Count(string(content), "\n")).To(Equal(2))
			Expect(string(content)).To(ContainSubstring(`"digest":"` + digestB + `"`))

			got, err := manifest.Read(path, manifest.FormatAuto)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(entries))
		})

		It("returns a not-exist error for a missing manifest", func() {
			_, err := manifest.Read(filepath.Join(tmpDir, "nope.sum"), manifest.FormatText)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
		})

		It("fails when the destination cannot be created", func() {
			err := manifest.Write(filepath.Join(tmpDir, "missing-dir", "x.sum"), map[string]string{}, manifest.FormatText)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Decode", func() {
		It("tolerates a missing final newline, CRLF and blank lines", func() {
			input := "a.txt:" + digestA + "\r\n\n" + "b.txt:" + digestB
			got, err := manifest.Decode(strings.NewReader(input), manifest.FormatText)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(map[string]string{"a.txt": digestA, "b.txt": digestB}))
		})

		It("keeps the last digest for duplicate paths", func() {
			input := "a.txt:" + digestA + "\na.txt:" + digestB + "\n"
			got, err := manifest.Decode(strings.NewReader(input), manifest.FormatText)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(map[string]string{"a.txt": digestB}))
		})

		DescribeTable("fails fast on malformed lines",
			func(input string, line int, reason string) {
				_, err := manifest.Decode(strings.NewReader(input), manifest.FormatText)
				Expect(err).To(MatchError(manifest.ErrParse))

				var perr *manifest.ParseError
				Expect(errors.As(err, &perr)).To(BeTrue())
				Expect(perr.Line).To(Equal(line))
				Expect(perr.Reason).To(ContainSubstring(reason))
			},
			Entry("no separator", "a.txt:"+digestA+"\nbroken line\n", 2, "separator"),
			Entry("empty digest", "a.txt:\n", 1, "empty digest"),
			Entry("empty path", ":"+digestA+"\n", 1, "empty path"),
			Entry("non-hex digest", "a.txt:not-a-digest\n", 1, "hexadecimal"),
		)

		It("reports malformed jsonl lines", func() {
			_, err := manifest.Decode(strings.NewReader("{\"path\":\"a\"\n"), manifest.FormatJSONL)
			Expect(err).To(MatchError(manifest.ErrParse))
		})
	})

	Describe("formats", func() {
		DescribeTable("resolves auto by extension",
			func(path string, expected manifest.Format) {
				Expect(manifest.Resolve(path, manifest.FormatAuto)).To(Equal(expected))
			},
			Entry("sum file", "integrity.sum", manifest.FormatText),
			Entry("txt file", "file_hashes.txt", manifest.FormatText),
			Entry("jsonl file", "integrity.jsonl", manifest.FormatJSONL),
			Entry("ndjson file", "out/INTEGRITY.NDJSON", manifest.FormatJSONL),
		)

		It("keeps an explicit format regardless of extension", func() {
			Expect(manifest.Resolve("integrity.jsonl", manifest.FormatText)).To(Equal(manifest.FormatText))
		})

		It("parses format names", func() {
			f, err := manifest.ParseFormat("JSONL")
			Expect(err).NotTo(HaveOccurred())
			Expect(f).To(Equal(manifest.FormatJSONL))

			f, err = manifest.ParseFormat("")
			Expect(err).NotTo(HaveOccurred())
			Expect(f).To(Equal(manifest.FormatAuto))

			_, err = manifest.ParseFormat("xml")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Diff", func() {
		It("detects mixed changes", func() {
			old := map[string]string{"a.txt": digestA, "b.txt": digestB}
			new := map[string]string{"a.txt": digestB, "c.txt": digestA}

			cs := manifest.Diff(old, new)
			Expect(cs.Added).To(Equal([]string{"c.txt"}))
			Expect(cs.Modified).To(Equal([]string{"a.txt"}))
			Expect(cs.Removed).To(Equal([]string{"b.txt"}))
		})

		It("ignores digest letter case", func() {
			old := map[string]string{"a.txt": strings.ToUpper(digestA)}
			new := map[string]string{"a.txt": digestA}

			cs := manifest.Diff(old, new)
			Expect(cs.IsEmpty()).To(BeTrue())
		})

		It("handles a nil old manifest", func() {
			cs := manifest.Diff(nil, map[string]string{"a.txt": digestA, "b.txt": digestB})
			Expect(cs.Added).To(ConsistOf("a.txt", "b.txt"))
		})
	})
})
