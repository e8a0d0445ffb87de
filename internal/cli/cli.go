package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gur-shatz/go-integrity/pkg/config"
)

// Command represents what integrity should do.
type Command int

const (
	CommandVerify     Command = iota // default: verify the manifest
	CommandInit                      // write a default config file
	CommandGenerate                  // scan root and write the manifest
	CommandDigest                    // print digests of the given files
	CommandWatch                     // verify continuously
	CommandServe                     // serve the HTTP API
	CommandAlgorithms                // list supported algorithms
	CommandDiff                      // compare two manifests
)

var commands = map[string]Command{
	"verify":     CommandVerify,
	"init":       CommandInit,
	"generate":   CommandGenerate,
	"digest":     CommandDigest,
	"watch":      CommandWatch,
	"serve":      CommandServe,
	"algorithms": CommandAlgorithms,
	"diff":       CommandDiff,
}

func (this Command) String() string {
	for name, c := range commands {
		if c == this {
			return name
		}
	}
	return fmt.Sprintf("Command(%d)", int(this))
}

// Config holds the parsed command line. Only flags present on the
// command line override the config file; see Apply.
type Config struct {
	Command    Command
	Args       []string
	ConfigFile string
	Root       string
	Manifest   string
	Algorithm  string
	Format     string
	Workers    int
	Include    []string
	Exclude    []string
	Addr       string
	Poll       time.Duration
	Debounce   time.Duration
	Events     bool
	Verbose    bool

	set map[string]bool
}

// IsSet reports whether the flag was given, by its long name.
func (this *Config) IsSet(name string) bool {
	return this.set[name]
}

// stringList is a repeatable string flag.
type stringList struct {
	values *[]string
}

func (this stringList) String() string {
	if this.values == nil {
		return ""
	}
	return strings.Join(*this.values, ",")
}

func (this stringList) Set(v string) error {
	*this.values = append(*this.values, v)
	return nil
}

// short flag -> long flag
var aliases = map[string]string{
	"c": "config",
	"r": "root",
	"m": "manifest",
	"a": "algorithm",
	"w": "workers",
	"v": "verbose",
}

// Parse parses command-line arguments into a Config.
//
// Format:
//
//	integrity [command] [flags] [args]
//
// Flags may appear before or after the command. With no command, verify
// runs against the configured manifest.
func Parse(args []string) (Config, error) {
	cfg := Config{set: make(map[string]bool)}

	fs := flag.NewFlagSet("integrity", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ConfigFile, "c", "", "")
	fs.StringVar(&cfg.ConfigFile, "config", "", "")
	fs.StringVar(&cfg.Root, "r", "", "")
	fs.StringVar(&cfg.Root, "root", "", "")
	fs.StringVar(&cfg.Manifest, "m", "", "")
	fs.StringVar(&cfg.Manifest, "manifest", "", "")
	fs.StringVar(&cfg.Algorithm, "a", "", "")
	fs.StringVar(&cfg.Algorithm, "algorithm", "", "")
	fs.StringVar(&cfg.Format, "format", "", "")
	fs.IntVar(&cfg.Workers, "w", 0, "")
	fs.IntVar(&cfg.Workers, "workers", 0, "")
	fs.Var(stringList{&cfg.Include}, "include", "")
	fs.Var(stringList{&cfg.Exclude}, "exclude", "")
	fs.StringVar(&cfg.Addr, "addr", "", "")
	fs.DurationVar(&cfg.Poll, "poll", 0, "")
	fs.DurationVar(&cfg.Debounce, "debounce", 0, "")
	fs.BoolVar(&cfg.Events, "events", false, "")
	fs.BoolVar(&cfg.Verbose, "v", false, "")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "")

	fs.Usage = func() {
		fmt.Fprint(fs.Output(), Usage())
	}

	positional, err := parseInterleaved(fs, args)
	if err != nil {
		if err == flag.ErrHelp {
			fmt.Print(Usage())
		}
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		name := f.Name
		if long, ok := aliases[name]; ok {
			name = long
		}
		cfg.set[name] = true
	})

	if len(positional) > 0 {
		cmd, ok := commands[positional[0]]
		if !ok {
			return cfg, fmt.Errorf("unknown command %q\n\n%s", positional[0], Usage())
		}
		cfg.Command = cmd
		cfg.Args = positional[1:]
	}

	if err := cfg.checkArgs(); err != nil {
		return cfg, err
	}
	if cfg.Workers < 0 {
		return cfg, fmt.Errorf("--workers must be >= 0, got %d", cfg.Workers)
	}
	return cfg, nil
}

// parseInterleaved lets flags follow the command and its arguments.
// flag.Parse stops at the first non-flag, so parsing resumes after it.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (this *Config) checkArgs() error {
	switch this.Command {
	case CommandDigest:
		if len(this.Args) == 0 {
			return fmt.Errorf("digest: at least one file is required")
		}
	case CommandDiff:
		if len(this.Args) != 2 {
			return fmt.Errorf("diff: expected <old> <new> manifests, got %d arguments", len(this.Args))
		}
	default:
		if len(this.Args) > 0 {
			return fmt.Errorf("%s: unexpected arguments %v", this.Command, this.Args)
		}
	}
	return nil
}

// Apply overrides cfg with every flag given on the command line.
func (this *Config) Apply(cfg *config.Config) {
	if this.IsSet("root") {
		cfg.Root = this.Root
	}
	if this.IsSet("manifest") {
		cfg.Manifest = this.Manifest
	}
	if this.IsSet("algorithm") {
		cfg.Algorithm = this.Algorithm
	}
	if this.IsSet("format") {
		cfg.Format = this.Format
	}
	if this.IsSet("workers") {
		cfg.Workers = this.Workers
	}
	if this.IsSet("include") {
		cfg.Include = this.Include
	}
	if this.IsSet("exclude") {
		cfg.Exclude = append(append([]string(nil), cfg.Exclude...), this.Exclude...)
	}
	if this.IsSet("addr") {
		cfg.Serve.Addr = this.Addr
	}
	if this.IsSet("poll") {
		cfg.Watch.Poll = this.Poll
	}
	if this.IsSet("debounce") {
		cfg.Watch.Debounce = this.Debounce
	}
}

// Usage returns the help text for integrity.
func Usage() string {
	return `integrity - file integrity manifests and verification

Usage:
  integrity [flags]                      Verify the configured manifest
  integrity init [-c <file>]             Write a default config file
  integrity generate [flags]             Scan root and write the manifest
  integrity verify [flags]               Re-digest manifest entries and report
  integrity digest <file>... [-a <alg>]  Print file digests
  integrity diff <old> <new>             Compare two manifests
  integrity watch [flags]                Verify continuously until interrupted
  integrity serve [flags]                Serve the HTTP API
  integrity algorithms                   List supported hash algorithms

  The config file is optional when --root is given:
    integrity generate -r ./data -m data.sum
    integrity verify -m data.sum
    integrity -c my.yaml watch

Flags:
  -c, --config <file>       Config file path (default: integrity.yaml)
  -r, --root <dir>          Directory to scan
  -m, --manifest <file>     Manifest path (default: integrity.sum)
  -a, --algorithm <name>    Hash algorithm (default: sha256)
  --format <fmt>            Manifest format: auto, text, jsonl (default: auto)
  -w, --workers <n>         Hashing workers, 0 = one per CPU (default: 0)
  --include <glob>          Only include matching files (repeatable)
  --exclude <glob>          Exclude matching files (repeatable)
  --addr <host:port>        API listen address (default: 127.0.0.1:7788)
  --poll <duration>         Watch poll interval (default: 500ms)
  --debounce <duration>     Watch debounce window (default: 300ms)
  --events                  Emit [integrity:<type>] JSON lines on stdout
  -v, --verbose             Verbose output (intact files, skipped details)
  -h, --help                Show this help

Exit status:
  0 when every entry is intact, 1 on any change, missing or unreadable
  file, and on errors.

Config file (integrity.yaml):
  vars:
    data_dir: /srv/data
  root: "{{ .data_dir }}"
  manifest: integrity.sum
  algorithm: sha256
  exclude:
    - ".git"

Template features:
  - vars: section for defining template variables
  - {{ .VAR }} and [[ .VAR ]] syntax (both supported)
  - Functions: default, required, env
  - Environment variables override vars section values
`
}
