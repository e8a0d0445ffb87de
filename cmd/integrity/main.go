package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gur-shatz/go-integrity/internal/cli"
	"github.com/gur-shatz/go-integrity/internal/color"
	"github.com/gur-shatz/go-integrity/internal/hasher"
	"github.com/gur-shatz/go-integrity/internal/log"
	"github.com/gur-shatz/go-integrity/internal/notify"
	"github.com/gur-shatz/go-integrity/internal/verify"
	"github.com/gur-shatz/go-integrity/internal/watcher"
	"github.com/gur-shatz/go-integrity/pkg/api"
	"github.com/gur-shatz/go-integrity/pkg/config"
	"github.com/gur-shatz/go-integrity/pkg/integrity"
)

// errFailed is returned after a report has been printed, so main exits 1
// without logging it again.
var errFailed = errors.New("integrity check failed")

func main() {
	color.Init()
	if err := run(); err != nil {
		if !errors.Is(err, errFailed) {
			log.Error("%v", err)
		}
		os.Exit(1)
	}
}

func run() error {
	flags, err := cli.Parse(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}

	log.Init(flags.Verbose)

	var events *notify.Notifier
	if flags.Events {
		events = notify.New()
	}

	configFile := flags.ConfigFile
	if configFile == "" {
		configFile = config.DefaultConfigFile
	}
	configFile = config.ResolvePath(configFile)

	switch flags.Command {
	case cli.CommandInit:
		return runInit(configFile)
	case cli.CommandAlgorithms:
		return runAlgorithms()
	case cli.CommandDigest:
		return runDigest(flags)
	case cli.CommandDiff:
		return runDiff(flags)
	}

	cfg, err := loadConfig(flags, configFile)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch flags.Command {
	case cli.CommandGenerate:
		return runGenerate(ctx, cfg, events)
	case cli.CommandWatch:
		return runWatch(ctx, cfg, events)
	case cli.CommandServe:
		return runServe(ctx, cfg)
	default:
		return runVerify(ctx, cfg, events)
	}
}

// loadConfig reads the config file when present, applies flag overrides
// and validates. Relative paths in the file resolve against its directory.
// Without a file, --root is required.
func loadConfig(flags cli.Config, configFile string) (*config.Config, error) {
	var cfg *config.Config

	if _, err := os.Stat(configFile); err == nil {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		configAbs, err := filepath.Abs(configFile)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		dir := filepath.Dir(configAbs)
		if loaded.Root != "" && !filepath.IsAbs(loaded.Root) {
			loaded.Root = filepath.Join(dir, loaded.Root)
		}
		if !filepath.IsAbs(loaded.Manifest) {
			loaded.Manifest = filepath.Join(dir, loaded.Manifest)
		}
		log.Verbose("Using config: %s", configFile)
		cfg = loaded
	} else if flags.ConfigFile != "" {
		return nil, fmt.Errorf("config %s: %w", configFile, err)
	} else {
		d := config.Default()
		cfg = &d
	}

	flags.Apply(cfg)

	if cfg.Root == "" && flags.Command == cli.CommandGenerate {
		return nil, fmt.Errorf("no root directory: pass --root or create %s (integrity init)", config.DefaultConfigFile)
	}
	if cfg.Root == "" {
		// verify, watch and serve only read the manifest
		cfg.Root = "."
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runInit(configFile string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists (remove it first to regenerate)", configFile)
	}

	if err := os.WriteFile(configFile, []byte(config.DefaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("write %s: %w", configFile, err)
	}

	log.Success("Created %s", configFile)
	return nil
}

func runAlgorithms() error {
	for _, name := range integrity.Algorithms() {
		if name == hasher.DefaultAlgorithm {
			fmt.Println(name + " (default)")
			continue
		}
		fmt.Println(name)
	}
	return nil
}

func runDigest(flags cli.Config) error {
	algorithm := flags.Algorithm
	if algorithm == "" {
		algorithm = hasher.DefaultAlgorithm
	}

	failed := 0
	for _, path := range flags.Args {
		digest, err := integrity.Digest(path, algorithm)
		if errors.Is(err, integrity.ErrUnsupportedAlgorithm) {
			return err
		}
		if err != nil {
			log.Error("%v", err)
			failed++
			continue
		}
		fmt.Printf("%s  %s\n", digest, path)
	}
	if failed > 0 {
		return errFailed
	}
	return nil
}

func runDiff(flags cli.Config) error {
	format, err := integrity.ParseFormat(flags.Format)
	if err != nil {
		return err
	}

	old, err := integrity.ReadManifest(flags.Args[0], format)
	if err != nil {
		return err
	}
	current, err := integrity.ReadManifest(flags.Args[1], format)
	if err != nil {
		return err
	}

	changes := integrity.DiffManifests(old, current)
	if changes.IsEmpty() {
		log.Success("Manifests match (%d files)", len(old))
		return nil
	}
	log.Change(changes)
	return errFailed
}

func runGenerate(ctx context.Context, cfg *config.Config, events *notify.Notifier) error {
	log.Verbose("Scanning %s (%s, include=%v, exclude=%v)", cfg.Root, cfg.Algorithm, cfg.Include, cfg.Exclude)

	start := time.Now()
	result, err := integrity.GenerateManifest(ctx, cfg.Root, cfg.Manifest, integrity.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	took := time.Since(start)

	for _, s := range result.Skipped {
		log.Skip(s.Path, s.Err)
	}
	for _, p := range result.Ignored {
		log.Verbose("ignored (not a regular file): %s", p)
	}

	if events != nil {
		events.Generated(cfg.Manifest, hasher.Normalize(cfg.Algorithm), len(result.Entries), result.Skipped, took)
	}

	log.Success("Created %s (%d files, %s)", cfg.Manifest, len(result.Entries), took.Round(time.Millisecond))
	if len(result.Skipped) > 0 {
		log.Warn("%d files could not be read", len(result.Skipped))
	}
	return nil
}

func runVerify(ctx context.Context, cfg *config.Config, events *notify.Notifier) error {
	start := time.Now()
	report, err := integrity.VerifyIntegrity(ctx, cfg.Manifest, integrity.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}

	all := log.Default().ListsIntact()
	for _, r := range report.Results {
		log.Result(r, all)
	}
	if events != nil {
		events.Verified(cfg.Manifest, report, time.Since(start))
	}

	if report.OK() {
		log.Success("All %d files intact", len(report.Results))
		return nil
	}
	log.Error("%s", summary(report))
	return errFailed
}

func summary(report *integrity.Report) string {
	counts := report.Counts()
	var parts []string
	for _, s := range []integrity.Status{integrity.Changed, integrity.Missing, integrity.Errored} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	return fmt.Sprintf("%d of %d files failed: %s", len(report.Failed()), len(report.Results), strings.Join(parts, ", "))
}

func runWatch(ctx context.Context, cfg *config.Config, events *notify.Notifier) error {
	entries, err := integrity.ReadManifest(cfg.Manifest, cfg.ManifestFormat())
	if err != nil {
		return err
	}

	opts := integrity.OptionsFromConfig(cfg)
	report, err := integrity.VerifyEntries(ctx, entries, opts)
	if err != nil {
		return err
	}
	for _, r := range report.Failed() {
		log.Result(r, false)
	}
	if events != nil {
		events.Verified(cfg.Manifest, report, 0)
	}
	log.Status("Watching %d files from %s (Ctrl+C to stop)", len(entries), cfg.Manifest)

	onChange := func(changed []verify.Result, previous map[string]verify.Status) {
		for _, r := range changed {
			log.Transition(previous[r.Path], r)
		}
		if events != nil {
			events.Changed(cfg.Manifest, changed, previous)
		}
	}

	w := watcher.New(entries, cfg.Algorithm, cfg.Watch.Poll, cfg.Watch.Debounce, onChange, log.Default())
	w.SetCurrent(report)
	w.Run(ctx)

	fmt.Println()
	if events != nil {
		events.Stopping()
	}
	return nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	srv := api.New(cfg, log.Default())
	if err := srv.ListenAndServe(ctx, cfg.Serve.Addr); err != nil {
		return fmt.Errorf("serve %s: %w", cfg.Serve.Addr, err)
	}
	log.Status("API stopped")
	return nil
}
