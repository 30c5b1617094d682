// arcctl is the companion CLI for arcintegrity: it generates envelopes,
// lists seeds, compares envelopes and manages configuration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"arcintegrity/internal/chain"
	"arcintegrity/internal/config"
	"arcintegrity/internal/envelope"
	"arcintegrity/internal/fsutil"
	"arcintegrity/internal/logging"
	"arcintegrity/internal/seed"
	"arcintegrity/internal/tracing"
	"arcintegrity/internal/verify"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
	exitError = 3
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("arcctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	fs.Usage = func() { usage(stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() < 1 {
		usage(stderr)
		return exitUsage
	}

	shutdown, err := tracing.Setup(ctx, "arcctl")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdown(sctx)
	}()

	c := &cli{stdout: stdout, stderr: stderr, configPath: *configPath}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	var code int
	switch cmd {
	case "generate":
		err = c.cmdGenerate(rest)
	case "seeds":
		err = c.cmdSeeds(rest)
	case "compare":
		code, err = c.cmdCompare(ctx, rest)
	case "config":
		err = c.cmdConfig(rest)
	case "schema":
		err = c.cmdSchema(rest)
	case "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		usage(stderr)
		return exitUsage
	}

	switch {
	case err == nil:
		return code
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `arcctl - Companion utility for arcintegrity

Usage: arcctl [options] <command> [args]

Commands:
  generate [flags]              Generate a consistent envelope
  seeds <envelope.json>         List per-coil seeds and the blended seed
  compare <a.json> <b.json>...  Verify several envelopes and summarize
  config init|show|validate     Manage the configuration file
  schema envelope|report        Print a JSON schema
  help                          Show this help message

Options:
  -config <path>  Path to config file`)
}

func (c *cli) loadConfig() (*config.Config, error) {
	path := c.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *cli) cmdGenerate(args []string) error {
	defaults := chain.DefaultGenerateOptions()

	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	coils := fs.Int("coils", defaults.Coils, "number of coils")
	genesis := fs.String("genesis", defaults.Genesis, "genesis timestamp")
	resonance := fs.Int("resonance", defaults.ResonanceHz, "resonance in hertz")
	ratio := fs.Float64("phi", 0, "recorded ratio (default: the golden ratio)")
	source := fs.String("source", defaults.Source, "external fingerprint source (empty to omit)")
	output := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := chain.GenerateOptions{
		Coils:       *coils,
		Genesis:     *genesis,
		ResonanceHz: *resonance,
		Source:      *source,
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "phi" {
			opts.PhiRatio = ratio
		}
	})

	env, err := chain.Generate(opts)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	if *output == "" {
		_, err = c.stdout.Write(data)
		return err
	}
	if err := fsutil.WriteFile(*output, data, fsutil.PermPublicFile); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Envelope written to: %s\n", *output)
	fmt.Fprintf(c.stdout, "  Coils:   %d\n", len(env.Coils))
	fmt.Fprintf(c.stdout, "  Eternal: %s...\n", env.EternalFingerprint[:32])
	return nil
}

// seedRow is one line of `arcctl seeds`.
type seedRow struct {
	Coil        int     `json:"coil"`
	Fingerprint string  `json:"fingerprint"`
	Seed        float64 `json:"seed"`
	Weight      float64 `json:"weight"`
}

type seedListing struct {
	Source    string    `json:"source"`
	Coils     []seedRow `json:"coils"`
	First     float64   `json:"first"`
	Composite float64   `json:"composite"`
	Fallback  bool      `json:"fallback,omitempty"`
}

func (c *cli) cmdSeeds(args []string) error {
	fs := flag.NewFlagSet("seeds", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: arcctl seeds <envelope.json>", errUsage)
	}

	env, err := envelope.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	listing := seedListing{Source: fs.Arg(0)}
	if len(env.Coils) == 0 {
		listing.First = seed.FallbackSeed
		listing.Composite = seed.FallbackSeed
		listing.Fallback = true
	} else {
		seeds, err := seed.Extract(env.Coils)
		if err != nil {
			return err
		}
		weights := seed.Weights(len(seeds))
		for i, s := range seeds {
			listing.Coils = append(listing.Coils, seedRow{
				Coil:        env.Coils[i].Index,
				Fingerprint: env.Coils[i].Fingerprint,
				Seed:        s,
				Weight:      weights[i],
			})
		}
		if listing.First, err = seed.Blend(seeds, seed.BlendFirst); err != nil {
			return err
		}
		if listing.Composite, err = seed.Blend(seeds, seed.BlendComposite); err != nil {
			return err
		}
	}

	if *asJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COIL\tFINGERPRINT\tSEED\tWEIGHT")
	for _, r := range listing.Coils {
		fmt.Fprintf(tw, "%d\t%s...\t%.12f\t%.6f\n", r.Coil, r.Fingerprint[:16], r.Seed, r.Weight)
	}
	tw.Flush()
	if listing.Fallback {
		fmt.Fprintln(c.stdout, "(no coils; fallback seed)")
	}
	fmt.Fprintf(c.stdout, "\nFirst:     %.12f\n", listing.First)
	fmt.Fprintf(c.stdout, "Composite: %.12f\n", listing.Composite)
	return nil
}

func (c *cli) cmdCompare(ctx context.Context, args []string) (int, error) {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	geometry := fs.Bool("geometry", false, "also run the geometry stage")
	format := fs.String("format", "summary", "output: summary, or a report format (text, json, yaml, markdown)")
	if err := fs.Parse(args); err != nil {
		return exitUsage, err
	}
	if fs.NArg() < 2 {
		return exitUsage, fmt.Errorf("%w: arcctl compare <a.json> <b.json>...", errUsage)
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return exitUsage, fmt.Errorf("%w: %v", errUsage, err)
	}
	cfg.Geometry.Enabled = *geometry

	opts, err := cfg.VerifierOptions(logging.Discard())
	if err != nil {
		return exitUsage, fmt.Errorf("%w: %v", errUsage, err)
	}
	v := verify.NewVerifier(opts...)

	envs := make([]*envelope.Envelope, fs.NArg())
	for i, path := range fs.Args() {
		if envs[i], err = envelope.Load(path); err != nil {
			return exitError, fmt.Errorf("%s: %w", path, err)
		}
	}

	all, verr := v.Compare(ctx, envs)
	if all == nil {
		return exitError, verr
	}
	reports := make([]*verify.Report, 0, len(all))
	passed := true
	for i, r := range all {
		if r == nil {
			continue
		}
		r.Source = filepath.Base(fs.Arg(i))
		reports = append(reports, r)
		passed = passed && r.Passed()
	}
	if *format == "summary" {
		for _, r := range reports {
			fmt.Fprintln(c.stdout, r.Summary())
		}
	} else {
		rf, err := verify.ParseFormat(*format)
		if err != nil {
			return exitUsage, fmt.Errorf("%w: %v", errUsage, err)
		}
		if err := verify.NewReportGenerator(rf).GenerateAll(reports, c.stdout); err != nil {
			return exitError, err
		}
	}

	if verr != nil {
		return exitError, verr
	}
	if !passed {
		return exitFail, nil
	}
	return exitOK, nil
}

func (c *cli) cmdConfig(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: arcctl config init|show|validate", errUsage)
	}

	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("config init", flag.ContinueOnError)
		fs.SetOutput(c.stderr)
		force := fs.Bool("force", false, "overwrite an existing file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		path := c.configPath
		if path == "" {
			path = config.ConfigPath()
		}
		if *force {
			if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Config written to: %s\n", path)
			return nil
		}
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(c.stdout, "Config written to: %s\n", path)
		} else {
			fmt.Fprintf(c.stdout, "Config already exists: %s\n", path)
		}
		return nil

	case "show":
		fs := flag.NewFlagSet("config show", flag.ContinueOnError)
		fs.SetOutput(c.stderr)
		format := fs.String("format", "toml", "output format: toml, json, yaml")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		data, err := config.Encode(cfg, "."+*format)
		if err != nil {
			return err
		}
		_, err = c.stdout.Write(data)
		return err

	case "validate":
		if _, err := c.loadConfig(); err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, "Configuration OK")
		return nil

	default:
		return fmt.Errorf("%w: unknown config command %q", errUsage, args[0])
	}
}

func (c *cli) cmdSchema(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: arcctl schema envelope|report", errUsage)
	}
	switch args[0] {
	case "envelope":
		_, err := io.WriteString(c.stdout, envelope.Schema())
		return err
	case "report":
		_, err := io.WriteString(c.stdout, verify.ReportSchema())
		return err
	default:
		return fmt.Errorf("%w: unknown schema %q", errUsage, args[0])
	}
}
