// Command arcverify verifies integrity envelopes and renders their
// attractor density.
//
// Usage:
//
//	arcverify [flags] [envelope.json | dir ...]
//
// With no arguments the envelope is read from standard input when it is
// not a terminal.
//
// Examples:
//
//	# Basic verification
//	arcverify envelope.json
//
//	# JSON report and a density image
//	arcverify -format json -png density.png envelope.json
//
//	# Several envelopes side by side
//	arcverify a.json b.json c.json
//
//	# Re-verify whenever the file changes
//	arcverify -watch envelope.json
//
//	# ...and expose metrics and health endpoints while watching
//	arcverify -watch -metrics-addr 127.0.0.1:9464 envelope.json
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"arcintegrity/internal/arc"
	"arcintegrity/internal/config"
	"arcintegrity/internal/console"
	"arcintegrity/internal/envelope"
	"arcintegrity/internal/fsutil"
	"arcintegrity/internal/health"
	"arcintegrity/internal/logging"
	"arcintegrity/internal/metrics"
	"arcintegrity/internal/render"
	"arcintegrity/internal/tracing"
	"arcintegrity/internal/verify"
	"arcintegrity/internal/watcher"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Exit codes.
const (
	exitPass  = 0
	exitFail  = 1
	exitUsage = 2
	exitError = 3
)

const stdinName = "-"

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries the state of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	overrides  func(*config.Config) error

	cfg      *config.Config
	logger   *logging.Logger
	verifier *verify.Verifier
	cons     arc.Constellation
	registry *metrics.Registry
	metrics  *metrics.VerifyMetrics

	output   string
	pngPath  string
	pngScale int
	quiet    bool
	exitCode bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("arcverify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "path to config file")
	steps := fs.Int("steps", 0, "trajectory length including burn-in")
	burnIn := fs.Int("burn-in", 0, "leading steps discarded from the trajectory")
	bins := fs.Int("bins", 0, "density grid side")
	blend := fs.String("blend", "", "seed blend mode: composite, first")
	selector := fs.String("selector", "", "center selector: pcg, golden")
	tolerance := fs.Float64("tolerance", 0, "golden-ratio tolerance")
	geometry := fs.Bool("geometry", true, "run the seed/trajectory/density stage")
	formatStr := fs.String("format", "", "report format: text, json, yaml, markdown")
	colorMode := fs.String("color", "", "colour in text reports: auto, always, never")
	verbose := fs.Bool("verbose", false, "verbose output with full digests")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	output := fs.String("output", "", "output file (default: stdout)")
	pngPath := fs.String("png", "", "write the density grid as a PNG image")
	pngScale := fs.Int("png-scale", render.DefaultScale, "pixels per density cell")
	watch := fs.Bool("watch", false, "re-verify whenever an input file changes")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics and health endpoints on this address (watch mode)")
	quiet := fs.Bool("quiet", false, "quiet mode - only set the exit code")
	exitCode := fs.Bool("exit-code", true, "exit with non-zero code on verification failure")
	versionFlag := fs.Bool("version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "arcverify - Verify integrity envelopes\n\n")
		fmt.Fprintf(stderr, "Usage: arcverify [flags] [envelope.json | dir ...]\n\n")
		fmt.Fprintf(stderr, "Reads standard input when no file is given and input is piped.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExit codes:\n")
		fmt.Fprintf(stderr, "  0  all envelopes passed\n")
		fmt.Fprintf(stderr, "  1  at least one envelope failed\n")
		fmt.Fprintf(stderr, "  2  usage or configuration error\n")
		fmt.Fprintf(stderr, "  3  input could not be read or verified\n")
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  arcverify envelope.json\n")
		fmt.Fprintf(stderr, "  arcverify -format json -png density.png envelope.json\n")
		fmt.Fprintf(stderr, "  cat envelope.json | arcverify -quiet\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitPass
		}
		return exitUsage
	}

	if *versionFlag {
		fmt.Fprintf(stdout, "arcverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return exitPass
	}

	if *metricsAddr != "" && !*watch {
		fmt.Fprintln(stderr, "Error: -metrics-addr needs -watch")
		return exitUsage
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	a := &app{
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		configPath: *configPath,
		output:     *output,
		pngPath:    *pngPath,
		pngScale:   *pngScale,
		quiet:      *quiet,
		exitCode:   *exitCode,
		registry:   metrics.NewRegistry("arcintegrity"),
	}
	a.metrics = metrics.NewVerifyMetrics(a.registry)
	a.overrides = func(c *config.Config) error {
		if set["steps"] {
			c.Geometry.Steps = *steps
		}
		if set["burn-in"] {
			c.Geometry.BurnIn = *burnIn
		}
		if set["bins"] {
			c.Geometry.Bins = *bins
		}
		if set["blend"] {
			c.Geometry.BlendMode = *blend
		}
		if set["selector"] {
			c.Geometry.Selector = *selector
		}
		if set["tolerance"] {
			c.Verify.Tolerance = *tolerance
		}
		if set["geometry"] {
			c.Geometry.Enabled = *geometry
		}
		if set["format"] {
			format, err := verify.ParseFormat(*formatStr)
			if err != nil {
				return err
			}
			c.Output.Format = string(format)
		}
		if set["color"] {
			c.Output.Color = *colorMode
		}
		if set["verbose"] {
			c.Output.Verbose = *verbose
		}
		if set["log-level"] {
			c.Logging.Level = *logLevel
		}
		return c.Validate()
	}

	if a.pngPath != "" && !*geometry {
		fmt.Fprintln(stderr, "Error: -png needs the geometry stage")
		return exitUsage
	}

	cfg, err := a.loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	if err := a.apply(cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer func() { a.logger.Close() }()

	shutdown, err := tracing.Setup(ctx, "arcverify")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			a.logger.Warn("tracing shutdown", "error", err)
		}
	}()

	inputs, err := a.resolveInputs(fs.Args())
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Error: %v\n\n", err)
			fs.Usage()
			return exitUsage
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if a.pngPath != "" && len(inputs) > 1 {
		fmt.Fprintln(stderr, "Error: -png takes a single envelope")
		return exitUsage
	}

	if *watch {
		if len(inputs) == 1 && inputs[0] == stdinName {
			fmt.Fprintln(stderr, "Error: -watch needs file arguments")
			return exitUsage
		}
		return a.watch(ctx, fs.Args(), inputs, *metricsAddr)
	}
	return a.verifyAll(ctx, inputs)
}

// loadConfig reads the config file and applies flag overrides.
func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath == "" {
		a.configPath = config.FindConfigFile()
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := a.overrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply builds the logger and verifier for cfg.
func (a *app) apply(cfg *config.Config) error {
	lc, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	lc.Component = "arcverify"
	switch lc.Output {
	case "stderr":
		lc.Writer = a.stderr
	case "stdout":
		lc.Writer = a.stdout
	}
	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	opts, err := cfg.VerifierOptions(logger.WithComponent("verify"))
	if err != nil {
		logger.Close()
		return err
	}
	opts = append(opts, verify.WithMetrics(a.metrics))
	cons, err := cfg.BuildConstellation()
	if err != nil {
		logger.Close()
		return err
	}

	if a.logger != nil {
		a.logger.Close()
	}
	a.cfg = cfg
	a.logger = logger
	a.verifier = verify.NewVerifier(opts...)
	a.cons = cons
	return nil
}

// resolveInputs expands directories to their JSON files and falls back to
// standard input when it is piped.
func (a *app) resolveInputs(args []string) ([]string, error) {
	if len(args) == 0 {
		if f, ok := a.stdin.(*os.File); ok && console.IsTerminal(f) {
			return nil, fmt.Errorf("%w: envelope file required", errUsage)
		}
		return []string{stdinName}, nil
	}

	var inputs []string
	for _, arg := range args {
		if arg == stdinName {
			inputs = append(inputs, stdinName)
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			inputs = append(inputs, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		inputs = append(inputs, matches...)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no envelope files found", errUsage)
	}
	return inputs, nil
}

func (a *app) load(path string) (*envelope.Envelope, error) {
	if path == stdinName {
		return envelope.Read(a.stdin)
	}
	return envelope.Load(path)
}

func sourceName(path string) string {
	if path == stdinName {
		return "<stdin>"
	}
	return path
}

// verifyAll verifies every input once and writes the reports.
func (a *app) verifyAll(ctx context.Context, inputs []string) int {
	envs := make([]*envelope.Envelope, len(inputs))
	for i, path := range inputs {
		env, err := a.load(path)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error loading %s: %v\n", sourceName(path), err)
			return exitError
		}
		a.logger.Debug("envelope loaded", "source", sourceName(path), "coils", len(env.Coils))
		envs[i] = env
	}

	var results []*verify.Result
	if len(envs) == 1 {
		res, err := a.verifier.VerifyDetailed(ctx, envs[0])
		if err != nil {
			fmt.Fprintf(a.stderr, "Verification error: %v\n", err)
			return exitError
		}
		results = []*verify.Result{res}
	} else {
		var err error
		results, err = a.verifier.CompareDetailed(ctx, envs)
		if results == nil {
			fmt.Fprintf(a.stderr, "Verification error: %v\n", err)
			return exitError
		}
	}

	reports := make([]*verify.Report, 0, len(results))
	passed, failedRuns := true, false
	for i, res := range results {
		if res.Err != nil {
			fmt.Fprintf(a.stderr, "Verification error: %s: %v\n", sourceName(inputs[i]), errors.Unwrap(res.Err))
			failedRuns = true
			continue
		}
		res.Report.Source = sourceName(inputs[i])
		reports = append(reports, res.Report)
		passed = passed && res.Report.Passed()
	}

	if a.pngPath != "" {
		if err := a.writePNG(results[0]); err != nil {
			fmt.Fprintf(a.stderr, "Error writing image: %v\n", err)
			return exitError
		}
	}

	if len(reports) > 0 {
		if err := a.writeReports(reports); err != nil {
			fmt.Fprintf(a.stderr, "Error generating report: %v\n", err)
			return exitError
		}
	}

	if failedRuns {
		return exitError
	}
	if a.exitCode && !passed {
		return exitFail
	}
	return exitPass
}

func (a *app) writeReports(reports []*verify.Report) error {
	if a.quiet {
		return nil
	}
	format, err := verify.ParseFormat(a.cfg.Output.Format)
	if err != nil {
		return err
	}

	var out *os.File
	if a.output == "" {
		out, _ = a.stdout.(*os.File)
	}
	gen := verify.NewReportGenerator(format).
		WithVerbose(a.cfg.Output.Verbose).
		WithColor(console.ColorEnabled(a.cfg.Output.Color, out))

	var buf bytes.Buffer
	if len(reports) == 1 {
		err = gen.Generate(reports[0], &buf)
	} else {
		err = gen.GenerateAll(reports, &buf)
	}
	if err != nil {
		return err
	}

	if a.output != "" {
		return fsutil.WriteFile(a.output, buf.Bytes(), fsutil.PermPublicFile)
	}
	_, err = a.stdout.Write(buf.Bytes())
	return err
}

func (a *app) writePNG(res *verify.Result) error {
	if res.Grid == nil {
		if res.Report.GeometryError != "" {
			return fmt.Errorf("no density grid: %s", res.Report.GeometryError)
		}
		return errors.New("no density grid")
	}

	centers := a.cons.Centers()
	markers := make([]complex128, len(centers))
	for i, c := range centers {
		markers[i] = c.Position
	}

	w, err := fsutil.NewAtomicWriter(a.pngPath, fsutil.PermPublicFile)
	if err != nil {
		return err
	}
	if err := render.WritePNG(w, res.Grid, render.Options{Scale: a.pngScale, Markers: markers}); err != nil {
		w.Abort()
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	a.logger.Debug("density image written", "path", a.pngPath, "bins", res.Grid.Bins)
	return nil
}

// watch verifies the inputs, then re-verifies each file as it settles
// after a change. Config file edits rebuild the verifier.
func (a *app) watch(ctx context.Context, args, inputs []string, metricsAddr string) int {
	checker := health.NewChecker()
	checker.RegisterFunc("inputs", true, health.FilesCheck(inputs))

	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: metrics listener: %v\n", err)
			return exitError
		}
		mctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := serveHTTP(mctx, ln, a.registry, checker); err != nil {
				a.logger.Warn("http server", "error", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
		a.logger.Info("serving http", "addr", ln.Addr().String())
	}

	for _, path := range inputs {
		a.verifyAll(ctx, []string{path})
	}

	w, err := watcher.New(args, watcher.Options{
		Settle:     300 * time.Millisecond,
		Extensions: []string{".json"},
	})
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitError
	}
	if err := w.Start(); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitError
	}
	defer w.Stop()
	checker.SetReady(true)

	reloads := make(chan *config.Config, 1)
	var cfgErrs <-chan error
	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err == nil {
			loader := config.NewLoader(a.configPath)
			if _, err := loader.Load(); err == nil {
				loader.OnChange(func(c *config.Config) {
					select {
					case reloads <- c:
					default:
					}
				})
				if err := loader.Watch(); err != nil {
					a.logger.Warn("config watch unavailable", "error", err)
				} else {
					cfgErrs = loader.Errors()
				}
				defer loader.Close()
			}
		}
	}

	a.logger.Info("watching", "paths", strings.Join(args, ","))
	for {
		select {
		case <-ctx.Done():
			return exitPass

		case ev, ok := <-w.Events():
			if !ok {
				return exitPass
			}
			a.logger.Info("watch reload", "path", ev.Path, "digest", ev.Digest[:16])
			a.verifyAll(ctx, []string{ev.Path})

		case err, ok := <-w.Errors():
			if ok {
				a.logger.Warn("watch error", "error", err)
			}

		case cfg := <-reloads:
			next := cfg.Clone()
			if err := a.overrides(next); err != nil {
				a.logger.Warn("config reload rejected", "error", err)
				continue
			}
			if err := a.apply(next); err != nil {
				a.logger.Warn("config reload rejected", "error", err)
				continue
			}
			a.logger.Info("config reloaded", "path", a.configPath)

		case err := <-cfgErrs:
			a.logger.Warn("config reload failed", "error", err)
		}
	}
}
