package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/k0kubun/pp/v3"
	"github.com/sirupsen/logrus"

	"github.com/tdh8316/handlecheck/internal/batch"
	"github.com/tdh8316/handlecheck/internal/cli"
	"github.com/tdh8316/handlecheck/internal/httpx"
	"github.com/tdh8316/handlecheck/internal/output"
	"github.com/tdh8316/handlecheck/internal/probe"
	"github.com/tdh8316/handlecheck/internal/registry"
	"github.com/tdh8316/handlecheck/internal/store"
)

// Version is compared against "$requires" in platform files.
const Version = "1.0.0"

// DefaultPlatformFile is where "update" writes when --platforms is unset.
const DefaultPlatformFile = "platforms.json"

// errInterrupted ends a run that was stopped by a signal.
var errInterrupted = errors.New("the program was stopped by the user")

// newClient is replaced in tests.
var newClient = func(cfg httpx.ClientConfig) (httpx.Doer, error) {
	return httpx.NewClient(cfg)
}

type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	log     *logrus.Logger
	printer *output.Printer
	now     func() time.Time
}

// Run executes one command line and returns the process exit status.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr, now: time.Now}

	root := cli.NewRootCommand(stdout, stderr, a.handle)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var usage *cli.UsageError
	switch {
	case errors.As(err, &usage):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintln(stderr, "Run 'handlecheck --help' for usage.")
		return 2
	case errors.Is(err, errInterrupted):
		if a.printer != nil {
			a.printer.Error("The program was stopped by the user.")
		} else {
			fmt.Fprintln(stderr, errInterrupted)
		}
		return 1
	default:
		if a.printer != nil {
			a.printer.Error(err.Error())
		} else {
			fmt.Fprintln(stderr, err)
		}
		return 1
	}
}

func (a *app) handle(ctx context.Context, inv *cli.Invocation) error {
	cfg := inv.Config

	a.log = newLogger(a.stderr, cfg.Verbose)
	a.printer = output.NewPrinter(a.stdout, cfg.NoColor, cfg.Verbose)

	if a.log.IsLevelEnabled(logrus.DebugLevel) {
		dump := pp.New()
		dump.SetColoringEnabled(!cfg.NoColor)
		a.log.Debugf("effective configuration:\n%s", dump.Sprint(cfg))
	}

	switch inv.Command {
	case cli.CmdPlatforms:
		reg, err := a.loadRegistry(inv)
		if err != nil {
			return err
		}
		a.printer.Platforms(reg)
		return nil
	case cli.CmdShow:
		return a.show(inv.Args)
	case cli.CmdUpdate:
		return a.update(ctx, inv)
	case cli.CmdValidate:
		return a.validate(ctx, inv)
	default:
		return a.check(ctx, inv)
	}
}

func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// loadRegistry returns the built-in platforms or the --platforms file,
// narrowed to --sites.
func (a *app) loadRegistry(inv *cli.Invocation) (*registry.Registry, error) {
	cfg := inv.Config

	reg := registry.Default()
	if cfg.Platforms != "" {
		loaded, err := registry.LoadFile(cfg.Platforms, Version)
		if err != nil {
			return nil, fmt.Errorf("platform file: %w", err)
		}
		reg = loaded
		a.log.WithField("file", cfg.Platforms).WithField("platforms", reg.Len()).Debug("loaded platform file")
	}

	if len(cfg.Sites) == 0 {
		return reg, nil
	}

	filtered, unknown := reg.Filter(cfg.Sites)
	if len(unknown) > 0 {
		a.printer.Warn("Unknown platforms ignored: " + strings.Join(unknown, ", "))
	}
	if filtered.Len() == 0 {
		a.printer.Warn("No matching platforms; using all of them.")
		return reg, nil
	}
	a.printer.Info(fmt.Sprintf("Using %d platform(s)", filtered.Len()))
	return filtered, nil
}

func (a *app) newProber(inv *cli.Invocation) (*probe.Prober, error) {
	cfg := inv.Config

	client, err := newClient(httpx.ClientConfig{
		ProxyURL:        proxyFor(inv),
		MaxConnsPerHost: cfg.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize HTTP client: %w", err)
	}

	return probe.NewProber(client, probe.Config{
		UserAgent:    cfg.UserAgent,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, a.log), nil
}

func proxyFor(inv *cli.Invocation) string {
	if inv.Config.Tor {
		return httpx.DefaultTorProxyURL
	}
	return inv.Config.Proxy
}

func scanOptions(inv *cli.Invocation) probe.Options {
	return probe.Options{
		Timeout:     inv.Config.TimeoutDuration(),
		Concurrency: inv.Config.Concurrency,
	}
}

func (a *app) check(ctx context.Context, inv *cli.Invocation) error {
	in := inv.Input
	if in.Empty() {
		return inv.Cmd.Help()
	}

	reg, err := a.loadRegistry(inv)
	if err != nil {
		return err
	}
	prober, err := a.newProber(inv)
	if err != nil {
		return err
	}
	a.printer.Banner(Version, reg)

	if in.Interactive {
		return a.interactive(ctx, inv, prober, reg)
	}

	var usernames []string
	switch {
	case in.File != "":
		usernames, err = readUsernames(in.File)
		if err != nil {
			return err
		}
		if len(usernames) == 0 {
			a.printer.Error("The file is empty or does not contain valid usernames.")
			return nil
		}
	case len(in.Usernames) > 0:
		usernames = in.Usernames
	default:
		usernames = []string{in.Username}
	}

	cfg := inv.Config
	coord := batch.NewCoordinator(prober, reg, scanOptions(inv), batch.Policy{
		Parallel: cfg.Parallel,
		Workers:  cfg.Workers,
		Delay:    cfg.Delay,
	})

	_, err = coord.Run(ctx, usernames, func(res *probe.ScanResult) {
		a.printer.ScanHeader(res.Username)
		a.printer.Result(res)
		if cfg.Save {
			a.save(cfg.OutputDir, res)
		}
	})
	if err != nil {
		return errInterrupted
	}
	return nil
}

// save reports a failed write and carries on.
func (a *app) save(dir string, res *probe.ScanResult) {
	path, err := store.Save(dir, res, a.now())
	if err != nil {
		a.printer.Error("Error saving file: " + err.Error())
		a.log.WithError(err).WithField("scan_id", res.ID).Debug("save failed")
		return
	}
	a.printer.Saved(path)
}

// readUsernames returns the non-blank lines of path.
func readUsernames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func (a *app) interactive(ctx context.Context, inv *cli.Invocation, prober *probe.Prober, reg *registry.Registry) error {
	cfg := inv.Config

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines := readLines(readCtx, a.stdin)
	next := func() (string, bool) {
		select {
		case <-ctx.Done():
			return "", false
		case line, ok := <-lines:
			return line, ok
		}
	}

	a.printer.Info("Interactive mode - type 'exit' to quit")
	for {
		a.printer.Prompt("\nEnter the username: ")
		line, ok := next()
		if !ok {
			if ctx.Err() != nil {
				a.printer.Error("The program has been stopped")
			}
			return nil
		}

		username := strings.TrimSpace(line)
		switch strings.ToLower(username) {
		case "":
			continue
		case "exit", "quit":
			a.printer.Info("Thanks for using handlecheck!")
			return nil
		}

		a.printer.ScanHeader(username)
		res := prober.Scan(ctx, username, reg, scanOptions(inv), nil)
		a.printer.Result(res)

		if cfg.Save {
			a.save(cfg.OutputDir, res)
			continue
		}

		a.printer.Prompt("\nDo you want to save the results? (y/n): ")
		answer, ok := next()
		if !ok {
			return nil
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			a.save(cfg.OutputDir, res)
		}
	}
}

// readLines streams lines from r until EOF or until ctx is done. A read
// blocked on a terminal only ends with the process.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func (a *app) validate(ctx context.Context, inv *cli.Invocation) error {
	reg, err := a.loadRegistry(inv)
	if err != nil {
		return err
	}
	prober, err := a.newProber(inv)
	if err != nil {
		return err
	}

	a.printer.ValidationStart(reg.Len())
	failures := prober.Validate(ctx, reg, scanOptions(inv), a.printer.ValidationFailure)
	a.printer.ValidationDone(failures)

	if ctx.Err() != nil {
		return errInterrupted
	}
	return nil
}

func (a *app) show(files []string) error {
	failed := 0
	for _, path := range files {
		rec, err := store.Load(path)
		if err != nil {
			a.printer.Error(err.Error())
			failed++
			continue
		}
		a.printer.Record(rec)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) could not be read", failed, len(files))
	}
	return nil
}

func (a *app) update(ctx context.Context, inv *cli.Invocation) error {
	cfg := inv.Config
	dest := cfg.Platforms
	if dest == "" {
		dest = DefaultPlatformFile
	}

	client, err := newClient(httpx.ClientConfig{ProxyURL: proxyFor(inv)})
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP client: %w", err)
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = httpx.DefaultUserAgent
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()

	a.printer.Info("Downloading platform file...")
	if err := registry.Download(ctx, client, inv.Args[0], ua, dest, Version); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	a.printer.Info("Platform file written to " + dest)
	return nil
}
