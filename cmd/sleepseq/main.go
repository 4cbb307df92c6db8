package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
	"github.com/unijord/sleepseq/pkg/ingestor/dataset"
	"github.com/unijord/sleepseq/pkg/pipeline"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// errNoSuccess is returned when a run attempted subjects and none succeeded.
var errNoSuccess = errors.New("no subject was processed successfully")

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return fmt.Sprintf("%v\nusage: sleepseq -dataset ID -data-root DIR -out-root DIR [flags]", e.err)
}

func (e *usageError) Unwrap() error {
	return e.err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.As(err, &ue):
		return exitUsage
	default:
		return exitFailure
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("sleepseq", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "optional run config JSON path; flags override its values")
	datasetID := fs.String("dataset", "", "dataset ID, e.g. SHHS1 (see -list)")
	dataRoot := fs.String("data-root", "", "dataset directory to search for recordings")
	outRoot := fs.String("out-root", "", "output directory")
	channels := fs.String("channels", "", "comma-separated canonical leads in output order (default: the dataset's leads)")
	rate := fs.Float64("fs", 100, "output sampling rate in Hz")
	epochSec := fs.Float64("epoch-sec", 0, "epoch length in seconds (0 uses the dataset's)")
	seqLen := fs.Int("seq-len", 20, "epochs per output sequence")
	stride := fs.Int("stride", 0, "epochs between sequence starts (0 means seq-len)")
	maxSubjects := fs.Int("max-subjects", 0, "process at most N subjects (0 means all)")
	workers := fs.Int("workers", 0, "subjects processed concurrently (0 means GOMAXPROCS)")
	notch := fs.String("notch", "50,60", "comma-separated notch frequencies in Hz, or \"none\"")
	policy := fs.String("annotation-policy", annotation.PolicyEpochStart.String(), "label for epochs straddling stage changes: epoch-start|majority")
	rulesPath := fs.String("rules", "", "JSON file of extra dataset rules")
	filterExpr := fs.String("filter", "", "CEL predicate over subject, dataset, signal, annotation, signal_bytes, index")
	ledgerPath := fs.String("ledger", "", "run ledger path (BoltDB)")
	resume := fs.Bool("resume", false, "skip subjects the ledger records as done")
	hemisphere := fs.Bool("hemisphere-fallback", false, "bind a missing right-hemisphere lead to its left counterpart")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	logFormat := fs.String("log-format", "text", "log format: text|json")
	list := fs.Bool("list", false, "list the known datasets and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return &usageError{err: err}
	}
	if fs.NArg() > 0 {
		return &usageError{err: fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))}
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	logger, err := newLogger(stderr, *logLevel, *logFormat)
	if err != nil {
		return &usageError{err: err}
	}

	registry := dataset.Builtin()
	if *rulesPath != "" {
		if err := registry.LoadFile(*rulesPath); err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
	}

	if *list {
		return listDatasets(stdout, registry)
	}

	cfg := pipeline.DefaultConfig()
	if *configPath != "" {
		if cfg, err = pipeline.LoadConfigFile(*configPath); err != nil {
			return &usageError{err: err}
		}
	}
	overlay := map[string]func() error{
		"dataset":             func() error { cfg.Dataset = *datasetID; return nil },
		"data-root":           func() error { cfg.DataRoot = *dataRoot; return nil },
		"out-root":            func() error { cfg.OutRoot = *outRoot; return nil },
		"channels":            func() error { cfg.Leads = splitList(*channels); return nil },
		"fs":                  func() error { cfg.TargetRate = *rate; return nil },
		"epoch-sec":           func() error { cfg.EpochSeconds = *epochSec; return nil },
		"seq-len":             func() error { cfg.SeqLen = *seqLen; return nil },
		"stride":              func() error { cfg.Stride = *stride; return nil },
		"max-subjects":        func() error { cfg.MaxSubjects = *maxSubjects; return nil },
		"workers":             func() error { cfg.Workers = *workers; return nil },
		"filter":              func() error { cfg.Filter = *filterExpr; return nil },
		"ledger":              func() error { cfg.LedgerPath = *ledgerPath; return nil },
		"resume":              func() error { cfg.Resume = *resume; return nil },
		"hemisphere-fallback": func() error { cfg.HemisphereFallback = *hemisphere; return nil },
		"notch": func() error {
			freqs, err := parseNotch(*notch)
			cfg.Condition.Notch = freqs
			return err
		},
		"annotation-policy": func() error {
			p, err := annotation.ParsePolicy(*policy)
			cfg.AnnotationPolicy = p
			return err
		},
	}
	for name, apply := range overlay {
		// with -config only flags set explicitly override the file
		if !setFlags[name] && *configPath != "" {
			continue
		}
		if err := apply(); err != nil {
			return &usageError{err: fmt.Errorf("-%s: %w", name, err)}
		}
	}
	cfg.Registry = registry
	cfg.Logger = logger

	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	sum, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}
	printSummary(stdout, sum)

	switch {
	case sum.NoSubjects:
		return errors.New(sum.Diagnostic)
	case !sum.OK():
		return errNoSuccess
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("-log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("-log-format: unknown format %q", format)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseNotch(s string) ([]float64, error) {
	if strings.EqualFold(strings.TrimSpace(s), "none") {
		return nil, nil
	}
	var out []float64
	for _, part := range splitList(s) {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid frequency %q", part)
		}
		out = append(out, f)
	}
	return out, nil
}

func listDatasets(w io.Writer, registry *dataset.Registry) error {
	for _, id := range registry.IDs() {
		rule, err := registry.Resolve(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-10s %-4s %-10s %gs  %s\n",
			rule.ID, rule.SignalFormat, rule.AnnotationFormat, rule.EpochSeconds, strings.Join(rule.Leads, ","))
	}
	return nil
}

func printSummary(w io.Writer, sum *pipeline.Summary) {
	for _, o := range sum.Outcomes {
		if o.Status == pipeline.StatusFailed {
			fmt.Fprintf(w, "FAILED  %s  %s: %v\n", o.Subject, o.Reason, o.Err)
		}
	}
	fmt.Fprintf(w, "%s run %s: %s discovered, %d filtered, %d succeeded, %d failed, %d skipped, %s written in %s\n",
		sum.Dataset, sum.RunID,
		humanize.Comma(int64(sum.Discovered)), sum.Filtered,
		sum.Succeeded, sum.Failed, sum.Skipped,
		humanize.Bytes(uint64(sum.Bytes)), sum.Elapsed.Round(time.Millisecond))
}
