package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/unijord/sleepseq/pkg/condition"
	"github.com/unijord/sleepseq/pkg/epoch"
	"github.com/unijord/sleepseq/pkg/expr"
	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
	"github.com/unijord/sleepseq/pkg/ingestor/channel"
	"github.com/unijord/sleepseq/pkg/ingestor/dataset"
	"github.com/unijord/sleepseq/pkg/ingestor/reader"
	"github.com/unijord/sleepseq/pkg/ledger"
)

// runner holds everything shared by the subjects of one run. Nothing in it
// is mutated after Run starts dispatching.
type runner struct {
	cfg          Config
	rule         dataset.Rule
	runID        string
	leads        []string
	epochSeconds float64
	minEp        int

	reader   reader.Reader
	parser   annotation.Parser
	resolver *channel.Resolver
	cond     *condition.Conditioner
	ledger   *ledger.Ledger
	logger   *slog.Logger
}

// Run normalizes every selected subject of cfg.Dataset under cfg.DataRoot.
//
// Configuration problems and an unknown dataset are returned as errors.
// Subject failures never are: they become Outcomes in the Summary. When ctx
// is canceled dispatch stops, the subjects in flight finish, and the partial
// Summary is returned together with the context error.
func Run(ctx context.Context, cfg Config) (*Summary, error) {
	started := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = dataset.Builtin()
	}

	r, err := newRunner(cfg)
	if err != nil {
		return nil, err
	}
	if r.ledger != nil {
		defer r.ledger.Close()
	}

	filter, err := expr.Compile(cfg.Filter)
	if err != nil {
		return nil, err
	}

	sum := &Summary{RunID: r.runID, Dataset: r.rule.ID}
	defer func() { sum.Elapsed = time.Since(started) }()

	disc, err := Discover(cfg.DataRoot, r.rule)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		disc = &Discovery{Patterns: patterns(r.rule)}
	case err != nil:
		return nil, err
	}
	sum.Discovered = len(disc.Groups)
	sum.Unpaired = disc.Unpaired
	for _, p := range disc.Unpaired {
		r.logger.Warn("signal file has no annotation", slog.String("path", p))
	}

	if len(disc.Groups) == 0 {
		sum.NoSubjects = true
		sum.Diagnostic = fmt.Sprintf(
			"no %s subjects found under %s (searched %s); data_root must be the dataset directory itself, not a parent of it or a subfolder",
			r.rule.ID, cfg.DataRoot, strings.Join(disc.Patterns, ", "))
		r.logger.Warn("no subjects", slog.String("diagnostic", sum.Diagnostic))
		return sum, nil
	}

	selected := make([]Group, 0, len(disc.Groups))
	for i, g := range disc.Groups {
		ok, err := filter.Match(expr.Subject{
			Dataset:     r.rule.ID,
			ID:          g.Subject,
			Signal:      g.Signal,
			Annotation:  g.Annotation,
			SignalBytes: g.SignalBytes,
			Index:       i,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			sum.Filtered++
			continue
		}
		selected = append(selected, g)
	}
	if cfg.MaxSubjects > 0 && len(selected) > cfg.MaxSubjects {
		selected = selected[:cfg.MaxSubjects]
	}

	r.logger.Info("run started",
		slog.String("run_id", r.runID),
		slog.String("dataset", r.rule.ID),
		slog.String("discovered", humanize.Comma(int64(sum.Discovered))),
		slog.Int("selected", len(selected)),
		slog.Int("filtered", sum.Filtered),
		slog.Any("leads", r.leads))

	outcomes := make([]Outcome, len(selected))
	recorded := make([]bool, len(selected))
	var pending []int
	for i, g := range selected {
		if cfg.Resume && r.ledger != nil {
			done, err := r.ledger.Done(r.rule.ID, g.Subject)
			if err != nil {
				return nil, fmt.Errorf("ledger: %w", err)
			}
			if done {
				outcomes[i] = Outcome{
					Subject:    g.Subject,
					Signal:     g.Signal,
					Annotation: g.Annotation,
					Status:     StatusSkipped,
				}
				recorded[i] = true
				continue
			}
		}
		pending = append(pending, i)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var eg errgroup.Group
	eg.SetLimit(workers)
	for _, i := range pending {
		if ctx.Err() != nil {
			break
		}
		recorded[i] = true
		eg.Go(func() error {
			outcomes[i] = r.process(ctx, selected[i])
			return nil
		})
	}
	_ = eg.Wait()

	for i, o := range outcomes {
		if recorded[i] {
			sum.Add(o)
		}
	}
	sum.Elapsed = time.Since(started)

	r.logger.Info("run finished",
		slog.String("run_id", r.runID),
		slog.Int("succeeded", sum.Succeeded),
		slog.Int("failed", sum.Failed),
		slog.Int("skipped", sum.Skipped),
		slog.String("written", humanize.Bytes(uint64(sum.Bytes))),
		slog.Duration("elapsed", sum.Elapsed))

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

func newRunner(cfg Config) (*runner, error) {
	rule, err := cfg.Registry.Resolve(cfg.Dataset)
	if err != nil {
		return nil, err
	}

	r := &runner{
		cfg:          cfg,
		rule:         rule,
		runID:        uuid.NewString(),
		leads:        cfg.Leads,
		epochSeconds: rule.EpochSeconds,
		minEp:        cfg.MinEpochs,
		logger:       cfg.Logger.With("component", "pipeline", "dataset", rule.ID),
	}
	if len(r.leads) == 0 {
		r.leads = rule.Leads
	}
	if cfg.EpochSeconds > 0 {
		r.epochSeconds = cfg.EpochSeconds
	}
	if r.minEp == 0 {
		r.minEp = cfg.SeqLen
	}

	if r.reader, err = reader.New(rule.SignalFormat, rule.ReaderOptions()); err != nil {
		return nil, err
	}
	annOpts := rule.AnnotationOptions()
	annOpts.Policy = cfg.AnnotationPolicy
	if cfg.MaxGapEpochs > 0 {
		annOpts.MaxGapEpochs = cfg.MaxGapEpochs
	}
	if r.parser, err = annotation.New(rule.AnnotationFormat, annOpts); err != nil {
		return nil, err
	}

	opts := []channel.Option{
		channel.WithFuzzy(!cfg.DisableFuzzy),
		channel.WithHemisphereFallback(cfg.HemisphereFallback),
		channel.WithAutoInfer(cfg.AutoInfer || rule.AutoInfer),
	}
	if len(cfg.Excluded) > 0 {
		opts = append(opts, channel.WithExcluded(cfg.Excluded...))
	}
	r.resolver = channel.NewResolver(opts...)

	condCfg := cfg.Condition
	condCfg.TargetRate = cfg.TargetRate
	if condCfg.Logger == nil {
		condCfg.Logger = cfg.Logger
	}
	if r.cond, err = condition.New(condCfg); err != nil {
		return nil, err
	}

	if cfg.LedgerPath != "" {
		if r.ledger, err = ledger.Open(ledger.Config{Path: cfg.LedgerPath, Logger: cfg.Logger}); err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		if err := r.ledger.BeginRun(r.runID); err != nil {
			r.ledger.Close()
			return nil, fmt.Errorf("ledger: %w", err)
		}
	}
	return r, nil
}

// process runs one subject through every stage. It never returns an error;
// failures are reported in the Outcome.
func (r *runner) process(ctx context.Context, g Group) Outcome {
	start := time.Now()
	out := Outcome{
		Subject:    g.Subject,
		Signal:     g.Signal,
		Annotation: g.Annotation,
		Status:     StatusOK,
	}
	logger := r.logger.With(slog.String("subject", g.Subject))

	fail := func(stage string, err error) Outcome {
		out.Status = StatusFailed
		out.Reason = stage
		out.Err = &StageError{Subject: g.Subject, Stage: stage, Err: err}
		out.Duration = time.Since(start)
		if r.ledger != nil {
			if lerr := r.ledger.MarkFailed(r.rule.ID, g.Subject, stage, err); lerr != nil {
				logger.Error("ledger update failed", slog.Any("error", lerr))
			}
		}
		logger.Warn("subject failed", slog.String("stage", stage), slog.Any("error", err))
		return out
	}

	if r.ledger != nil {
		if err := r.ledger.MarkStarted(r.runID, r.rule.ID, g.Subject, g.Signal, g.Annotation); err != nil {
			out.Status, out.Reason = StatusFailed, StageLedger
			out.Err = &StageError{Subject: g.Subject, Stage: StageLedger, Err: err}
			out.Duration = time.Since(start)
			return out
		}
	}

	rec, track, stage, err := r.load(g)
	if err != nil {
		return fail(stage, err)
	}

	mapping, err := r.resolver.Resolve(rec.Labels(), r.rule.Aliases, r.leads)
	if err != nil {
		return fail(StageResolve, err)
	}
	for _, mt := range mapping.Matches {
		if mt.Substitute != "" {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s stands in for missing %s (%q)", mt.Substitute, mt.Lead, mt.Label))
		}
	}
	for _, lead := range mapping.Unreferenced {
		out.Warnings = append(out.Warnings, fmt.Sprintf("no reference channel for %s; used as recorded", lead))
	}

	if err := ctx.Err(); err != nil {
		return fail(StageCondition, err)
	}
	sig, err := r.cond.Condition(rec, mapping)
	if err != nil {
		return fail(StageCondition, err)
	}
	for i, bad := range sig.Degenerate {
		if bad {
			out.Warnings = append(out.Warnings, fmt.Sprintf("channel %s is flat or non-finite; left unnormalized", sig.Leads[i]))
		}
	}
	for i, skipped := range sig.Unfiltered {
		if skipped {
			out.Warnings = append(out.Warnings, fmt.Sprintf("channel %s is sampled too slowly for its high-pass; high-pass skipped", sig.Leads[i]))
		}
	}

	aligned, err := epoch.Align(sig, track, r.epochSeconds, r.cfg.TargetRate, epoch.Options{MinEpochs: r.minEp})
	if err != nil {
		return fail(StageAlign, err)
	}
	out.Warnings = append(out.Warnings, aligned.Warnings...)

	seqs, err := epoch.Pack(aligned.Epochs, r.cfg.SeqLen, r.cfg.Stride)
	if err != nil {
		return fail(StagePack, err)
	}
	if len(seqs) == 0 {
		return fail(StagePack, &epoch.InsufficientDataError{
			SignalEpochs: aligned.SignalEpochs,
			LabelEpochs:  aligned.LabelEpochs,
			Usable:       aligned.Usable,
			Required:     r.cfg.SeqLen,
		})
	}

	w, err := newSubjectWriter(r.cfg.OutRoot, r.rule.ID, g.Subject)
	if err != nil {
		return fail(StageWrite, err)
	}
	for i := range seqs {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return fail(StageWrite, err)
		}
		if err := w.Write(&seqs[i]); err != nil {
			w.Abort()
			return fail(StageWrite, err)
		}
	}

	out.Sequences = len(seqs)
	out.Epochs = aligned.Usable
	out.Bytes = w.Bytes()
	out.Checksum = w.Sum64()
	out.Duration = time.Since(start)

	if r.ledger != nil {
		err := r.ledger.MarkDone(r.rule.ID, g.Subject, ledger.Completion{
			Sequences: out.Sequences,
			Epochs:    out.Epochs,
			Bytes:     out.Bytes,
			Checksum:  out.Checksum,
		})
		if err != nil {
			logger.Error("ledger update failed", slog.Any("error", err))
		}
	}

	for _, msg := range out.Warnings {
		logger.Warn(msg)
	}
	logger.Info("subject written",
		slog.Int("sequences", out.Sequences),
		slog.Int("epochs", out.Epochs),
		slog.String("bytes", humanize.Bytes(uint64(out.Bytes))),
		slog.Duration("took", out.Duration))
	return out
}

// load reads the signal and parses the labels concurrently. When both fail
// the read error is reported, so the recorded stage does not depend on
// which goroutine finished first.
func (r *runner) load(g Group) (*reader.Recording, *annotation.Track, string, error) {
	var (
		rec              *reader.Recording
		track            *annotation.Track
		readErr, annoErr error
		eg               errgroup.Group
	)
	eg.Go(func() error {
		rec, readErr = r.reader.Read(g.Signal)
		return nil
	})
	eg.Go(func() error {
		track, annoErr = r.parser.Parse(g.Annotation, r.epochSeconds)
		return nil
	})
	_ = eg.Wait()
	if readErr != nil {
		return nil, nil, StageRead, readErr
	}
	if annoErr != nil {
		return nil, nil, StageAnnotation, annoErr
	}
	return rec, track, "", nil
}
