// Package pipeline runs normalization and resampling for many instruments
// on a bounded worker pool and keeps a ledger of per-instrument failures.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/shared"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Failure stages.
const (
	StageLoad      = "load"
	StageDispatch  = "dispatch"
	StageNormalize = "normalize"
	StageAggregate = "aggregate"
	StagePublish   = "publish"
)

// Failure kinds.
const (
	KindMalformed = "malformed_input"
	KindEmpty     = "empty_input"
	KindDeadline  = "deadline"
	KindDuplicate = "duplicate_instrument"
	KindSink      = "sink"
	KindInternal  = "internal"
)

// Input is one instrument's raw rows. Err is set by sources that failed to
// load the instrument; such inputs go straight to the ledger.
type Input struct {
	Instrument string
	Rows       []ohlcv.RawRow
	Err        error
}

// Sink receives every (instrument, timeframe) series of an instrument once
// all of that instrument's stages have succeeded.
type Sink interface {
	Write(ctx context.Context, instrument, timeframe string, s ohlcv.Series) error
}

// Key addresses one output series.
type Key struct {
	Instrument string
	Timeframe  string
}

// Failure is one ledger entry.
type Failure struct {
	Instrument string `json:"instrument"`
	Stage      string `json:"stage"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
}

// Result is what a batch returns: every successful output plus the ledger.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Outputs  map[Key]ohlcv.Series
	Stats    map[string]ohlcv.Stats
	Failures []Failure
}

// Succeeded lists instruments that completed every stage, sorted.
func (r Result) Succeeded() []string {
	out := make([]string, 0, len(r.Stats))
	for inst := range r.Stats {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// Options configures a Pipeline. Zero values fall back to the defaults.
type Options struct {
	Session    ohlcv.Session
	Timeframes []ohlcv.Timeframe
	Workers    int
	Timeout    time.Duration
	BaseLabel  string
	EmitBase   bool
	Sink       Sink
	Logger     shared.Logger
	Registerer prometheus.Registerer
}

type Pipeline struct {
	normalizer *ohlcv.Normalizer
	timeframes []ohlcv.Timeframe
	workers    int
	timeout    time.Duration
	baseLabel  string
	emitBase   bool
	sink       Sink
	log        shared.Logger
	metrics    *Metrics
}

func New(opts Options) (*Pipeline, error) {
	session := opts.Session
	if session.Step == 0 && len(session.Weekdays) == 0 {
		session = ohlcv.DefaultSession()
	}
	norm, err := ohlcv.NewNormalizer(session)
	if err != nil {
		return nil, err
	}
	tfs := opts.Timeframes
	if len(tfs) == 0 {
		tfs = ohlcv.DefaultTimeframes()
	}
	seen := map[string]bool{}
	for _, tf := range tfs {
		if err := tf.Validate(); err != nil {
			return nil, err
		}
		if seen[tf.Name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ohlcv.ErrUnknownTimeframe, tf.Name)
		}
		seen[tf.Name] = true
	}
	base := opts.BaseLabel
	if base == "" {
		base = "1min"
	}
	if opts.EmitBase && seen[base] {
		return nil, fmt.Errorf("base label %q collides with a timeframe", base)
	}
	log := opts.Logger
	if log == nil {
		log = shared.NopLogger()
	}
	return &Pipeline{
		normalizer: norm,
		timeframes: tfs,
		workers:    max(opts.Workers, 1),
		timeout:    opts.Timeout,
		baseLabel:  base,
		emitBase:   opts.EmitBase,
		sink:       opts.Sink,
		log:        log,
		metrics:    NewMetrics(opts.Registerer),
	}, nil
}

// outcome is what a worker sends back to the collector.
type outcome struct {
	instrument string
	stats      ohlcv.Stats
	outputs    map[string]ohlcv.Series
	failure    *Failure
}

// Run processes every input and always returns both the successful
// outputs and the failure ledger. When the batch deadline passes, inputs
// that have not started are recorded as failures; started ones finish.
func (p *Pipeline) Run(ctx context.Context, inputs []Input) Result {
	res := Result{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
		Outputs: make(map[Key]ohlcv.Series),
		Stats:   make(map[string]ohlcv.Stats),
	}
	log := p.log.With("run_id", res.RunID)
	log.Printf("[pipeline] start instruments=%d timeframes=%d workers=%d", len(inputs), len(p.timeframes), p.workers)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	results := make(chan outcome, len(inputs))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for o := range results {
			if o.failure != nil {
				p.metrics.instruments.WithLabelValues("failed").Inc()
				res.Failures = append(res.Failures, *o.failure)
				continue
			}
			p.metrics.instruments.WithLabelValues("ok").Inc()
			res.Stats[o.instrument] = o.stats
			for tf, s := range o.outputs {
				res.Outputs[Key{Instrument: o.instrument, Timeframe: tf}] = s
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(p.workers)
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if seen[in.Instrument] {
			results <- fail(in.Instrument, StageDispatch, KindDuplicate, errors.New("instrument appears more than once in batch"))
			continue
		}
		seen[in.Instrument] = true
		if err := ctx.Err(); err != nil {
			results <- fail(in.Instrument, StageDispatch, KindDeadline, fmt.Errorf("not started: %w", err))
			continue
		}
		g.Go(func() error {
			results <- p.process(ctx, log, in)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	<-done

	sort.SliceStable(res.Failures, func(i, j int) bool {
		return res.Failures[i].Instrument < res.Failures[j].Instrument
	})
	res.Finished = time.Now().UTC()
	log.Printf("[pipeline] done ok=%d failed=%d outputs=%d took=%s",
		len(res.Stats), len(res.Failures), len(res.Outputs), res.Finished.Sub(res.Started))
	return res
}

func (p *Pipeline) process(ctx context.Context, log shared.Logger, in Input) outcome {
	if in.Err != nil {
		return fail(in.Instrument, StageLoad, kindOf(in.Err), in.Err)
	}
	if err := ctx.Err(); err != nil {
		return fail(in.Instrument, StageDispatch, KindDeadline, fmt.Errorf("not started: %w", err))
	}
	p.metrics.inflight.Inc()
	defer p.metrics.inflight.Dec()

	o, err := p.transform(in)
	if err == nil {
		err = p.publish(context.WithoutCancel(ctx), in.Instrument, o.outputs)
	}
	if err != nil {
		var f *stageError
		if !errors.As(err, &f) {
			f = &stageError{stage: StageNormalize, err: err}
		}
		kind := kindOf(f.err)
		if f.stage == StagePublish && kind == KindInternal {
			kind = KindSink
		}
		log.Warnf("[pipeline] instrument=%s stage=%s failed: %v", in.Instrument, f.stage, f.err)
		return fail(in.Instrument, f.stage, kind, f.err)
	}

	if o.stats.BackwardFilled > 0 {
		log.Warnf("[pipeline] instrument=%s leading gap of %d bars filled from later data", in.Instrument, o.stats.BackwardFilled)
	}
	return o
}

// transform normalizes once and resamples the single normalized series
// for every timeframe.
func (p *Pipeline) transform(in Input) (outcome, error) {
	o := outcome{instrument: in.Instrument, outputs: make(map[string]ohlcv.Series, len(p.timeframes)+1)}

	start := time.Now()
	normalized, stats, err := p.normalizer.NormalizeWithStats(in.Rows)
	p.metrics.stageSeconds.WithLabelValues(StageNormalize).Observe(time.Since(start).Seconds())
	if err != nil {
		return o, &stageError{stage: StageNormalize, err: err}
	}
	o.stats = stats
	p.metrics.observeStats(stats)

	if p.emitBase {
		o.outputs[p.baseLabel] = normalized
	}
	start = time.Now()
	for _, tf := range p.timeframes {
		agg, err := ohlcv.Aggregate(normalized, tf)
		if err != nil {
			return o, &stageError{stage: StageAggregate, err: fmt.Errorf("%s: %w", tf.Name, err)}
		}
		o.outputs[tf.Name] = agg
	}
	p.metrics.stageSeconds.WithLabelValues(StageAggregate).Observe(time.Since(start).Seconds())
	return o, nil
}

func (p *Pipeline) publish(ctx context.Context, instrument string, outputs map[string]ohlcv.Series) error {
	for _, label := range p.labels() {
		s, ok := outputs[label]
		if !ok {
			continue
		}
		p.metrics.barsOut.WithLabelValues(label).Add(float64(len(s)))
		if p.sink == nil {
			continue
		}
		start := time.Now()
		err := p.sink.Write(ctx, instrument, label, s)
		p.metrics.stageSeconds.WithLabelValues(StagePublish).Observe(time.Since(start).Seconds())
		if err != nil {
			return &stageError{stage: StagePublish, err: fmt.Errorf("%s: %w", label, err)}
		}
	}
	return nil
}

// labels is the publish order: base series first, then timeframes as
// configured.
func (p *Pipeline) labels() []string {
	out := make([]string, 0, len(p.timeframes)+1)
	if p.emitBase {
		out = append(out, p.baseLabel)
	}
	for _, tf := range p.timeframes {
		out = append(out, tf.Name)
	}
	return out
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func fail(instrument, stage, kind string, err error) outcome {
	return outcome{instrument: instrument, failure: &Failure{
		Instrument: instrument,
		Stage:      stage,
		Kind:       kind,
		Reason:     err.Error(),
	}}
}

func kindOf(err error) string {
	switch {
	case ohlcv.IsMalformed(err):
		return KindMalformed
	case ohlcv.IsEmptyInput(err):
		return KindEmpty
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindDeadline
	}
	return KindInternal
}
