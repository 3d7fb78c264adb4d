// Package pipeline runs roster rows through district lookup and merges the
// results back into the rows.
package pipeline

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/atx-organizing/district-cli/internal/model"
	"github.com/atx-organizing/district-cli/internal/store"
	"github.com/atx-organizing/district-cli/pkg/districts"
	"github.com/atx-organizing/district-cli/pkg/geocode"
)

// RunRecorder persists run records; the store satisfies it.
type RunRecorder interface {
	StartRun(ctx context.Context, input string) (*store.Run, error)
	FinishRun(ctx context.Context, runID string, counts store.RunCounts) error
}

// Summary reports per-record outcomes of one run.
type Summary struct {
	store.RunCounts
	RunID string
}

// Pipeline enriches members with their council district.
type Pipeline struct {
	lookup      districts.Service
	corrector   geocode.Client
	recorder    RunRecorder
	pacer       *rate.Limiter
	concurrency int
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithCorrector enables the address-correction stage: addresses are cleaned
// by the geocoder before lookup, improving match accuracy at the cost of
// quota.
func WithCorrector(c geocode.Client) Option {
	return func(p *Pipeline) {
		p.corrector = c
	}
}

// WithRecorder persists a run record per invocation.
func WithRecorder(r RunRecorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithInterval paces lookups so the municipal endpoints see at most one
// request per interval across all workers.
func WithInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.pacer = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithConcurrency bounds the worker pool.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// New creates a Pipeline over the given lookup service.
func New(lookup districts.Service, opts ...Option) *Pipeline {
	p := &Pipeline{
		lookup:      lookup,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes members and returns the augmented rows, exactly one output
// row per input row, in input order. Per-record failures mark that record
// unknown and never abort the batch; the only errors returned are context
// cancellation and run-record persistence failures.
func (p *Pipeline) Run(ctx context.Context, input string, members []model.Member) ([]model.Member, *Summary, error) {
	summary := &Summary{}
	summary.Total = len(members)

	if p.recorder != nil {
		run, err := p.recorder.StartRun(ctx, input)
		if err != nil {
			return nil, nil, eris.Wrap(err, "pipeline: start run")
		}
		summary.RunID = run.ID
	}

	out := make([]model.Member, len(members))
	var matched, unknown, ambiguous, skipped atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, m := range members {
		g.Go(func() error {
			if gCtx.Err() != nil {
				out[i] = m
				return gCtx.Err()
			}

			result, err := p.process(gCtx, m)
			if err != nil {
				out[i] = m
				return err
			}

			switch result.status {
			case districts.StatusMatched:
				matched.Add(1)
			case districts.StatusAmbiguous:
				ambiguous.Add(1)
			case districts.StatusUnknown, districts.StatusError:
				unknown.Add(1)
			case statusPassthrough:
				// already augmented, nothing to count
			case statusSkipped:
				skipped.Add(1)
				unknown.Add(1)
			}

			out[i] = result.member
			return nil
		})
	}

	waitErr := g.Wait()

	summary.Matched = int(matched.Load())
	summary.Unknown = int(unknown.Load())
	summary.Ambiguous = int(ambiguous.Load())
	summary.Skipped = int(skipped.Load())

	if p.recorder != nil {
		// Closed even when the batch was cancelled, with whatever counts
		// accumulated, so the run row never dangles unfinished.
		if err := p.recorder.FinishRun(context.WithoutCancel(ctx), summary.RunID, summary.RunCounts); err != nil {
			if waitErr == nil {
				return nil, nil, eris.Wrap(err, "pipeline: finish run")
			}
			zap.L().Warn("pipeline: finish run", zap.Error(err))
		}
	}

	if waitErr != nil {
		return nil, nil, eris.Wrap(waitErr, "pipeline: run")
	}

	zap.L().Info("pipeline complete",
		zap.Int("total", summary.Total),
		zap.Int("matched", summary.Matched),
		zap.Int("unknown", summary.Unknown),
		zap.Int("ambiguous", summary.Ambiguous),
		zap.Int("address_skipped", summary.Skipped),
	)

	return out, summary, nil
}

// Pseudo-statuses for outcomes that never reach the lookup service.
const (
	statusPassthrough districts.Status = "passthrough"
	statusSkipped     districts.Status = "skipped"
)

type processed struct {
	member model.Member
	status districts.Status
}

func (p *Pipeline) process(ctx context.Context, m model.Member) (processed, error) {
	log := zap.L().With(zap.Int("row", m.Row), zap.String("member", m.DisplayName()))

	// Rows augmented by an earlier run pass through untouched.
	if m.HasDistrict() {
		log.Debug("district already present, passing through")
		return processed{member: m, status: statusPassthrough}, nil
	}

	addr := m.Address()
	if err := addr.Validate(); err != nil {
		log.Warn("address incomplete, marking unknown", zap.Error(err))
		return processed{
			member: Merge(m, districts.Result{Status: districts.StatusUnknown, Note: "address incomplete"}),
			status: statusSkipped,
		}, nil
	}

	input := toLookupInput(addr)

	var correctedAddr string
	if p.corrector != nil {
		if corrected, err := p.corrector.Geocode(ctx, input); err == nil && corrected.Matched {
			correctedAddr = corrected.MatchedAddress
			input = geocode.AddressInput{Street: correctedAddr}
		}
	}

	if p.pacer != nil {
		if err := p.pacer.Wait(ctx); err != nil {
			return processed{}, err
		}
	}

	result, err := p.lookup.DistrictFor(ctx, input)
	if err != nil {
		return processed{}, err
	}
	if result.GeocodedAddress == "" {
		result.GeocodedAddress = correctedAddr
	}

	log.Info("lookup complete",
		zap.String("status", string(result.Status)),
		zap.String("district", result.District),
		zap.String("source", result.Source),
	)

	return processed{member: Merge(m, *result), status: result.Status}, nil
}

// toLookupInput flattens the roster address into the lookup input shape.
func toLookupInput(a model.Address) geocode.AddressInput {
	street := a.Street
	if a.Street2 != "" {
		street = strings.TrimSpace(street + " " + a.Street2)
	}
	return geocode.AddressInput{
		Street: street,
		City:   a.City,
		State:  a.State,
		Zip:    a.Zip,
	}
}
