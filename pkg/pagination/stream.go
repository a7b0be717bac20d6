package pagination

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/codemao-client/pkg/client"
	"github.com/Sternrassler/codemao-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for paged streams.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codemao_pages_total",
		Help: "Total pages processed by outcome",
	}, []string{"outcome"})

	streamItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codemao_stream_items_total",
		Help: "Total items yielded by paged streams",
	})
)

// ErrStreamConsumed is yielded when a stream is ranged over a second time.
var ErrStreamConsumed = errors.New("stream already consumed")

// Stream returns a single-pass sequence over every item of a paged list.
//
// The first request seeds the plan and doubles as page 0 unless req.Params
// already select a different offset, in which case page 0 is fetched like
// any other page. Remaining pages are fetched with at most MaxInFlightPages
// in flight and are yielded in completion order; items within a page keep
// their order. Page failures are
// yielded as *PageError and item decode failures as errors in place; neither
// ends the sequence. With req.Limit set, exactly Limit items are yielded (when
// available) and no page is scheduled whose items could not be needed.
// Fetches already in flight when the sequence stops run to completion and
// their items are discarded.
func Stream[T any](ctx context.Context, exec Executor, req Request) iter.Seq2[T, error] {
	var consumed atomic.Bool

	return func(yield func(T, error) bool) {
		if consumed.Swap(true) {
			var zero T
			yield(zero, ErrStreamConsumed)
			return
		}

		logger := logging.NewLogger("pagination")
		s := &streamer[T]{
			exec:   exec,
			req:    req.withDefaults(),
			yield:  yield,
			logger: logger.With().Str("endpoint", req.Endpoint).Logger(),
		}
		s.run(ctx)
	}
}

// Collect drains seq, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

type pageResult[T any] struct {
	page Page[T]
	err  error
}

type streamer[T any] struct {
	exec   Executor
	req    Request
	yield  func(T, error) bool
	logger zerolog.Logger

	pageSize int
	yielded  int
	pages    int
}

func (s *streamer[T]) run(ctx context.Context) {
	var zero T
	start := time.Now()

	initial, err := s.exec.Execute(ctx, s.req.spec(s.req.Params))
	if err != nil {
		s.yield(zero, err)
		return
	}

	plan, err := NewPlan(initial.Body, s.req.Params, s.req.TotalKey, *s.req.Fields)
	if err != nil {
		s.yield(zero, err)
		return
	}

	s.logger.Info().
		Int("total", plan.Total).
		Int("page_size", plan.PageSize).
		Int("total_pages", plan.TotalPages).
		Str("strategy", string(s.req.Strategy)).
		Int("limit", s.req.Limit).
		Msg("Starting paged stream")

	defer func() {
		s.logger.Info().
			Int("items", s.yielded).
			Int("pages", s.pages).
			Dur("duration", time.Since(start)).
			Msg("Paged stream finished")
	}()

	if !s.req.Strategy.Valid() {
		for page := 0; page < plan.TotalPages; page++ {
			_, err := plan.PageParams(page, s.req.Strategy)
			if !s.fail(page, err) {
				return
			}
		}
		return
	}

	s.pageSize = plan.PageSize

	next := 0
	if plan.CoversFirstPage(s.req.Params, s.req.Strategy) {
		next = 1
		first, err := DecodePage[T](0, initial.Body, s.req.DataKey, *s.req.Fields)
		if err != nil {
			if !s.fail(0, err) {
				return
			}
		} else if !s.emit(first) {
			return
		}
	} else {
		s.logger.Debug().
			Str("offset", s.req.Params.Get(s.req.Fields.OffsetKey)).
			Msg("Initial response is not page 0, refetching")
	}

	s.fanOut(ctx, plan, next)
}

// fanOut fetches pages next..TotalPages-1 with bounded concurrency.
func (s *streamer[T]) fanOut(ctx context.Context, plan Plan, next int) {
	results := make(chan pageResult[T])
	stop := make(chan struct{})

	var g errgroup.Group
	g.SetLimit(MaxInFlightPages)
	defer func() {
		close(stop)
		_ = g.Wait()
	}()

	inflight := 0
	for {
		for next < plan.TotalPages && inflight < MaxInFlightPages && s.budgetAllows(inflight, plan.PageSize) && ctx.Err() == nil {
			page := next
			params, err := plan.PageParams(page, s.req.Strategy)
			if err != nil {
				if !s.fail(page, err) {
					return
				}
				next++
				continue
			}

			s.logger.Debug().Int("page", page).Int("in_flight", inflight+1).Msg("Scheduling page")
			g.Go(func() error {
				p, err := FetchPage[T](ctx, s.exec, s.req, page, params)
				select {
				case results <- pageResult[T]{page: p, err: err}:
				case <-stop:
					s.logger.Debug().Int("page", page).Msg("Discarding page fetched after stop")
				}
				return nil
			})
			next++
			inflight++
		}

		if inflight == 0 {
			break
		}

		res := <-results
		inflight--

		if res.err != nil {
			if !s.fail(res.page.Index, res.err) {
				return
			}
			continue
		}
		if !s.emit(res.page) {
			return
		}
	}

	if next < plan.TotalPages && ctx.Err() != nil {
		var zero T
		s.yield(zero, fmt.Errorf("%w: %w", client.ErrContextCancelled, ctx.Err()))
	}
}

// budgetAllows reports whether another page could still contribute items
// under the limit, counting pages in flight as full.
func (s *streamer[T]) budgetAllows(inflight, pageSize int) bool {
	if s.req.Limit <= 0 {
		return true
	}
	return s.yielded+inflight*pageSize < s.req.Limit
}

// emit yields the page's items and reports whether to continue.
func (s *streamer[T]) emit(p Page[T]) bool {
	pagesTotal.WithLabelValues("ok").Inc()
	s.pages++

	if want := p.Index * s.pageSize; p.HasOffset && s.req.Strategy == StrategyOffset && p.Offset != want {
		s.logger.Warn().
			Int("page", p.Index).
			Int("offset", p.Offset).
			Int("expected_offset", want).
			Msg("Response offset differs from requested offset")
	}

	if s.req.Limit > 0 {
		p = p.Take(s.req.Limit - s.yielded)
		if p.Capped {
			s.logger.Debug().Int("page", p.Index).Int("limit", s.req.Limit).Msg("Limit reached mid-page")
		}
	}

	var zero T
	for _, item := range p.Items {
		if item.Err != nil {
			if !s.yield(zero, fmt.Errorf("page %d: %w", p.Index, item.Err)) {
				return false
			}
			continue
		}
		s.yielded++
		streamItemsTotal.Inc()
		if !s.yield(item.Value, nil) {
			return false
		}
	}

	return s.req.Limit <= 0 || s.yielded < s.req.Limit
}

// fail yields a page-level error and reports whether to continue.
func (s *streamer[T]) fail(page int, err error) bool {
	pagesTotal.WithLabelValues("error").Inc()
	s.pages++
	s.logger.Warn().Err(err).Int("page", page).Msg("Page failed")

	var zero T
	return s.yield(zero, &PageError{Page: page, Err: err})
}
