package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// Ensure FederatedSearchService implements the interface.
var _ driving.FederatedSearch = (*FederatedSearchService)(nil)

const (
	// defaultSourceLimit caps candidates requested from each source when
	// the request has no limit.
	defaultSourceLimit = 50

	// minSearchMargin is the smallest gap kept between a per-source call
	// deadline and the overall deadline.
	minSearchMargin = 10 * time.Millisecond
)

// FederatedSearchService fans a query out to live sources and merges
// whatever comes back before the deadline.
type FederatedSearchService struct {
	config driven.ConfigProvider
	pool   *AdapterPool
	sink   driven.EventSink
}

// NewFederatedSearchService creates a new collector. sink may be nil.
func NewFederatedSearchService(config driven.ConfigProvider, pool *AdapterPool, sink driven.EventSink) *FederatedSearchService {
	return &FederatedSearchService{config: config, pool: pool, sink: sink}
}

// answer is one source's reply.
type answer struct {
	source     string
	candidates []domain.Candidate
	err        error
}

// Search queries the selected sources in parallel.
// Sources that fail or miss the deadline are listed in NonResponding;
// the call only fails when no source answers.
//
//nolint:gocognit // Fan-out, deadline and merge in one place
func (s *FederatedSearchService) Search(ctx context.Context, req domain.SearchRequest) (*domain.FederatedResult, error) {
	start := time.Now()
	cfg := s.config.Current()
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration loaded", domain.ErrConfig)
	}

	deadline, perSource := s.budget(cfg.Engine, req.Deadline)
	selected, rejected := selectSources(cfg, req.Sources)

	result := &domain.FederatedResult{Errors: make(map[string]string)}
	for name, err := range rejected {
		result.NonResponding = append(result.NonResponding, name)
		result.Errors[name] = err.Error()
	}

	logger.Section("Federated search")
	logger.Debug("query %q over %d sources (deadline %s, per-source %s)", req.Query, len(selected), deadline, perSource)

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSourceLimit
	}

	answers := make(chan answer, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range selected {
		g.Go(func() error {
			answers <- s.ask(gctx, src, req.Query, limit, perSource)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(answers)
	}()

	// Sources that ignore cancellation are abandoned at the deadline;
	// their goroutines drain into the buffered channel.
	timer := time.NewTimer(perSource)
	defer timer.Stop()

	got := make(map[string]answer, len(selected))
collect:
	for len(got) < len(selected) {
		select {
		case a, ok := <-answers:
			if !ok {
				break collect
			}
			got[a.source] = a
		case <-timer.C:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	perSourceResults := make(map[string][]domain.Candidate, len(got))
	var errs []error
	for _, src := range selected {
		a, ok := got[src.Name]
		switch {
		case !ok:
			err := domain.NewSourceError(domain.ErrQueryTimeout, src.Name, "search", context.DeadlineExceeded)
			errs = append(errs, err)
			result.NonResponding = append(result.NonResponding, src.Name)
			result.Errors[src.Name] = err.Error()
		case a.err != nil:
			errs = append(errs, a.err)
			result.NonResponding = append(result.NonResponding, src.Name)
			result.Errors[src.Name] = a.err.Error()
		default:
			perSourceResults[src.Name] = a.candidates
		}
	}
	sort.Strings(result.NonResponding)
	result.Latency = time.Since(start)

	if len(perSourceResults) == 0 {
		logger.Warn("federated search: no source responded (%d tried)", len(selected))
		if len(errs) == 0 {
			errs = append(errs, errors.New("no enabled sources selected"))
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrAggregateFailure, errors.Join(errs...))
	}

	result.Candidates = Rank(RankInput{
		Results:  perSourceResults,
		Weights:  weights(cfg, req.Weights),
		Priority: priorities(cfg),
	})
	if req.Limit > 0 && len(result.Candidates) > req.Limit {
		result.Candidates = result.Candidates[:req.Limit]
	}

	logger.Info("federated search: %d candidates from %d sources, %d non-responding, %s",
		len(result.Candidates), len(perSourceResults), len(result.NonResponding), result.Latency)

	emit(ctx, s.sink, domain.Event{
		Kind: domain.EventQueryResult,
		At:   time.Now(),
		Payload: domain.QueryEvent{
			Query:         req.Query,
			Candidates:    len(result.Candidates),
			NonResponding: result.NonResponding,
			Latency:       result.Latency,
		},
	})
	return result, nil
}

// ask runs one source's search under its own deadline.
func (s *FederatedSearchService) ask(ctx context.Context, src domain.SourceConfig, query string, limit int, timeout time.Duration) answer {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	adapter, err := s.pool.Get(ctx, src)
	if err != nil {
		return answer{source: src.Name, err: domain.Translate(src.Name, "connect", err)}
	}
	cands, err := adapter.Search(ctx, query, limit)
	if err != nil {
		return answer{source: src.Name, err: domain.Translate(src.Name, "search", err)}
	}
	logger.Debug("%s returned %d candidates", src.Name, len(cands))
	return answer{source: src.Name, candidates: cands}
}

// budget resolves the overall deadline and the per-source call timeout.
func (s *FederatedSearchService) budget(engine domain.EngineSettings, requested time.Duration) (deadline, perSource time.Duration) {
	deadline = requested
	if deadline <= 0 {
		deadline = engine.SearchDeadline
	}
	if deadline <= 0 {
		deadline = domain.DefaultEngineSettings().SearchDeadline
	}
	margin := max(engine.SearchMargin, minSearchMargin)
	if margin >= deadline {
		margin = deadline / 10
	}
	return deadline, deadline - margin
}

// selectSources returns the enabled sources to query in declaration order,
// plus the requested names that cannot be queried.
func selectSources(cfg *domain.Config, names []string) ([]domain.SourceConfig, map[string]error) {
	if len(names) == 0 {
		return cfg.EnabledSources(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var selected []domain.SourceConfig
	rejected := make(map[string]error)
	for _, src := range cfg.Sources {
		if !want[src.Name] {
			continue
		}
		delete(want, src.Name)
		if !src.Enabled {
			rejected[src.Name] = fmt.Errorf("%w: source %s is disabled", domain.ErrConfig, src.Name)
			continue
		}
		selected = append(selected, src)
	}
	for name := range want {
		rejected[name] = fmt.Errorf("source %s: %w", name, domain.ErrNotFound)
	}
	return selected, rejected
}

func weights(cfg *domain.Config, override map[string]float64) map[string]float64 {
	w := make(map[string]float64, len(cfg.Sources))
	for _, src := range cfg.Sources {
		w[src.Name] = src.Weight
	}
	for name, v := range override {
		if v >= 0 {
			w[name] = v
		}
	}
	return w
}

func priorities(cfg *domain.Config) map[string]int {
	p := make(map[string]int, len(cfg.Sources))
	for i, src := range cfg.Sources {
		p[src.Name] = i
	}
	return p
}
