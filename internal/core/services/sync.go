package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-federation/internal/core/domain"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-federation/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-federation/internal/logger"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

// SyncOrchestrator runs sync cycles across all enabled sources.
// Tasks run on a bounded pool; a failing or slow source never affects
// another source's task or cursor.
type SyncOrchestrator struct {
	config   driven.ConfigProvider
	factory  driven.AdapterFactory
	cursors  driven.CursorStore
	results  driven.ResultStore
	index    driven.IndexWriter
	registry *SchemaRegistry
	sink     driven.EventSink
	policy   BackoffPolicy
	now      func() time.Time

	// Status tracking
	mu     sync.RWMutex
	states map[string]*driving.SyncStatus
}

// SyncOption configures a SyncOrchestrator.
type SyncOption func(*SyncOrchestrator)

// WithEventSink sets the sink that receives sync results.
func WithEventSink(sink driven.EventSink) SyncOption {
	return func(o *SyncOrchestrator) { o.sink = sink }
}

// WithSchemaRegistry sets the registry used for drift detection.
func WithSchemaRegistry(r *SchemaRegistry) SyncOption {
	return func(o *SyncOrchestrator) { o.registry = r }
}

// WithBackoffPolicy overrides the retry delay policy.
func WithBackoffPolicy(p BackoffPolicy) SyncOption {
	return func(o *SyncOrchestrator) { o.policy = p }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) SyncOption {
	return func(o *SyncOrchestrator) { o.now = now }
}

// NewSyncOrchestrator creates a new sync orchestrator.
// The result store may be nil, in which case history is not kept.
func NewSyncOrchestrator(
	config driven.ConfigProvider,
	factory driven.AdapterFactory,
	cursors driven.CursorStore,
	results driven.ResultStore,
	index driven.IndexWriter,
	opts ...SyncOption,
) *SyncOrchestrator {
	o := &SyncOrchestrator{
		config:  config,
		factory: factory,
		cursors: cursors,
		results: results,
		index:   index,
		policy:  DefaultBackoffPolicy(),
		now:     time.Now,
		states:  make(map[string]*driving.SyncStatus),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = NewSchemaRegistry(o.sink)
	}
	return o
}

// RunCycle syncs every enabled source whose backoff has elapsed.
// Per-source failures are reported in the results, never as an error.
func (o *SyncOrchestrator) RunCycle(ctx context.Context) ([]domain.SyncResult, error) {
	cfg := o.config.Current()
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration loaded", domain.ErrConfig)
	}

	cycleID := uuid.NewString()
	now := o.now()
	logger.Section("Sync cycle " + cycleID)

	var due []domain.SourceConfig
	for _, src := range cfg.EnabledSources() {
		cursor, err := o.cursors.Get(ctx, src.Name)
		if err != nil {
			logger.Warn("read cursor for %s: %v", src.Name, err)
			continue
		}
		if !cursor.Eligible(now) {
			logger.Debug("skipping %s: backing off until %s", src.Name, cursor.NextEligible.Format(time.RFC3339))
			continue
		}
		if o.running(src.Name) {
			logger.Debug("skipping %s: previous sync still running", src.Name)
			continue
		}
		due = append(due, src)
	}

	limit := cfg.Engine.MaxConcurrency
	if limit <= 0 {
		limit = domain.DefaultEngineSettings().MaxConcurrency
	}

	slots := make([]domain.SyncResult, len(due))
	ran := make([]bool, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, src := range due {
		g.Go(func() error {
			res, err := o.syncOne(gctx, cycleID, src)
			switch {
			case errors.Is(err, domain.ErrSyncInProgress):
				logger.Debug("skipping %s: sync started elsewhere", src.Name)
				return nil
			case err != nil:
				res = o.skipped(cycleID, src.Name, err)
			}
			slots[i], ran[i] = res, true
			return nil
		})
	}
	_ = g.Wait()

	results := make([]domain.SyncResult, 0, len(due))
	for i := range slots {
		if ran[i] {
			results = append(results, slots[i])
		}
	}

	logger.Info("cycle %s finished: %d tasks", cycleID, len(results))
	return results, nil
}

// SyncSource syncs one source on demand. Backoff is ignored but the
// outcome still updates the failure counters. Disabled sources are
// refused with ErrConfig.
func (o *SyncOrchestrator) SyncSource(ctx context.Context, name string) (domain.SyncResult, error) {
	cfg := o.config.Current()
	if cfg == nil {
		return domain.SyncResult{}, fmt.Errorf("%w: no configuration loaded", domain.ErrConfig)
	}
	src, ok := cfg.Source(name)
	if !ok {
		return domain.SyncResult{}, fmt.Errorf("source %s: %w", name, domain.ErrNotFound)
	}
	if !src.Enabled {
		return domain.SyncResult{}, fmt.Errorf("%w: source %s is disabled", domain.ErrConfig, name)
	}
	return o.syncOne(ctx, uuid.NewString(), src)
}

// Status returns sync status for a source.
func (o *SyncOrchestrator) Status(ctx context.Context, name string) (*driving.SyncStatus, error) {
	cursor, err := o.cursors.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}

	status := &driving.SyncStatus{Source: name, State: domain.StateIdle, Cursor: cursor}

	o.mu.RLock()
	if live, ok := o.states[name]; ok && live.Running {
		status.State = live.State
		status.Running = true
		status.ItemsProcessed = live.ItemsProcessed
	}
	o.mu.RUnlock()

	if !status.Running && !cursor.Eligible(o.now()) {
		status.State = domain.StateBackoff
	}

	if o.results != nil {
		history, err := o.results.History(ctx, name, o.historyLimit())
		if err != nil {
			return nil, fmt.Errorf("get history: %w", err)
		}
		status.History = history
	}
	return status, nil
}

// syncOne runs one task and records its outcome.
// The returned error is only set when the task could not start.
func (o *SyncOrchestrator) syncOne(ctx context.Context, cycleID string, src domain.SourceConfig) (domain.SyncResult, error) {
	if !o.begin(src.Name) {
		return domain.SyncResult{}, fmt.Errorf("source %s: %w", src.Name, domain.ErrSyncInProgress)
	}
	defer o.end(src.Name)

	cursor, err := o.cursors.Get(ctx, src.Name)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("get cursor: %w", err)
	}

	start := o.now()
	result := domain.SyncResult{
		Source:    src.Name,
		CycleID:   cycleID,
		StartedAt: start,
		Cursor:    cursor.Token,
	}

	tctx, cancel := context.WithTimeout(ctx, src.Timeout)
	token, err := o.pull(tctx, src, cursor, &result)
	cancel()
	result.Duration = o.now().Sub(start)

	switch {
	case err != nil:
		result.Status = domain.SyncFailed
		result.Error = domain.Translate(src.Name, "sync", err).Error()
		delay := o.policy.Delay(cursor.ConsecutiveFailures + 1)
		next := cursor.Failed(o.now().Add(delay))
		o.advance(ctx, src.Name, cursor, next)
		logger.Warn("sync %s failed (attempt %d, retry in %s): %v", src.Name, next.ConsecutiveFailures, delay, err)

	case result.ItemsFailed > 0:
		result.Status = domain.SyncPartial
		result.Error = fmt.Sprintf("%d records rejected", result.ItemsFailed)
		logger.Warn("sync %s partial: %d indexed, %d rejected; cursor kept", src.Name, result.ItemsProcessed, result.ItemsFailed)

	default:
		result.Status = domain.SyncSuccess
		next := cursor.Advanced(token, o.now())
		if o.advance(ctx, src.Name, cursor, next) {
			result.Cursor = next.Token
		}
		logger.Info("sync %s complete: %d records in %s", src.Name, result.ItemsProcessed, result.Duration)
	}

	o.record(ctx, result)
	return result, nil
}

// pull connects to the source and writes every new record into the index.
// Returns the token of the last record written.
//
//nolint:gocyclo // Orchestration function with necessary sequential steps
func (o *SyncOrchestrator) pull(ctx context.Context, src domain.SourceConfig, cursor domain.SyncCursor, result *domain.SyncResult) (string, error) {
	// 1. Create and connect adapter
	o.setState(src.Name, domain.StateConnecting)
	adapter, err := o.factory.Create(src)
	if err != nil {
		return "", fmt.Errorf("create adapter: %w", err)
	}
	defer adapter.Close()

	if err := adapter.Connect(ctx); err != nil {
		return "", err
	}

	// 2. Register schema (advisory: never fails the task)
	if schema, err := adapter.GetSchema(ctx); err != nil {
		logger.Debug("schema for %s unavailable: %v", src.Name, err)
	} else if _, err := o.registry.Register(ctx, src.Name, schema); err != nil {
		logger.Debug("register schema for %s: %v", src.Name, err)
	}

	// 3. Pull changes
	o.setState(src.Name, domain.StateSyncing)
	incremental := src.SyncMode == domain.SyncModeIncremental &&
		!cursor.IsZero() &&
		adapter.Capabilities().SupportsIncremental

	if incremental {
		records, err := adapter.FetchChanges(ctx, cursor)
		if err != nil {
			return "", err
		}
		var token string
		for start := 0; start < len(records); start += src.BatchSize {
			end := min(start+src.BatchSize, len(records))
			pos, err := o.write(ctx, src.Name, records[start:end], result)
			if err != nil {
				return "", err
			}
			if pos != "" {
				token = pos
			}
		}
		return token, nil
	}

	batches, errs := adapter.Stream(ctx, "", src.BatchSize)
	return o.drain(ctx, src.Name, batches, errs, result)
}

// drain consumes a stream until both channels close.
//
//nolint:gocognit // Coordinates two channels and cancellation
func (o *SyncOrchestrator) drain(
	ctx context.Context,
	source string,
	batches <-chan domain.Batch,
	errs <-chan error,
	result *domain.SyncResult,
) (string, error) {
	var token string
	for batches != nil || errs != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return "", err
			}

		case batch, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			pos, err := o.write(ctx, source, batch.Records, result)
			if err != nil {
				return "", err
			}
			if batch.Position != "" {
				token = batch.Position
			} else if pos != "" {
				token = pos
			}
		}
	}
	return token, nil
}

// write upserts valid records and counts rejected ones.
// Returns the position of the last record handed to the index.
func (o *SyncOrchestrator) write(ctx context.Context, source string, records []domain.Record, result *domain.SyncResult) (string, error) {
	valid := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			result.ItemsFailed++
			logger.Debug("rejecting record without id from %s", source)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return "", nil
	}
	if err := o.index.UpsertBatch(ctx, source, valid); err != nil {
		return "", fmt.Errorf("upsert batch: %w", err)
	}
	result.ItemsProcessed += len(valid)
	o.progress(source, result.ItemsProcessed)
	return valid[len(valid)-1].Position, nil
}

// advance writes next with compare-and-advance.
// A lost race is logged and discarded; the winner's cursor stands.
func (o *SyncOrchestrator) advance(ctx context.Context, source string, expected, next domain.SyncCursor) bool {
	next.Source = source
	err := o.cursors.CompareAndAdvance(ctx, source, expected, next)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrConflict):
		logger.Info("cursor for %s moved concurrently; discarding write", source)
	default:
		logger.Warn("save cursor for %s: %v", source, err)
	}
	return false
}

// record stores and emits a result. Neither may fail the task.
func (o *SyncOrchestrator) record(ctx context.Context, result domain.SyncResult) {
	if o.results != nil {
		if err := o.results.Record(ctx, result); err != nil {
			logger.Warn("record result for %s: %v", result.Source, err)
		}
		if err := o.results.Prune(ctx, o.historyLimit()); err != nil {
			logger.Debug("prune history: %v", err)
		}
	}
	emit(ctx, o.sink, domain.Event{
		Kind:    domain.EventSyncResult,
		Source:  result.Source,
		At:      result.StartedAt.Add(result.Duration),
		Payload: result,
	})
}

func (o *SyncOrchestrator) historyLimit() int {
	if cfg := o.config.Current(); cfg != nil && cfg.Engine.HistoryLimit > 0 {
		return cfg.Engine.HistoryLimit
	}
	return domain.DefaultEngineSettings().HistoryLimit
}

// skipped builds the result for a task that could not start.
func (o *SyncOrchestrator) skipped(cycleID, source string, err error) domain.SyncResult {
	return domain.SyncResult{
		Source:    source,
		CycleID:   cycleID,
		StartedAt: o.now(),
		Status:    domain.SyncFailed,
		Error:     err.Error(),
	}
}

// begin marks a source as running. Returns false if it already is.
func (o *SyncOrchestrator) begin(source string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.states[source]; ok && st.Running {
		return false
	}
	o.states[source] = &driving.SyncStatus{Source: source, State: domain.StateConnecting, Running: true}
	return true
}

func (o *SyncOrchestrator) running(source string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.states[source]
	return ok && st.Running
}

// end returns a source to idle.
func (o *SyncOrchestrator) end(source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[source] = &driving.SyncStatus{Source: source, State: domain.StateIdle}
}

func (o *SyncOrchestrator) setState(source string, state domain.SourceState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[source]
	if !ok {
		st = &driving.SyncStatus{Source: source}
		o.states[source] = st
	}
	st.State = state
}

func (o *SyncOrchestrator) progress(source string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.states[source]; ok {
		st.ItemsProcessed = n
	}
}
