// Package sync pulls data from all connected providers into the canonical
// store. Each provider syncs independently: one failing source never stops
// the others, and fetched rows only hit the store once the source's fetch
// finished.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fitly-app/fitly/internal/athlete"
	"github.com/fitly-app/fitly/internal/fitness"
	"github.com/fitly-app/fitly/internal/providers"
	"github.com/fitly-app/fitly/internal/telemetry/metrics"
	"github.com/fitly-app/fitly/internal/telemetry/tracing"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Mode selects what happens to existing data before fetching.
type Mode string

const (
	ModeScheduled           Mode = "scheduled"
	ModeManual              Mode = "manual"
	ModeManualTruncate      Mode = "manual_truncate"
	ModeManualTruncateAfter Mode = "manual_truncate_after"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeScheduled, ModeManual, ModeManualTruncate, ModeManualTruncateAfter:
		return true
	}
	return false
}

var (
	ErrInvalidMode       = errors.New("invalid refresh mode")
	ErrRefreshInProgress = errors.New("refresh already in progress")
)

// refetch this much history on every incremental sync, upstream services
// amend recent days after the fact
const backfillOverlap = 7 * 24 * time.Hour

// rate limited fetches get this many retries before the source is skipped
// for the run
const rateLimitRetries = 3

// ErrorKind is the stable failure classification reported per source.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindAuthExpired         ErrorKind = "auth_expired"
	ErrorKindRateLimited         ErrorKind = "rate_limited"
	ErrorKindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrorKindNotConnected        ErrorKind = "not_connected"
	ErrorKindStoreFailure        ErrorKind = "store_transaction_failure"
	ErrorKindOther               ErrorKind = "other"
)

func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, providers.ErrAuthExpired):
		return ErrorKindAuthExpired
	case errors.Is(err, providers.ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, providers.ErrUpstreamUnavailable):
		return ErrorKindUpstreamUnavailable
	case errors.Is(err, providers.ErrNotConnected):
		return ErrorKindNotConnected
	default:
		return ErrorKindOther
	}
}

// SourceResult is the outcome of one source in a refresh run.
type SourceResult struct {
	Source      fitness.Source `json:"source"`
	RowsWritten int            `json:"rows_written"`
	Skipped     bool           `json:"skipped"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

// Summary is the outcome of a whole refresh run.
type Summary struct {
	RunID      string         `json:"run_id"`
	Mode       Mode           `json:"mode"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []SourceResult `json:"results"`
}

type store interface {
	UpsertRows(ctx context.Context, rows fitness.Rows) (int, error)
	TruncateAll(ctx context.Context) error
	TruncateAfter(ctx context.Context, date time.Time) error
	LastSyncedAt(ctx context.Context, source fitness.Source) (time.Time, error)
	LatestFTPTestRide(ctx context.Context) (*fitness.Activity, error)
}

type athleteStore interface {
	Get(ctx context.Context) (*athlete.Athlete, error)
	UpdateField(ctx context.Context, field, value string) error
}

type planEngine interface {
	RunDaily(ctx context.Context) error
}

// Orchestrator runs refreshes. Only one refresh runs at a time, the
// providers write disjoint tables but a truncate under a running fetch
// would be a mess.
type Orchestrator struct {
	store     store
	athletes  athleteStore
	providers []providers.Provider
	engine    planEngine
	metrics   *metrics.Manager
	nowFunc   func() time.Time

	running gosync.Mutex
}

func NewOrchestrator(
	syncStore store,
	athletes athleteStore,
	syncProviders []providers.Provider,
	engine planEngine,
	metricsManager *metrics.Manager,
) *Orchestrator {
	return &Orchestrator{
		store:     syncStore,
		athletes:  athletes,
		providers: syncProviders,
		engine:    engine,
		metrics:   metricsManager,
		nowFunc:   time.Now,
	}
}

// Refresh syncs all providers. truncateAfter is only read in
// ModeManualTruncateAfter. The returned summary always covers every
// provider, also the failed ones.
func (o *Orchestrator) Refresh(ctx context.Context, mode Mode, truncateAfter *time.Time) (_ Summary, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "syncOrchestrator.refresh")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if !mode.Valid() {
		return Summary{}, fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
	if mode == ModeManualTruncateAfter && truncateAfter == nil {
		return Summary{}, fmt.Errorf("%w: truncate_after date missing", ErrInvalidMode)
	}

	if !o.running.TryLock() {
		return Summary{}, ErrRefreshInProgress
	}
	defer o.running.Unlock()

	summary := Summary{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: o.nowFunc(),
	}
	log.Printf("refresh %s started, mode: %s", summary.RunID, mode)
	o.metrics.CounterSyncRuns.With(map[string]string{"mode": string(mode)}).Inc()

	switch mode {
	case ModeManualTruncate:
		if err := o.store.TruncateAll(ctx); err != nil {
			return summary, fmt.Errorf("truncate all: %w", err)
		}
	case ModeManualTruncateAfter:
		if err := o.store.TruncateAfter(ctx, *truncateAfter); err != nil {
			return summary, fmt.Errorf("truncate after %s: %w", truncateAfter.Format("2006-01-02"), err)
		}
	}

	a, err := o.athletes.Get(ctx)
	if err != nil {
		return summary, fmt.Errorf("get athlete: %w", err)
	}

	// after a truncate-after the refetch starts at the cutoff, the usual
	// last-synced overlap would reach before the truncated range
	var refetchSince *time.Time
	if mode == ModeManualTruncateAfter {
		refetchSince = truncateAfter
	}

	results := make([]SourceResult, len(o.providers))
	var wg gosync.WaitGroup
	for i, provider := range o.providers {
		wg.Add(1)
		go func(i int, provider providers.Provider) {
			defer wg.Done()
			results[i] = o.syncSource(ctx, provider, a, refetchSince)
		}(i, provider)
	}
	wg.Wait()
	summary.Results = results

	if err := o.recalibrateFTP(ctx, a); err != nil {
		log.Errorf("recalibrate ftp: %s", err)
	}

	engineErr := o.engine.RunDaily(ctx)

	summary.FinishedAt = o.nowFunc()
	for _, result := range results {
		if result.ErrorKind == ErrorKindStoreFailure {
			return summary, fmt.Errorf("store failure syncing %s: %s", result.Source, result.Error)
		}
	}
	if engineErr != nil {
		return summary, fmt.Errorf("refresh %s: workout plan advance: %w", summary.RunID, engineErr)
	}

	log.Printf("refresh %s done in %s", summary.RunID, summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}

func (o *Orchestrator) syncSource(ctx context.Context, provider providers.Provider, a *athlete.Athlete, refetchSince *time.Time) SourceResult {
	source := provider.Source()
	result := SourceResult{Source: source}
	started := o.nowFunc()
	defer func() {
		result.DurationMs = o.nowFunc().Sub(started).Milliseconds()
		o.metrics.HistSyncSourceDuration.
			With(map[string]string{"source": string(source)}).
			Observe(float64(result.DurationMs) / 1000)
	}()

	window, err := o.windowFor(ctx, source, refetchSince)
	if err != nil {
		return o.failResult(result, ErrorKindStoreFailure, err)
	}

	rows, fetchErr := o.fetchWithRetry(ctx, provider, window)
	if fetchErr != nil {
		kind := classify(fetchErr)
		if kind == ErrorKindNotConnected {
			// nothing to sync, not an error worth alerting on
			log.Debugf("sync %s skipped, not connected", source)
			result.Skipped = true
			result.ErrorKind = ErrorKindNotConnected
			return result
		}
		if rows.Count() == 0 {
			return o.failResult(result, kind, fetchErr)
		}
		// keep the partial progress, report the failure alongside
		log.Warnf("sync %s failed partway, committing %d fetched rows: %s", source, rows.Count(), fetchErr)
		result.ErrorKind = kind
		result.Error = fetchErr.Error()
		o.metrics.CounterProviderErrors.
			With(map[string]string{"source": string(source), "kind": string(kind)}).
			Inc()
	}

	if source == fitness.SourceStrava {
		enrichActivities(rows.Activities, a)
	}

	written, err := o.store.UpsertRows(ctx, rows)
	if err != nil {
		return o.failResult(result, ErrorKindStoreFailure, err)
	}

	result.RowsWritten = written
	o.metrics.CounterRowsSynced.
		With(map[string]string{"source": string(source)}).
		Add(float64(written))
	log.Printf("sync %s: %d rows written", source, written)
	return result
}

func (o *Orchestrator) failResult(result SourceResult, kind ErrorKind, err error) SourceResult {
	log.Errorf("sync %s failed: %s", result.Source, err)
	result.ErrorKind = kind
	result.Error = err.Error()
	o.metrics.CounterProviderErrors.
		With(map[string]string{"source": string(result.Source), "kind": string(kind)}).
		Inc()
	return result
}

func (o *Orchestrator) windowFor(ctx context.Context, source fitness.Source, refetchSince *time.Time) (providers.Window, error) {
	if refetchSince != nil {
		return providers.Window{Since: *refetchSince}, nil
	}
	lastSynced, err := o.store.LastSyncedAt(ctx, source)
	if err != nil {
		return providers.Window{}, fmt.Errorf("last synced at for %s: %w", source, err)
	}
	if lastSynced.IsZero() {
		// first sync, whole history
		return providers.Window{}, nil
	}
	return providers.Window{Since: lastSynced.Add(-backfillOverlap)}, nil
}

// fetchWithRetry retries rate limited fetches with exponential backoff,
// within the run's retry budget. Other errors are final right away.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, provider providers.Provider, window providers.Window) (fitness.Rows, error) {
	var rows fitness.Rows
	operation := func() error {
		var err error
		rows, err = provider.FetchWindow(ctx, window)
		if err != nil && !errors.Is(err, providers.ErrRateLimited) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), rateLimitRetries),
		ctx,
	)
	err := backoff.Retry(operation, policy)
	return rows, err
}

// enrichActivities fills in the FTP in effect and the computed training
// stress for power-based activities.
func enrichActivities(activities []fitness.Activity, a *athlete.Athlete) {
	for i := range activities {
		switch activities[i].Type {
		case "Ride", "VirtualRide":
			activities[i].FTP = a.RideFTP
		case "Run", "VirtualRun":
			activities[i].FTP = a.RunFTP
		default:
			continue
		}
		activities[i].TSS = fitness.ComputeTSS(activities[i])
	}
}

// recalibrateFTP updates the ride FTP to 95% of the newest FTP test ride's
// average watts, the convention the athlete marks test rides with.
func (o *Orchestrator) recalibrateFTP(ctx context.Context, a *athlete.Athlete) error {
	testRide, err := o.store.LatestFTPTestRide(ctx)
	if errors.Is(err, fitness.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	newFTP := fitness.FTPFromTestRide(*testRide)
	if newFTP == 0 || newFTP == a.RideFTP {
		return nil
	}

	log.Printf("ftp test ride %s: ride ftp %d -> %d", testRide.ExternalID, a.RideFTP, newFTP)
	return o.athletes.UpdateField(ctx, "ride_ftp", fmt.Sprintf("%d", newFTP))
}
