// Package audit periodically checks quota accounting against the namespace.
//
// Each run does three things:
//   - Recomputes the usage of every quota directory from its subtree and
//     reports (optionally repairs) cached counters that drifted
//   - Publishes the usage of every quota directory to the metrics gauges
//   - Reconciles the settings store with the settings held in memory:
//     entries for directories that no longer exist or configure nothing are
//     deleted, missing or stale entries are rewritten
//
// A failed write-through leaves the store behind the namespace; the next
// audit run brings it back in line.
package audit

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/pkg/metrics"
	"github.com/marmos91/ecquota/pkg/namespace"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/store"
)

// Auditor performs periodic quota audits.
//
// The auditor runs in the background and periodically verifies quota usage,
// refreshes usage metrics and reconciles the settings store.
//
// Thread Safety: Safe for concurrent use.
type Auditor struct {
	ns      *namespace.Namesystem
	store   store.SettingsStore
	metrics metrics.QuotaMetrics
	config  Config

	// published tracks the directories with usage gauges, so gauges of
	// directories that lost their quota can be dropped.
	mu        sync.Mutex
	published map[string]bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// Config contains configuration for the auditor.
type Config struct {
	// Enabled controls whether periodic audits run
	Enabled bool

	// Interval is how often to run an audit (default: 5m)
	Interval time.Duration

	// Repair overwrites drifted quota counters with the computed usage
	Repair bool

	// DryRun logs store differences without writing them
	DryRun bool

	// StoreLock, when set, is held from the settings snapshot until the
	// store is reconciled. Other writers of the store must hold it too, or
	// a change they persist mid-run is overwritten with the older snapshot.
	StoreLock sync.Locker
}

// New creates a new auditor.
//
// The auditor will be initialized but not started. Call Start() to begin
// background audits.
//
// Parameters:
//   - ns: Namesystem to audit
//   - settings: Settings store to reconcile
//   - m: Metrics sink for usage gauges (nil uses a no-op)
//   - config: Auditor configuration
func New(ns *namespace.Namesystem, settings store.SettingsStore, m metrics.QuotaMetrics, config Config) (*Auditor, error) {
	if ns == nil {
		return nil, fmt.Errorf("audit: namesystem is required")
	}
	if settings == nil {
		return nil, fmt.Errorf("audit: settings store is required")
	}
	if m == nil {
		m = metrics.NewNoopQuotaMetrics()
	}

	// Set defaults
	if config.Interval == 0 {
		config.Interval = 5 * time.Minute
	}

	return &Auditor{
		ns:        ns,
		store:     settings,
		metrics:   m,
		config:    config,
		published: make(map[string]bool),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins background audits. It is a no-op when auditing is disabled.
func (a *Auditor) Start() {
	if !a.config.Enabled {
		logger.Info("Quota audit disabled")
		return
	}

	logger.Info("Starting quota auditor: interval=%s repair=%v dry_run=%v",
		a.config.Interval, a.config.Repair, a.config.DryRun)

	a.started = true
	go a.worker()
}

// Stop stops the auditor and waits for an in-progress run to finish.
// Safe to call multiple times.
func (a *Auditor) Stop(ctx context.Context) error {
	if !a.started {
		return nil
	}

	a.stopOnce.Do(func() {
		logger.Info("Stopping quota auditor...")
		close(a.stopCh)
	})

	select {
	case <-a.doneCh:
		logger.Info("Quota auditor stopped successfully")
		return nil
	case <-ctx.Done():
		logger.Warn("Quota auditor shutdown timeout")
		return ctx.Err()
	}
}

// RunNow runs one audit and blocks until it completes or ctx is cancelled.
func (a *Auditor) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running quota audit (manual trigger)...")
	return a.run(ctx)
}

// worker is the background goroutine that runs periodic audits.
func (a *Auditor) worker() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.config.Interval)
			stats, err := a.run(ctx)
			cancel()

			if err != nil {
				logger.Error("Quota audit failed: %v", err)
			} else {
				logger.Info("Quota audit completed: %s", stats.Summary())
			}

		case <-a.stopCh:
			return
		}
	}
}

// run performs a single audit.
//
//  1. Verify cached quota usage against the subtrees
//  2. Publish the usage of every quota directory
//  3. Reconcile the settings store with the namespace snapshot
func (a *Auditor) run(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	// Phase 1: Verify usage
	mismatches, err := a.ns.VerifyQuotaUsage(ctx, a.config.Repair)
	if err != nil {
		return stats, fmt.Errorf("failed to verify quota usage: %w", err)
	}
	stats.Mismatches = uint64(len(mismatches))
	if a.config.Repair {
		stats.Repaired = stats.Mismatches
	}

	if l := a.config.StoreLock; l != nil {
		l.Lock()
		defer l.Unlock()
	}

	// Phase 2: Publish usage
	snapshot, err := a.ns.Snapshot(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to snapshot settings: %w", err)
	}
	if err := a.PublishUsage(ctx, snapshot); err != nil {
		return stats, err
	}
	for _, s := range snapshot {
		if hasQuota(s) {
			stats.QuotaDirectories++
		}
	}

	// Phase 3: Reconcile the store
	if err := a.reconcile(ctx, snapshot, stats); err != nil {
		return stats, err
	}

	return stats, nil
}

// PublishUsage sets the usage gauges of every quota directory in snapshot
// and drops the gauges of directories no longer in it.
func (a *Auditor) PublishUsage(ctx context.Context, snapshot []store.DirectorySettings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := make(map[string]bool)
	for _, s := range snapshot {
		if !hasQuota(s) {
			continue
		}
		usage, err := a.ns.GetQuotaUsage(ctx, s.Path)
		if err != nil {
			if namespace.IsCode(err, namespace.ErrNotFound) {
				// Deleted since the snapshot was taken
				continue
			}
			return fmt.Errorf("failed to read usage of %s: %w", s.Path, err)
		}
		a.metrics.SetDirectoryUsage(s.Path, usage.FileAndDirectoryCount, usage.SpaceConsumed)
		current[s.Path] = true
	}

	for p := range a.published {
		if !current[p] {
			a.metrics.ForgetDirectory(p)
		}
	}
	a.published = current
	return nil
}

func (a *Auditor) reconcile(ctx context.Context, snapshot []store.DirectorySettings, stats *Stats) error {
	desired := make(map[string]store.DirectorySettings, len(snapshot))
	for _, s := range snapshot {
		desired[s.Path] = s
	}

	existing, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list settings store: %w", err)
	}
	stats.StoredCount = uint64(len(existing))

	// Entries without a namespace counterpart are orphaned
	var orphaned []string
	stored := make(map[string]store.DirectorySettings, len(existing))
	for _, s := range existing {
		stored[s.Path] = s
		if _, ok := desired[s.Path]; !ok {
			orphaned = append(orphaned, s.Path)
		}
	}

	// Entries missing from the store or differing from it are stale
	var stale []store.DirectorySettings
	for _, s := range snapshot {
		if cur, ok := stored[s.Path]; !ok || !Equal(cur, s) {
			stale = append(stale, s)
		}
	}

	stats.OrphanedCount = uint64(len(orphaned))
	stats.StaleCount = uint64(len(stale))

	if len(orphaned) == 0 && len(stale) == 0 {
		return nil
	}

	if a.config.DryRun {
		for _, p := range orphaned {
			logger.Info("Audit: DRY RUN - would delete settings of %s", p)
		}
		for _, s := range stale {
			logger.Info("Audit: DRY RUN - would write settings of %s", s.Path)
		}
		return nil
	}

	for _, p := range orphaned {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.store.Delete(ctx, p); err != nil {
			logger.Warn("Audit: failed to delete settings of %s: %v", p, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
	}

	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.store.Put(ctx, s); err != nil {
			logger.Warn("Audit: failed to write settings of %s: %v", s.Path, err)
			stats.FailedCount++
			continue
		}
		stats.WrittenCount++
	}

	return nil
}

func hasQuota(s store.DirectorySettings) bool {
	return s.NamespaceQuota != quota.Unlimited ||
		s.StorageSpaceQuota != quota.Unlimited ||
		len(s.TypeQuotas) > 0
}

// Equal reports whether two settings entries configure the same thing.
func Equal(a, b store.DirectorySettings) bool {
	return a.Path == b.Path &&
		a.NamespaceQuota == b.NamespaceQuota &&
		a.StorageSpaceQuota == b.StorageSpaceQuota &&
		maps.Equal(a.TypeQuotas, b.TypeQuotas) &&
		a.ErasureCodingPolicy == b.ErasureCodingPolicy &&
		a.StoragePolicy == b.StoragePolicy
}

// Stats contains statistics from an audit run.
type Stats struct {
	StartTime        time.Time // When the audit started
	EndTime          time.Time // When the audit ended
	QuotaDirectories uint64    // Directories carrying a quota
	Mismatches       uint64    // Quota directories whose cached usage drifted
	Repaired         uint64    // Drifted counters overwritten
	StoredCount      uint64    // Entries in the settings store
	OrphanedCount    uint64    // Store entries with no configured directory
	StaleCount       uint64    // Store entries missing or out of date
	DeletedCount     uint64    // Orphaned entries deleted
	WrittenCount     uint64    // Stale entries rewritten
	FailedCount      uint64    // Store writes that failed
}

// Duration returns the total audit duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the audit.
func (s *Stats) Summary() string {
	return fmt.Sprintf("quota_dirs=%d mismatches=%d repaired=%d stored=%d orphaned=%d stale=%d deleted=%d written=%d failed=%d duration=%s",
		s.QuotaDirectories, s.Mismatches, s.Repaired, s.StoredCount, s.OrphanedCount,
		s.StaleCount, s.DeletedCount, s.WrittenCount, s.FailedCount, s.Duration())
}
