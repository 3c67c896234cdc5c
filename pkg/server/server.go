package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/ecquota/internal/logger"
	"github.com/marmos91/ecquota/pkg/audit"
	"github.com/marmos91/ecquota/pkg/config"
	"github.com/marmos91/ecquota/pkg/erasure"
	"github.com/marmos91/ecquota/pkg/metrics"
	"github.com/marmos91/ecquota/pkg/namespace"
	"github.com/marmos91/ecquota/pkg/quota"
	"github.com/marmos91/ecquota/pkg/storage"
	"github.com/marmos91/ecquota/pkg/store"
)

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("server: Serve has already been called")

// QuotaServer ties the namesystem to the settings store that persists its
// administrative settings, the metrics that observe it and the auditor that
// keeps both in line.
//
// Architecture:
// Every administrative change (quotas, policies) is applied to the
// namesystem first and then written through to the settings store. Usage
// is never persisted: at startup the stored settings are replayed onto an
// empty namespace and usage is rebuilt as files are created.
//
// Lifecycle:
//  1. Creation: Build() from configuration, or New() from parts
//  2. Bootstrap: Bootstrap() restores persisted and configured directories
//  3. Serving: Serve() runs the metrics endpoint and the auditor
//  4. Shutdown: Context cancellation stops both and closes the store
//
// Thread safety:
// QuotaServer is safe for concurrent use. Serve() should only be called once.
type QuotaServer struct {
	ns            *namespace.Namesystem
	store         store.SettingsStore
	metrics       metrics.QuotaMetrics
	metricsServer *metrics.Server
	auditor       *audit.Auditor

	defaultECPolicy string
	shutdownTimeout time.Duration

	// persistMu serializes write-through so the last write for a path
	// always reflects the latest namespace state. The auditor holds it
	// while reconciling the store.
	persistMu sync.Mutex

	serveOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Options holds the parts a QuotaServer is assembled from.
type Options struct {
	// Namesystem is the namespace tree (required)
	Namesystem *namespace.Namesystem

	// Store persists directory settings (required)
	Store store.SettingsStore

	// Metrics records operations (nil uses a no-op)
	Metrics metrics.QuotaMetrics

	// MetricsServer exposes /metrics and /healthz (nil disables it)
	MetricsServer *metrics.Server

	// Audit configures the periodic quota audit
	Audit audit.Config

	// DefaultErasureCodingPolicy is used when a directory is set to
	// erasure coding without naming a policy
	DefaultErasureCodingPolicy string

	// ShutdownTimeout bounds graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration
}

// New assembles a QuotaServer.
func New(opts Options) (*QuotaServer, error) {
	if opts.Namesystem == nil {
		return nil, fmt.Errorf("server: namesystem is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: settings store is required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopQuotaMetrics()
	}
	if opts.DefaultErasureCodingPolicy == "" {
		opts.DefaultErasureCodingPolicy = erasure.DefaultPolicyName
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	s := &QuotaServer{
		ns:              opts.Namesystem,
		store:           opts.Store,
		metrics:         opts.Metrics,
		metricsServer:   opts.MetricsServer,
		defaultECPolicy: opts.DefaultErasureCodingPolicy,
		shutdownTimeout: opts.ShutdownTimeout,
	}

	// Audits reconcile the store under the write-through lock
	auditConfig := opts.Audit
	auditConfig.StoreLock = &s.persistMu

	auditor, err := audit.New(opts.Namesystem, opts.Store, opts.Metrics, auditConfig)
	if err != nil {
		return nil, err
	}
	s.auditor = auditor

	return s, nil
}

// Build creates a bootstrapped QuotaServer from configuration.
func Build(ctx context.Context, cfg *config.Config) (*QuotaServer, error) {
	// ========================================================================
	// Step 1: Open the settings store
	// ========================================================================

	// The registry must exist before the store registers its request metrics
	if cfg.Server.Metrics.Enabled {
		metrics.InitRegistry()
	}

	settings, err := config.CreateSettingsStore(ctx, &cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create settings store: %w", err)
	}

	srv, err := build(ctx, cfg, settings)
	if err != nil {
		_ = settings.Close()
		return nil, err
	}
	return srv, nil
}

func build(ctx context.Context, cfg *config.Config, settings store.SettingsStore) (*QuotaServer, error) {
	// ========================================================================
	// Step 2: Metrics, with the store backing /healthz
	// ========================================================================

	metricsResult, err := config.InitializeMetrics(cfg, settings.Healthcheck)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// ========================================================================
	// Step 3: Policy catalog and namesystem
	// ========================================================================

	catalog, err := config.BuildCatalog(&cfg.ErasureCoding)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy catalog: %w", err)
	}

	nsOpts, err := config.NamespaceOptions(cfg, catalog, metricsResult.QuotaMetrics)
	if err != nil {
		return nil, err
	}

	ns, err := namespace.New(nsOpts)
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 4: Assemble and bootstrap
	// ========================================================================

	srv, err := New(Options{
		Namesystem:    ns,
		Store:         settings,
		Metrics:       metricsResult.QuotaMetrics,
		MetricsServer: metricsResult.Server,
		Audit: audit.Config{
			Enabled:  cfg.Server.Audit.Enabled,
			Interval: cfg.Server.Audit.Interval,
			Repair:   cfg.Server.Audit.Repair,
			DryRun:   cfg.Server.Audit.DryRun,
		},
		DefaultErasureCodingPolicy: cfg.ErasureCoding.DefaultPolicy,
		ShutdownTimeout:            cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return nil, err
	}

	directories, err := config.ResolveDirectories(cfg)
	if err != nil {
		return nil, err
	}
	if err := srv.Bootstrap(ctx, directories); err != nil {
		return nil, err
	}

	return srv, nil
}

// Bootstrap restores the persisted settings, then applies directories on
// top of them. A directory entry replaces whatever was persisted for its
// path and is written back to the store.
func (s *QuotaServer) Bootstrap(ctx context.Context, directories []store.DirectorySettings) error {
	start := time.Now()

	persisted, err := s.store.List(ctx)
	s.metrics.RecordStoreOperation("List", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to list persisted settings: %w", err)
	}

	merged := make(map[string]store.DirectorySettings, len(persisted)+len(directories))
	for _, d := range persisted {
		merged[d.Path] = d
	}
	for _, d := range directories {
		d.Path = store.CleanPath(d.Path)
		merged[d.Path] = d
	}

	all := make([]store.DirectorySettings, 0, len(merged))
	for _, d := range merged {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })

	if err := s.ns.Restore(ctx, all); err != nil {
		return fmt.Errorf("failed to restore directory settings: %w", err)
	}

	for _, d := range directories {
		if err := s.persist(ctx, store.CleanPath(d.Path)); err != nil {
			return err
		}
	}

	snapshot, err := s.ns.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := s.auditor.PublishUsage(ctx, snapshot); err != nil {
		return err
	}

	logger.Info("Bootstrap complete: persisted=%d configured=%d duration=%s",
		len(persisted), len(directories), time.Since(start))
	return nil
}

// ============================================================================
// Serving
// ============================================================================

// Serve starts the auditor and the metrics endpoint and blocks until the
// context is cancelled or the metrics server fails. On return the settings
// store is closed.
//
// Returns:
//   - context.Canceled if shutdown was triggered by context cancellation
//   - error if the metrics server failed
//   - ErrAlreadyServed on a second call
func (s *QuotaServer) Serve(ctx context.Context) error {
	err := ErrAlreadyServed
	s.serveOnce.Do(func() {
		err = s.serve(ctx)
	})
	return err
}

func (s *QuotaServer) serve(ctx context.Context) error {
	logger.Info("Starting quota server")

	s.auditor.Start()

	// Buffered so a late failure never blocks the goroutine
	errChan := make(chan error, 1)
	var wg sync.WaitGroup

	if s.metricsServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.metricsServer.Start(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()
	case err := <-errChan:
		logger.Error("Metrics server failed: %v - shutting down", err)
		shutdownErr = err
	}

	// Don't use the cancelled ctx as it would cause immediate shutdown
	stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.auditor.Stop(stopCtx); err != nil {
		logger.Warn("Error stopping auditor: %v", err)
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(stopCtx); err != nil {
			logger.Warn("Error stopping metrics server: %v", err)
		}
	}
	wg.Wait()

	if err := s.Close(); err != nil {
		logger.Error("Error closing settings store: %v", err)
	}

	logger.Info("Quota server stopped")
	return shutdownErr
}

// Close closes the settings store. Safe to call multiple times.
func (s *QuotaServer) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

// Namesystem returns the namespace tree for read-only queries.
func (s *QuotaServer) Namesystem() *namespace.Namesystem {
	return s.ns
}

// Audit runs one quota audit immediately.
func (s *QuotaServer) Audit(ctx context.Context) (*audit.Stats, error) {
	return s.auditor.RunNow(ctx)
}

// ============================================================================
// Administrative Operations
// ============================================================================

// SetQuota sets the namespace and storage space quotas of directory p.
// Pass quota.Unlimited to clear a dimension.
func (s *QuotaServer) SetQuota(ctx context.Context, p string, namespaceQuota, storageSpaceQuota int64) error {
	return s.administer(ctx, "SetQuota", p, func() error {
		return s.ns.SetQuota(ctx, p, namespaceQuota, storageSpaceQuota)
	})
}

// SetQuotaByStorageType sets the quota of one storage type on directory p.
func (s *QuotaServer) SetQuotaByStorageType(ctx context.Context, p string, t storage.StorageType, q int64) error {
	return s.administer(ctx, "SetQuotaByStorageType", p, func() error {
		return s.ns.SetQuotaByStorageType(ctx, p, t, q)
	})
}

// SetErasureCodingPolicy sets the erasure coding policy of directory p. An
// empty name selects the default policy.
func (s *QuotaServer) SetErasureCodingPolicy(ctx context.Context, p, policyName string) error {
	if policyName == "" {
		policyName = s.defaultECPolicy
	}
	return s.administer(ctx, "SetErasureCodingPolicy", p, func() error {
		return s.ns.SetErasureCodingPolicy(ctx, p, policyName)
	})
}

// UnsetErasureCodingPolicy removes the erasure coding policy of p.
func (s *QuotaServer) UnsetErasureCodingPolicy(ctx context.Context, p string) error {
	return s.administer(ctx, "UnsetErasureCodingPolicy", p, func() error {
		return s.ns.UnsetErasureCodingPolicy(ctx, p)
	})
}

// SetStoragePolicy sets the storage policy of directory p.
func (s *QuotaServer) SetStoragePolicy(ctx context.Context, p, policyName string) error {
	return s.administer(ctx, "SetStoragePolicy", p, func() error {
		return s.ns.SetStoragePolicy(ctx, p, policyName)
	})
}

// administer applies an administrative change and writes the resulting
// settings of p through to the store.
func (s *QuotaServer) administer(ctx context.Context, op, p string, apply func() error) error {
	start := time.Now()
	err := apply()
	s.metrics.RecordOperation(op, time.Since(start), err)
	if err != nil {
		return err
	}
	return s.persist(ctx, store.CleanPath(p))
}

// persist writes the current settings of p to the store, deleting the
// entry when nothing is configured there.
func (s *QuotaServer) persist(ctx context.Context, p string) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	settings, err := s.ns.Settings(ctx, p)
	if err != nil {
		return err
	}

	start := time.Now()
	if settings.IsEmpty() {
		err = s.store.Delete(ctx, p)
		s.metrics.RecordStoreOperation("Delete", time.Since(start), err)
	} else {
		err = s.store.Put(ctx, settings)
		s.metrics.RecordStoreOperation("Put", time.Since(start), err)
	}
	if err != nil {
		// The namespace already holds the change; the next audit retries
		return fmt.Errorf("failed to persist settings of %s: %w", p, err)
	}

	s.publishUsage(ctx, p, settings)
	return nil
}

func (s *QuotaServer) publishUsage(ctx context.Context, p string, settings store.DirectorySettings) {
	if settings.NamespaceQuota == quota.Unlimited &&
		settings.StorageSpaceQuota == quota.Unlimited &&
		len(settings.TypeQuotas) == 0 {
		s.metrics.ForgetDirectory(p)
		return
	}
	usage, err := s.ns.GetQuotaUsage(ctx, p)
	if err != nil {
		return
	}
	s.metrics.SetDirectoryUsage(p, usage.FileAndDirectoryCount, usage.SpaceConsumed)
}

// ============================================================================
// Namespace Operations
// ============================================================================

// Mkdirs creates p and any missing parents.
func (s *QuotaServer) Mkdirs(ctx context.Context, p string) error {
	start := time.Now()
	err := s.ns.Mkdirs(ctx, p)
	s.metrics.RecordOperation("Mkdirs", time.Since(start), err)
	return err
}

// Delete removes a file or directory together with the stored settings of
// every directory beneath it.
func (s *QuotaServer) Delete(ctx context.Context, p string, recursive bool) error {
	start := time.Now()
	err := s.ns.Delete(ctx, p, recursive)
	s.metrics.RecordOperation("Delete", time.Since(start), err)
	if err != nil {
		return err
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	p = store.CleanPath(p)
	start = time.Now()
	entries, err := s.store.List(ctx)
	s.metrics.RecordStoreOperation("List", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to list settings after delete: %w", err)
	}

	for _, e := range entries {
		if e.Path != p && !strings.HasPrefix(e.Path, p+"/") {
			continue
		}
		start = time.Now()
		err := s.store.Delete(ctx, e.Path)
		s.metrics.RecordStoreOperation("Delete", time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to delete settings of %s: %w", e.Path, err)
		}
		s.metrics.ForgetDirectory(e.Path)
	}
	return nil
}

// CreateFile creates an empty, open file.
func (s *QuotaServer) CreateFile(ctx context.Context, p string, opts namespace.CreateOptions) (namespace.FileInfo, error) {
	start := time.Now()
	fi, err := s.ns.CreateFile(ctx, p, opts)
	s.metrics.RecordOperation("CreateFile", time.Since(start), err)
	return fi, err
}

// AddBlock allocates a new block group at the end of file p.
func (s *QuotaServer) AddBlock(ctx context.Context, p string) (namespace.BlockInfo, error) {
	start := time.Now()
	b, err := s.ns.AddBlock(ctx, p)
	s.metrics.RecordOperation("AddBlock", time.Since(start), err)
	return b, err
}

// CompleteBlock completes a block group with its final length.
func (s *QuotaServer) CompleteBlock(ctx context.Context, p string, blockID, numBytes uint64) (namespace.BlockInfo, error) {
	start := time.Now()
	b, err := s.ns.CompleteBlock(ctx, p, blockID, numBytes)
	s.metrics.RecordOperation("CompleteBlock", time.Since(start), err)
	return b, err
}

// AbandonBlock removes an uncompleted block group.
func (s *QuotaServer) AbandonBlock(ctx context.Context, p string, blockID uint64) error {
	start := time.Now()
	err := s.ns.AbandonBlock(ctx, p, blockID)
	s.metrics.RecordOperation("AbandonBlock", time.Since(start), err)
	return err
}

// CloseFile closes file p.
func (s *QuotaServer) CloseFile(ctx context.Context, p string) error {
	start := time.Now()
	err := s.ns.CloseFile(ctx, p)
	s.metrics.RecordOperation("CloseFile", time.Since(start), err)
	return err
}
