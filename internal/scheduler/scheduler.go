// Package scheduler drives the periodic user sync. It wraps gocron and
// integrates with the directory store (to discover enabled provider bindings
// and record sync runs), the Keycloak admin client (to snapshot the
// provider's users), and the reconciliation engine (to apply the snapshot).
//
// The sync job runs in singleton mode: if a tick is still running when the
// next one fires, the new execution is rescheduled rather than overlapped.
//
// Tick flow:
//  1. List enabled OIDC bindings and keep the ones this partition owns
//  2. Build one admin client, probe it, and fetch the full user snapshot
//     (up to two attempts; a tick with no snapshot is skipped entirely)
//  3. Normalize the snapshot once — every binding sees the same data
//  4. Reconcile each binding, record a SyncRun row, update metrics, and log
//     the summary; one binding's failure never aborts the rest. Degraded
//     runs additionally fan out to the alert webhook when one is configured.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/internal/alert"
	"github.com/rosterhq/roster/internal/db"
	"github.com/rosterhq/roster/internal/keycloak"
	"github.com/rosterhq/roster/internal/metrics"
	"github.com/rosterhq/roster/internal/repositories"
	"github.com/rosterhq/roster/internal/usersync"
)

const (
	// jobTag identifies the sync job inside gocron.
	jobTag = "oidc-user-sync"

	// fetchAttempts bounds how often one tick retries the snapshot phase.
	fetchAttempts = 2

	// maxLoggedErrors caps how many error strings a single run logs and
	// persists; the counters still reflect everything that happened.
	maxLoggedErrors = 10

	// tickTimeout bounds one full tick across all bindings.
	tickTimeout = 10 * time.Minute
)

// Config controls the sync driver.
type Config struct {
	// Interval between ticks when no cron schedule is set. Defaults to 1h.
	Interval time.Duration
	// Schedule is an optional five-field cron expression; when set it takes
	// precedence over Interval.
	Schedule string
	// BatchSize is the page size used when listing provider users.
	BatchSize int
	// PartitionCount and PartitionIndex select the subset of bindings this
	// replica owns; see Owns. Defaults to a single partition owning all.
	PartitionCount int
	PartitionIndex int
	// Keycloak carries the admin API connection settings. A fresh client is
	// built from it on every tick so tokens never outlive a tick.
	Keycloak keycloak.Config
}

// Scheduler wraps gocron and coordinates snapshotting and reconciliation.
// The zero value is not usable — create instances with New.
type Scheduler struct {
	cfg     Config
	cron    gocron.Scheduler
	store   *repositories.Directory
	engine  *usersync.Engine
	metrics *metrics.Sync
	alerts  alert.Notifier
	logger  *zap.Logger
}

// New creates and configures a new Scheduler. Call Start to begin ticking.
// alerts may be nil to disable run alerting. The cron expression, when
// present, is validated here so a typo fails at startup instead of silently
// never firing.
func New(cfg Config, store *repositories.Directory, engine *usersync.Engine, m *metrics.Sync, alerts alert.Notifier, logger *zap.Logger) (*Scheduler, error) {
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("invalid sync schedule %q: %w", cfg.Schedule, err)
		}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.PartitionCount <= 0 {
		cfg.PartitionCount = 1
	}
	if cfg.PartitionIndex < 0 || cfg.PartitionIndex >= cfg.PartitionCount {
		return nil, fmt.Errorf("partition index %d out of range for %d partitions", cfg.PartitionIndex, cfg.PartitionCount)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		cfg:     cfg,
		cron:    s,
		store:   store,
		engine:  engine,
		metrics: m,
		alerts:  alerts,
		logger:  logger.Named("scheduler"),
	}, nil
}

// Start registers the sync job and starts the underlying gocron scheduler.
// It should be called once at server startup, after the database connection
// is established. The initial binding listing is informational: bindings are
// re-read on every tick, so ones added later are picked up without restart.
func (s *Scheduler) Start(ctx context.Context) error {
	enabled, err := s.store.AuthProviders.ListEnabledByName(ctx, db.ProviderNameOIDC)
	if err != nil {
		return fmt.Errorf("failed to load enabled provider bindings: %w", err)
	}
	owned := 0
	for i := range enabled {
		if Owns(enabled[i].ID, s.cfg.PartitionCount, s.cfg.PartitionIndex) {
			owned++
		}
	}

	if err := s.addSyncJob(); err != nil {
		return err
	}

	s.logger.Info("sync scheduler started",
		zap.String("schedule", s.describeSchedule()),
		zap.Int("bindings_enabled", len(enabled)),
		zap.Int("bindings_owned", owned),
		zap.Int("partition", s.cfg.PartitionIndex),
		zap.Int("partitions", s.cfg.PartitionCount),
	)
	s.cron.Start()
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for a
// currently running tick to complete before returning.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	s.logger.Info("sync scheduler stopped")
	return nil
}

// RunOnce executes one full sync pass: list the bindings this partition
// owns, snapshot the provider once, and reconcile every binding against that
// snapshot. Exposed for manual triggers; gocron calls it on every tick.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	providers, err := s.store.AuthProviders.ListEnabledByName(ctx, db.ProviderNameOIDC)
	if err != nil {
		return fmt.Errorf("failed to list enabled provider bindings: %w", err)
	}

	owned := make([]db.AuthenticationProvider, 0, len(providers))
	for i := range providers {
		if Owns(providers[i].ID, s.cfg.PartitionCount, s.cfg.PartitionIndex) {
			owned = append(owned, providers[i])
		}
	}
	if len(owned) == 0 {
		s.logger.Debug("no enabled bindings owned by this partition")
		return nil
	}

	// One client and one snapshot per tick: every binding sees the same
	// provider state, and the access token never outlives the tick.
	client := keycloak.New(s.cfg.Keycloak, s.logger)
	records, err := s.fetchSnapshot(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to snapshot provider users: %w", err)
	}

	snapshot, skipped := usersync.Normalize(records)
	for i, msg := range skipped {
		if i == maxLoggedErrors {
			s.logger.Warn("more records skipped", zap.Int("count", len(skipped)-maxLoggedErrors))
			break
		}
		s.logger.Warn(msg)
	}

	for i := range owned {
		s.syncProvider(ctx, &owned[i], snapshot)
	}
	return nil
}

// addSyncJob registers the single sync job with singleton mode. The job is
// interval-driven unless a cron schedule was configured.
func (s *Scheduler) addSyncJob() error {
	definition := gocron.DurationJob(s.cfg.Interval)
	if s.cfg.Schedule != "" {
		definition = gocron.CronJob(s.cfg.Schedule, false)
	}

	_, err := s.cron.NewJob(
		definition,
		gocron.NewTask(s.tick),
		gocron.WithTags(jobTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("gocron.NewJob failed for user sync (schedule: %q): %w", s.describeSchedule(), err)
	}
	return nil
}

// tick is the gocron task body. Outcomes land in metrics and logs; gocron
// itself never sees an error.
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if err := s.RunOnce(ctx); err != nil {
		s.metrics.Ticks.WithLabelValues("error").Inc()
		s.logger.Error("user sync tick failed", zap.Error(err))
		return
	}
	s.metrics.Ticks.WithLabelValues("ok").Inc()
}

// fetchSnapshot probes the provider and lists its enabled users, retrying
// the whole phase once. A tick without a snapshot is skipped entirely rather
// than reconciled against partial data.
func (s *Scheduler) fetchSnapshot(ctx context.Context, client *keycloak.Client) ([]keycloak.User, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if !client.TestConnection(ctx) {
			lastErr = errors.New("provider connection test failed")
			s.logger.Warn("provider connection test failed", zap.Int("attempt", attempt))
			continue
		}

		records, err := client.ListEnabledUsers(ctx, s.cfg.BatchSize)
		if err == nil {
			return records, nil
		}
		lastErr = err
		s.logger.Warn("failed to list provider users",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// syncProvider reconciles one binding against the shared snapshot, records
// the SyncRun row, and updates metrics. Failures are logged, never returned:
// one binding must not abort the rest of the tick.
func (s *Scheduler) syncProvider(ctx context.Context, provider *db.AuthenticationProvider, snapshot []usersync.User) {
	started := time.Now().UTC()

	settings, err := provider.SyncSettings()
	if err != nil {
		s.logger.Warn("unreadable provider settings, syncing without group assignment",
			zap.String("provider_id", provider.ID.String()),
			zap.Error(err),
		)
	}
	opts := usersync.Options{DefaultGroupName: settings.DefaultGroupName}
	if settings.DefaultGroupID != "" {
		if id, err := uuid.Parse(settings.DefaultGroupID); err == nil {
			opts.DefaultGroupID = &id
		} else {
			s.logger.Warn("invalid default group id in provider settings",
				zap.String("provider_id", provider.ID.String()),
				zap.String("group_id", settings.DefaultGroupID),
			)
		}
	}

	report := s.engine.Reconcile(ctx, provider.TeamID, provider.ID, snapshot, opts)
	duration := time.Since(started)
	status := runStatus(report)

	run := s.recordRun(ctx, provider, report, status, started, duration)

	s.logger.Info("provider sync finished",
		zap.String("provider_id", provider.ID.String()),
		zap.String("team_id", provider.TeamID.String()),
		zap.String("status", status),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("suspended", report.Suspended),
		zap.Int("reactivated", report.Reactivated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("added_to_group", report.AddedToGroup),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("duration", duration),
	)
	for i, msg := range report.Errors {
		if i == maxLoggedErrors {
			s.logger.Warn("more sync errors suppressed", zap.Int("count", len(report.Errors)-maxLoggedErrors))
			break
		}
		s.logger.Warn(msg, zap.String("provider_id", provider.ID.String()))
	}

	s.metrics.Runs.WithLabelValues(status).Inc()
	s.metrics.Duration.Observe(duration.Seconds())
	s.metrics.Users.WithLabelValues("created").Add(float64(report.Created))
	s.metrics.Users.WithLabelValues("updated").Add(float64(report.Updated))
	s.metrics.Users.WithLabelValues("suspended").Add(float64(report.Suspended))
	s.metrics.Users.WithLabelValues("reactivated").Add(float64(report.Reactivated))
	s.metrics.Users.WithLabelValues("unchanged").Add(float64(report.Unchanged))
	s.metrics.Users.WithLabelValues("added_to_group").Add(float64(report.AddedToGroup))

	if s.alerts != nil && status != db.SyncRunSuccess {
		if err := s.alerts.RunDegraded(ctx, provider.Name, run); err != nil {
			s.logger.Warn("failed to deliver sync alert",
				zap.String("provider_id", provider.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// recordRun persists the audit row for one reconciliation and returns it.
// Recording is best-effort: a failed insert is logged and the tick continues
// with the unsaved row.
func (s *Scheduler) recordRun(ctx context.Context, provider *db.AuthenticationProvider, report *usersync.Report, status string, started time.Time, duration time.Duration) *db.SyncRun {
	kept := report.Errors
	if len(kept) > maxLoggedErrors {
		kept = kept[:maxLoggedErrors]
	}
	if kept == nil {
		kept = []string{}
	}
	encoded, err := json.Marshal(kept)
	if err != nil {
		encoded = []byte("[]")
	}

	run := &db.SyncRun{
		AuthenticationProviderID: provider.ID,
		TeamID:                   provider.TeamID,
		Status:                   status,
		StartedAt:                started,
		CompletedAt:              started.Add(duration),
		DurationMS:               duration.Milliseconds(),
		Created:                  report.Created,
		Updated:                  report.Updated,
		Suspended:                report.Suspended,
		Reactivated:              report.Reactivated,
		Unchanged:                report.Unchanged,
		AddedToGroup:             report.AddedToGroup,
		Errors:                   string(encoded),
	}
	if err := s.store.SyncRuns.Create(ctx, run); err != nil {
		s.logger.Warn("failed to record sync run",
			zap.String("provider_id", provider.ID.String()),
			zap.Error(err),
		)
	}
	return run
}

// runStatus classifies a report: failed when errors exist and nothing was
// processed (a precondition abort), partial when work happened alongside
// errors, success otherwise.
func runStatus(r *usersync.Report) string {
	switch {
	case len(r.Errors) == 0:
		return db.SyncRunSuccess
	case r.Total() == 0:
		return db.SyncRunFailed
	default:
		return db.SyncRunPartial
	}
}

func (s *Scheduler) describeSchedule() string {
	if s.cfg.Schedule != "" {
		return s.cfg.Schedule
	}
	return "every " + s.cfg.Interval.String()
}
