package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"funding-spread-alerts/internal/alerting"
	"funding-spread-alerts/internal/alerts"
	"funding-spread-alerts/internal/cache"
	"funding-spread-alerts/internal/funding"
	"funding-spread-alerts/internal/lock"
	"funding-spread-alerts/internal/metrics"
	"funding-spread-alerts/internal/storage"
)

// Options tune the alert service.
type Options struct {
	Workers         int
	DeliveryTimeout time.Duration
	LockKey         string
}

// TickSummary reports what one tick did.
type TickSummary struct {
	Due         int
	Sent        int
	NoData      int
	Failed      int
	Deactivated int
	Skipped     string
}

// AlertService evaluates due alert settings against the cached snapshot and dispatches them.
type AlertService struct {
	store    storage.AlertStore
	reader   cache.Reader
	channel  alerting.Channel
	locker   lock.Locker
	recorder *metrics.Recorder
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the alert service. locker and recorder may be nil.
func New(store storage.AlertStore, reader cache.Reader, channel alerting.Channel, locker lock.Locker, recorder *metrics.Recorder, opts Options, logger zerolog.Logger) *AlertService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 15 * time.Second
	}
	if opts.LockKey == "" {
		opts.LockKey = "fundingd:alert-tick"
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	return &AlertService{
		store:    store,
		reader:   reader,
		channel:  channel,
		locker:   locker,
		recorder: recorder,
		opts:     opts,
		logger:   logger.With().Str("component", "alert_service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Tick adapts ProcessTick to the scheduler signature.
func (s *AlertService) Tick(ctx context.Context, _ time.Time) error {
	_, err := s.ProcessTick(ctx, s.now())
	return err
}

// ProcessTick handles every setting that is due at now. Per-setting failures are recorded
// and logged; only lock and store lookup failures are returned.
func (s *AlertService) ProcessTick(ctx context.Context, now time.Time) (TickSummary, error) {
	started := time.Now()

	unlock, err := lock.Acquire(ctx, s.locker, s.opts.LockKey)
	if errors.Is(err, lock.ErrLockHeld) {
		s.logger.Debug().Msg("skip tick because lock held elsewhere")
		s.recorder.ObserveAlertTick("locked", time.Since(started))
		return TickSummary{Skipped: "locked"}, nil
	}
	if err != nil {
		s.recorder.ObserveAlertTick("error", time.Since(started))
		return TickSummary{}, fmt.Errorf("acquire tick lock: %w", err)
	}
	defer unlock()

	snapshots, generatedAt := s.reader.Get()
	if generatedAt.IsZero() {
		s.logger.Warn().Msg("funding cache not populated yet, skipping notifications")
		s.recorder.ObserveAlertTick("cache_empty", time.Since(started))
		return TickSummary{Skipped: "cache_empty"}, nil
	}

	due, err := s.store.FindDue(ctx, now)
	if err != nil {
		s.recorder.ObserveAlertTick("error", time.Since(started))
		return TickSummary{}, fmt.Errorf("find due settings: %w", err)
	}

	summary := TickSummary{Due: len(due)}
	if len(due) == 0 {
		s.recorder.ObserveAlertTick("idle", time.Since(started))
		return summary, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Workers)
	for _, setting := range due {
		g.Go(func() error {
			status, deactivated := s.processSetting(ctx, setting, snapshots, generatedAt, now)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case alerts.StatusSent:
				summary.Sent++
			case alerts.StatusNoData:
				summary.NoData++
			default:
				summary.Failed++
			}
			if deactivated {
				summary.Deactivated++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.recorder.ObserveAlertTick("processed", time.Since(started))
	s.logger.Info().
		Int("due", summary.Due).
		Int("sent", summary.Sent).
		Int("no_data", summary.NoData).
		Int("failed", summary.Failed).
		Int("deactivated", summary.Deactivated).
		Msg("alert tick complete")
	return summary, nil
}

func (s *AlertService) processSetting(ctx context.Context, setting alerts.Setting, snapshots []funding.MarketSnapshot, generatedAt, now time.Time) (status alerts.Status, deactivated bool) {
	logger := s.logger.With().Int64("setting_id", setting.ID).Int64("owner_id", setting.OwnerID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("setting processing panicked")
			status, deactivated = alerts.StatusFailed, false
			s.record(ctx, logger, setting, now, 0, alerts.StatusFailed)
		}
		s.recorder.Notification(string(status))
	}()

	opps := alerts.Select(snapshots, setting)
	if len(opps) == 0 {
		s.record(ctx, logger, setting, now, 0, alerts.StatusNoData)
		s.markSent(ctx, logger, setting, now)
		logger.Debug().Time("next_check", setting.NextCheck(now)).Msg("no opportunities matched")
		return alerts.StatusNoData, false
	}

	message := alerting.FormatAlert(setting, opps, generatedAt)

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.DeliveryTimeout)
	err := s.channel.Send(sendCtx, setting.OwnerID, message)
	cancel()

	if err != nil {
		s.record(ctx, logger, setting, now, len(opps), alerts.StatusFailed)
		if errors.Is(err, alerting.ErrRecipientUnreachable) {
			if derr := s.store.DeactivateSetting(ctx, setting.ID); derr != nil {
				logger.Error().Err(derr).Msg("failed to deactivate unreachable setting")
			} else {
				deactivated = true
			}
			logger.Warn().Err(err).Bool("deactivated", deactivated).Msg("recipient unreachable")
			return alerts.StatusFailed, deactivated
		}
		logger.Error().Err(err).Msg("delivery failed, will retry on next tick")
		return alerts.StatusFailed, false
	}

	s.record(ctx, logger, setting, now, len(opps), alerts.StatusSent)
	s.markSent(ctx, logger, setting, now)
	logger.Info().Int("markets", len(opps)).Time("next_check", setting.NextCheck(now)).Msg("alert sent")
	return alerts.StatusSent, false
}

func (s *AlertService) record(ctx context.Context, logger zerolog.Logger, setting alerts.Setting, now time.Time, count int, status alerts.Status) {
	rec := alerts.NotificationRecord{
		SettingID:    setting.ID,
		OwnerID:      setting.OwnerID,
		SentAt:       now,
		MarketsCount: count,
		Status:       status,
	}
	if err := s.store.RecordNotification(ctx, rec); err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("failed to record notification")
	}
}

func (s *AlertService) markSent(ctx context.Context, logger zerolog.Logger, setting alerts.Setting, now time.Time) {
	if err := s.store.UpdateLastSent(ctx, setting.ID, now); err != nil {
		logger.Error().Err(err).Msg("failed to update last sent")
	}
}
