package infra

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeflow/configs"
	"tradeflow/internal/domain"
	"tradeflow/internal/observability"
	"tradeflow/internal/service"
	"tradeflow/internal/utils"
)

// ExitScheduler holds one in-process timer per position that must be
// squared off at a fixed market time. Timers do not survive a restart;
// Initialize rebuilds them from persisted schedule state.
type ExitScheduler struct {
	validator    *service.ValidatorService
	positionRepo domain.PositionRepository
	cfg          configs.SchedulerConfig
	metrics      *observability.Metrics

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

// NewExitScheduler creates a new ExitScheduler
func NewExitScheduler(
	validator *service.ValidatorService,
	positionRepo domain.PositionRepository,
	cfg configs.SchedulerConfig,
	metrics *observability.Metrics,
) *ExitScheduler {
	return &ExitScheduler{
		validator:    validator,
		positionRepo: positionRepo,
		cfg:          cfg,
		metrics:      metrics,
		timers:       make(map[uuid.UUID]*time.Timer),
	}
}

// Schedule arms the auto-exit timer for a position at the given "HH:MM"
// market time. Scheduling an already-scheduled position replaces its
// timer. A time already past today fires immediately rather than
// rolling to tomorrow: intraday positions must not be carried
// overnight.
func (s *ExitScheduler) Schedule(ctx context.Context, position *domain.Position, exitAt string) error {
	hour, minute, err := utils.ParseTimeOfDay(exitAt)
	if err != nil {
		return fmt.Errorf("invalid exit time %q: %w", exitAt, err)
	}

	delay := utils.DelayUntil(utils.GetMarketTime(), hour, minute)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if existing, ok := s.timers[position.ID]; ok {
		existing.Stop()
	}
	positionID := position.ID
	s.timers[positionID] = time.AfterFunc(delay, func() {
		s.fire(positionID)
	})
	count := len(s.timers)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.LiveTimers.Set(float64(count))
	}

	if err := s.positionRepo.SetAutoExitOwned(ctx, positionID, true); err != nil {
		log.Printf("WARNING: Failed to persist auto-exit ownership for position %s: %v", positionID, err)
	}

	log.Printf("[Scheduler] Position %s (%s) exits at %s (in %s)",
		positionID, position.Symbol, exitAt, delay.Round(time.Second))
	return nil
}

// Cancel disarms the auto-exit timer for a position, such as when an
// exit signal closed it first.
func (s *ExitScheduler) Cancel(positionID uuid.UUID) {
	s.mu.Lock()
	timer, ok := s.timers[positionID]
	if ok {
		timer.Stop()
		delete(s.timers, positionID)
	}
	count := len(s.timers)
	s.mu.Unlock()

	if ok {
		if s.metrics != nil {
			s.metrics.LiveTimers.Set(float64(count))
		}
		log.Printf("[Scheduler] Cancelled auto-exit timer for position %s", positionID)
	}
}

// fire runs the validated exit for one position. A timer fires exactly
// once; failures are logged and left to the order monitor, never
// retried here.
func (s *ExitScheduler) fire(positionID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Auto-exit panicked for position %s: %v", positionID, r)
		}
	}()

	s.mu.Lock()
	delete(s.timers, positionID)
	count := len(s.timers)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.LiveTimers.Set(float64(count))
	}

	log.Printf("[Scheduler] Auto square-off firing for position %s", positionID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.validator.ValidatedExit(ctx, positionID, domain.ExitReasonAutoSquareOff); err != nil {
		log.Printf("WARNING: Auto square-off failed for position %s: %v", positionID, err)
	}
}

// Initialize rebuilds timers after a restart from positions that are
// still open and carry a scheduled exit time. It must run before the
// server starts accepting signals.
func (s *ExitScheduler) Initialize(ctx context.Context) error {
	// Flags left TRUE by a previous process are stale: its timers died
	// with it.
	if err := s.positionRepo.ResetAutoExitOwnership(ctx); err != nil {
		return fmt.Errorf("failed to reset auto-exit ownership: %w", err)
	}

	positions, err := s.positionRepo.GetSchedulable(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedulable positions: %w", err)
	}

	recovered := 0
	for _, position := range positions {
		exitAt := s.cfg.DefaultExitTime
		if position.ScheduledExitAt != nil {
			exitAt = *position.ScheduledExitAt
		}
		if err := s.Schedule(ctx, position, exitAt); err != nil {
			log.Printf("WARNING: Failed to reschedule position %s: %v", position.ID, err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		log.Printf("[OK] Recovered %d auto-exit timer(s)", recovered)
	}
	return nil
}

// Teardown stops all timers without firing them, for graceful shutdown.
func (s *ExitScheduler) Teardown() {
	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.LiveTimers.Set(0)
	}
	log.Println("[Scheduler] All auto-exit timers stopped")
}

// DailyCleanup clears any leftover timers and purges closed positions
// past the retention window. It runs after market close, when every
// intraday position should already be flat.
func (s *ExitScheduler) DailyCleanup(ctx context.Context) error {
	s.mu.Lock()
	leftover := len(s.timers)
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.LiveTimers.Set(0)
	}
	if leftover > 0 {
		log.Printf("WARNING: Daily cleanup found %d live timer(s) after market close", leftover)
	}

	cutoff := utils.GetStartOfDay().AddDate(0, 0, -s.cfg.ClosedRetentionDays)
	purged, err := s.positionRepo.PurgeClosedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge closed positions: %w", err)
	}
	if purged > 0 {
		log.Printf("[OK] Purged %d closed position(s) older than %d days", purged, s.cfg.ClosedRetentionDays)
	}

	return nil
}

// TimerCount reports the number of armed timers.
func (s *ExitScheduler) TimerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
