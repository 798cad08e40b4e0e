package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"mls_syncd/config"
	"mls_syncd/models"
	"mls_syncd/storage"
	"mls_syncd/sync"
)

// Scheduler walks the due-check on a cron or fixed interval and polls the
// ops store for operator commands.
type Scheduler struct {
	cfg         *config.Config
	coordinator *sync.Coordinator
	ops         *storage.SQLiteStore
	cron        *cron.Cron
	ticker      *time.Ticker
	stopCh      chan struct{}
}

func New(cfg *config.Config, coordinator *sync.Coordinator, ops *storage.SQLiteStore) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		coordinator: coordinator,
		ops:         ops,
		cron:        cron.New(),
		stopCh:      make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.checkDue(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.checkDue(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// checkDue triggers an incremental sync for every provider whose interval
// has elapsed. Skipped entirely while paused.
func (s *Scheduler) checkDue(ctx context.Context) {
	if s.coordinator.IsPaused() {
		log.Println("Sync is paused, skipping due check")
		return
	}

	for _, providerID := range s.coordinator.ProviderIDs() {
		due, err := s.coordinator.IsDue(ctx, providerID)
		if err != nil {
			log.Printf("Due check for %s: %v", providerID, err)
			continue
		}
		if !due {
			continue
		}

		if _, err := s.coordinator.TriggerSync(ctx, providerID, models.SyncKindIncremental, "scheduled"); err != nil {
			if errors.Is(err, sync.ErrSyncInProgress) {
				continue
			}
			log.Printf("Scheduled trigger for %s: %v", providerID, err)
		}
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.ops.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.ops.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := s.ops.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	kind := models.SyncKindIncremental
	if params.Kind == string(models.SyncKindFull) {
		kind = models.SyncKindFull
	}

	switch cmd.Command {
	case models.CmdSyncNow:
		for _, providerID := range s.coordinator.ProviderIDs() {
			if _, err := s.coordinator.TriggerSync(ctx, providerID, kind, "command"); err != nil && !errors.Is(err, sync.ErrSyncInProgress) {
				log.Printf("Trigger %s: %v", providerID, err)
			}
		}
		return nil
	case models.CmdSyncProvider:
		if params.Provider == "" {
			return fmt.Errorf("sync_provider command without provider")
		}
		_, err := s.coordinator.TriggerSync(ctx, params.Provider, kind, "command")
		return err
	case models.CmdCancelSync:
		if params.Provider == "" {
			return fmt.Errorf("cancel_sync command without provider")
		}
		return s.coordinator.CancelSync(ctx, params.Provider)
	case models.CmdPause:
		s.coordinator.Pause()
	case models.CmdResume:
		s.coordinator.Resume()
	}

	return nil
}

// TriggerNow runs the due check immediately, ignoring the schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.checkDue(ctx)
}
