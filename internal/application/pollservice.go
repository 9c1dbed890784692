package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// ProviderSource supplies live providers. AccountService implements it.
type ProviderSource interface {
	Snapshot() []driven.CredentialProvider
	Provider(name string) (driven.CredentialProvider, error)
}

// checkRequest represents a manual confirmation check.
type checkRequest struct {
	done chan checkResult
}

type checkResult struct {
	batch model.ConfirmationBatch
	err   error
}

// PollService periodically fetches pending confirmations and delivers them
// as one batch per cycle. No new cycle starts while a delivered batch waits
// for acknowledgment.
type PollService struct {
	accounts ProviderSource
	active   func() string
	status   *Status
	activity driven.ActivityStore
	now      func() time.Time

	notifications chan model.ConfirmationBatch
	settingsCh    chan struct{}
	checkCh       chan checkRequest

	mu       sync.Mutex
	settings model.Settings
	pending  *model.ConfirmationBatch
}

// NewPollService creates a PollService. active returns the name of the
// account polled when CheckAllAccounts is off.
func NewPollService(
	accounts ProviderSource,
	active func() string,
	status *Status,
	activity driven.ActivityStore,
	settings model.Settings,
) *PollService {
	return &PollService{
		accounts:      accounts,
		active:        active,
		status:        status,
		activity:      activity,
		now:           time.Now,
		notifications: make(chan model.ConfirmationBatch, 1),
		settingsCh:    make(chan struct{}, 1),
		checkCh:       make(chan checkRequest),
		settings:      settings.Normalize(),
	}
}

// Notifications delivers each new batch once.
func (s *PollService) Notifications() <-chan model.ConfirmationBatch {
	return s.notifications
}

// UpdateSettings applies new polling settings. The running loop picks them
// up and resets its ticker. It never blocks.
func (s *PollService) UpdateSettings(settings model.Settings) {
	s.mu.Lock()
	s.settings = settings.Normalize()
	s.mu.Unlock()

	select {
	case s.settingsCh <- struct{}{}:
	default:
	}
}

func (s *PollService) currentSettings() model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Start runs the polling loop until ctx is canceled. The ticker only runs
// while periodic checking is enabled; manual checks are served either way.
func (s *PollService) Start(ctx context.Context) {
	var ticker *time.Ticker
	var tick <-chan time.Time

	reset := func(settings model.Settings) {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
		if settings.PeriodicChecking {
			ticker = time.NewTicker(time.Duration(settings.PeriodicCheckingInterval) * time.Second)
			tick = ticker.C
		}
	}
	reset(s.currentSettings())
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poll service stopped")
			return
		case <-tick:
			if _, err := s.pollCycle(ctx); err != nil && ctx.Err() == nil {
				slog.Error("confirmation poll failed", "error", err)
			}
		case <-s.settingsCh:
			settings := s.currentSettings()
			reset(settings)
			slog.Info("poll settings updated",
				"enabled", settings.PeriodicChecking,
				"interval_seconds", settings.PeriodicCheckingInterval,
				"check_all", settings.CheckAllAccounts,
			)
		case req := <-s.checkCh:
			batch, err := s.pollCycle(ctx)
			req.done <- checkResult{batch: batch, err: err}
		}
	}
}

// CheckNow runs one poll cycle immediately, subject to the same pending-batch
// gating as the ticker. It returns the pending batch when one exists, or an
// empty batch when nothing was found. It blocks until the cycle finishes or
// ctx is canceled.
func (s *PollService) CheckNow(ctx context.Context) (model.ConfirmationBatch, error) {
	done := make(chan checkResult, 1)

	select {
	case s.checkCh <- checkRequest{done: done}:
	case <-ctx.Done():
		return model.ConfirmationBatch{}, ctx.Err()
	}

	select {
	case res := <-done:
		return res.batch, res.err
	case <-ctx.Done():
		return model.ConfirmationBatch{}, ctx.Err()
	}
}

// pollCycle fetches confirmations from every target and publishes a non-empty
// result. A pending batch suppresses the cycle and is returned as is.
func (s *PollService) pollCycle(ctx context.Context) (model.ConfirmationBatch, error) {
	if batch, ok := s.Pending(); ok {
		slog.Debug("poll skipped, batch awaiting acknowledgment", "batch", batch.ID)
		return batch, nil
	}

	start := time.Now()
	targets, err := s.targets()
	if err != nil {
		return model.ConfirmationBatch{}, err
	}

	var all []model.Confirmation
	var pollErrors int
	for _, p := range targets {
		if ctx.Err() != nil {
			return model.ConfirmationBatch{}, ctx.Err()
		}

		confs, err := p.FetchConfirmations(ctx)
		if err != nil {
			s.recordFailure(p.AccountName(), err)
			pollErrors++
			continue
		}
		all = append(all, confs...)
	}

	slog.Info("poll cycle complete",
		"accounts", len(targets),
		"confirmations", len(all),
		"errors", pollErrors,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if len(all) == 0 || ctx.Err() != nil {
		return model.ConfirmationBatch{}, nil
	}

	batch := model.ConfirmationBatch{
		ID:            uuid.NewString(),
		Confirmations: all,
		CreatedAt:     s.now(),
	}

	s.mu.Lock()
	s.pending = &batch
	s.mu.Unlock()

	s.publish(batch)
	return batch, nil
}

// targets returns the providers to poll this cycle in manifest order.
func (s *PollService) targets() ([]driven.CredentialProvider, error) {
	if s.currentSettings().CheckAllAccounts {
		return s.accounts.Snapshot(), nil
	}

	name := s.active()
	if name == "" {
		return nil, nil
	}
	p, err := s.accounts.Provider(name)
	if err != nil {
		return nil, err
	}
	return []driven.CredentialProvider{p}, nil
}

func (s *PollService) recordFailure(account string, err error) {
	if errors.Is(err, driven.ErrSessionInvalid) {
		s.status.MarkSessionInvalid(account, err)
		slog.Warn("confirmation fetch failed, session invalid", "account", account, "error", err)
		return
	}
	s.status.MarkFailure(account, err)
	slog.Error("confirmation fetch failed", "account", account, "error", err)
}

// publish replaces any undelivered batch with the new one.
func (s *PollService) publish(batch model.ConfirmationBatch) {
	for {
		select {
		case s.notifications <- batch:
			return
		default:
		}
		select {
		case <-s.notifications:
		default:
		}
	}
}

// Pending returns the batch awaiting acknowledgment, if any.
func (s *PollService) Pending() (model.ConfirmationBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return model.ConfirmationBatch{}, false
	}
	batch := *s.pending
	batch.Confirmations = slices.Clone(batch.Confirmations)
	return batch, true
}

// Acknowledge clears the pending batch when batchID matches it, allowing the
// next poll cycle to run.
func (s *PollService) Acknowledge(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.ID != batchID {
		return false
	}
	s.pending = nil
	return true
}

// Respond accepts or denies one confirmation of the pending batch. A
// successful response removes it from the batch; the batch is acknowledged
// once it is empty.
func (s *PollService) Respond(ctx context.Context, account, confirmationID string, accept bool) error {
	conf, ok := s.findPending(account, confirmationID)
	if !ok {
		return fmt.Errorf("confirmation %s for %q: %w", confirmationID, account, driven.ErrConfirmationNotFound)
	}

	p, err := s.accounts.Provider(account)
	if err != nil {
		return err
	}

	resp, action := model.ResponseDeny, model.ActivityDenied
	if accept {
		resp, action = model.ResponseAccept, model.ActivityAccepted
	}

	err = p.RespondToConfirmation(ctx, conf, resp)
	recordActivity(ctx, s.activity, model.Activity{
		Account: account,
		Action:  action,
		Subject: conf.ID,
		Detail:  conf.Description,
		Success: err == nil,
	})
	if err != nil {
		s.recordFailure(account, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Confirmations = slices.DeleteFunc(s.pending.Confirmations, func(c model.Confirmation) bool {
			return c.Account == account && c.ID == confirmationID
		})
		if len(s.pending.Confirmations) == 0 {
			s.pending = nil
		}
	}
	return nil
}

func (s *PollService) findPending(account, id string) (model.Confirmation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return model.Confirmation{}, false
	}
	for _, c := range s.pending.Confirmations {
		if c.Account == account && c.ID == id {
			return c, true
		}
	}
	return model.Confirmation{}, false
}
