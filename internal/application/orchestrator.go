package application

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// DefaultTickInterval is the cadence of code regeneration.
const DefaultTickInterval = time.Second

// Orchestrator drives the foreground tick (alignment and code generation),
// runs the confirmation poller beside it, and refreshes the session of each
// newly selected account.
type Orchestrator struct {
	accounts  *AccountService
	clock     *Clock
	sessions  *SessionCache
	selection *Selection
	poller    *PollService
	status    *Status
	activity  driven.ActivityStore
	interval  time.Duration

	codes chan model.CodeUpdate

	mu        sync.Mutex
	runCtx    context.Context
	deferred  string
	latest    model.CodeUpdate
	hasLatest bool
	known     []string
}

// NewOrchestrator wires the services together. It subscribes to account list
// changes so the selection and caches follow the manifest.
func NewOrchestrator(
	accounts *AccountService,
	clock *Clock,
	sessions *SessionCache,
	status *Status,
	activity driven.ActivityStore,
	interval time.Duration,
) *Orchestrator {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	o := &Orchestrator{
		accounts: accounts,
		clock:    clock,
		sessions: sessions,
		status:   status,
		activity: activity,
		interval: interval,
		codes:    make(chan model.CodeUpdate, 1),
	}
	o.selection = NewSelection(o.onSelect)
	o.poller = NewPollService(accounts, o.selection.Active, status, activity, accounts.Settings())
	accounts.OnNamesChanged(o.onNamesChanged)
	return o
}

// Selection returns the account selection and filter.
func (o *Orchestrator) Selection() *Selection { return o.selection }

// Poller returns the confirmation poller.
func (o *Orchestrator) Poller() *PollService { return o.poller }

// Codes delivers the latest code update. Only the newest value is kept.
func (o *Orchestrator) Codes() <-chan model.CodeUpdate { return o.codes }

// Notifications delivers confirmation batches.
func (o *Orchestrator) Notifications() <-chan model.ConfirmationBatch {
	return o.poller.Notifications()
}

// Open loads and, when possible, unlocks the manifest, then hands the
// persisted settings to the poller. ErrWrongPasskey leaves the manifest
// locked but otherwise usable.
func (o *Orchestrator) Open(ctx context.Context, passkey string) error {
	err := o.accounts.Open(ctx, passkey)
	if err != nil && !errors.Is(err, driven.ErrWrongPasskey) {
		return err
	}
	o.poller.UpdateSettings(o.accounts.Settings())
	return err
}

// Unlock decrypts the manifest and refreshes the active account's session,
// which could not be refreshed while the entries were sealed.
func (o *Orchestrator) Unlock(ctx context.Context, passkey string) error {
	if err := o.accounts.Unlock(ctx, passkey); err != nil {
		return err
	}
	if name := o.selection.Active(); name != "" {
		o.onSelect(name)
	}
	return nil
}

// Start runs the fast tick and the poller until ctx is canceled. It blocks
// until both have stopped.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	o.runCtx = ctx
	deferred := o.deferred
	o.deferred = ""
	o.mu.Unlock()

	if deferred != "" {
		o.onSelect(deferred)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.poller.Start(ctx)
	}()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			slog.Info("orchestrator stopped")
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick aligns time in the background and regenerates the active code.
func (o *Orchestrator) tick(ctx context.Context) {
	o.clock.MaybeAlign(ctx)

	update, err := o.generate()
	if err != nil {
		if !errors.Is(err, driven.ErrAccountNotFound) && !errors.Is(err, driven.ErrLocked) {
			slog.Error("code generation failed", "account", update.Account, "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	o.publish(update)
}

func (o *Orchestrator) generate() (model.CodeUpdate, error) {
	name := o.selection.Active()
	if name == "" {
		return model.CodeUpdate{}, driven.ErrAccountNotFound
	}
	p, err := o.accounts.Provider(name)
	if err != nil {
		return model.CodeUpdate{Account: name}, err
	}

	now := o.clock.Now()
	code, err := p.GenerateCode(now)
	if err != nil {
		return model.CodeUpdate{Account: name}, err
	}

	period := model.CodePeriod
	if pp, ok := p.(driven.CodePeriodProvider); ok {
		period = pp.CodePeriod()
	}

	st := o.clock.Status()
	return model.CodeUpdate{
		Account:          name,
		Code:             code,
		Window:           model.WindowOf(now, period),
		SecondsRemaining: model.RemainingIn(now, period),
		Aligned:          st.Aligned,
		Aligning:         st.Aligning,
		GeneratedAt:      now,
	}, nil
}

func (o *Orchestrator) publish(update model.CodeUpdate) {
	o.mu.Lock()
	o.latest, o.hasLatest = update, true
	o.mu.Unlock()

	for {
		select {
		case o.codes <- update:
			return
		default:
		}
		select {
		case <-o.codes:
		default:
		}
	}
}

// Latest returns the most recently published code update.
func (o *Orchestrator) Latest() (model.CodeUpdate, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest, o.hasLatest
}

// Code generates the active account's code now, without waiting for a tick.
func (o *Orchestrator) Code() (model.CodeUpdate, error) {
	return o.generate()
}

// Select makes name the active account and refreshes its session in the
// background. Selecting the active account again retries a failed refresh.
func (o *Orchestrator) Select(name string) error {
	return o.selection.SetActive(name)
}

func (o *Orchestrator) onSelect(name string) {
	o.mu.Lock()
	ctx := o.runCtx
	if ctx == nil {
		o.deferred = name
	}
	o.mu.Unlock()

	if ctx == nil {
		return
	}
	go func() {
		_ = o.refresh(ctx, name)
	}()
}

// Refresh forces a new session refresh for name and waits for it.
func (o *Orchestrator) Refresh(ctx context.Context, name string) error {
	if _, err := o.accounts.Provider(name); err != nil {
		return err
	}
	o.sessions.Forget(name)
	return o.refresh(ctx, name)
}

// refresh renews name's session once per process lifetime, persists the new
// tokens and records the outcome. Results after shutdown are dropped.
func (o *Orchestrator) refresh(ctx context.Context, name string) error {
	p, err := o.accounts.Provider(name)
	if err != nil {
		return err
	}

	refreshed, err := o.sessions.EnsureFresh(ctx, name, p.RefreshSession)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		if errors.Is(err, driven.ErrSessionInvalid) {
			o.status.MarkSessionInvalid(name, err)
		} else {
			o.status.MarkFailure(name, err)
		}
		slog.Warn("session refresh failed", "account", name, "error", err)
		recordActivity(ctx, o.activity, model.Activity{Account: name, Action: model.ActivitySessionRefresh, Detail: err.Error()})
		return err
	}
	if !refreshed {
		return nil
	}

	o.status.MarkRefreshed(name)
	if err := o.accounts.SaveSession(ctx, name); err != nil {
		slog.Error("persist refreshed session failed", "account", name, "error", err)
	}
	recordActivity(ctx, o.activity, model.Activity{Account: name, Action: model.ActivitySessionRefresh, Success: true})
	slog.Info("session refreshed", "account", name)
	return nil
}

// onNamesChanged keeps the selection in step with the manifest and forgets
// cached state of accounts that were removed.
func (o *Orchestrator) onNamesChanged(names []string) {
	o.mu.Lock()
	previous := o.known
	o.known = names
	o.mu.Unlock()

	for _, name := range previous {
		if !slices.Contains(names, name) {
			o.sessions.Forget(name)
			o.status.Forget(name)
		}
	}
	o.selection.SetNames(names)
}

// UpdateSettings persists settings and applies them to the poller.
func (o *Orchestrator) UpdateSettings(ctx context.Context, settings model.Settings) (model.Settings, error) {
	saved, err := o.accounts.UpdateSettings(ctx, settings)
	if err != nil {
		return model.Settings{}, err
	}
	o.poller.UpdateSettings(saved)
	return saved, nil
}

// ReloadSettings re-reads settings after an external edit of the manifest
// and applies them to the poller.
func (o *Orchestrator) ReloadSettings(ctx context.Context) {
	settings, err := o.accounts.ReloadSettings(ctx)
	if err != nil {
		slog.Error("reload settings failed", "error", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	o.poller.UpdateSettings(settings)
	slog.Info("settings reloaded from disk")
}
