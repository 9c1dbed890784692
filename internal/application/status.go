package application

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
)

// Status is the per-account failure board. Failures are recorded here and
// logged; none of them stops the process.
type Status struct {
	mu       sync.Mutex
	now      func() time.Time
	accounts map[string]model.AccountStatus
}

// NewStatus creates an empty board.
func NewStatus() *Status {
	return &Status{now: time.Now, accounts: make(map[string]model.AccountStatus)}
}

func (s *Status) entry(name string) model.AccountStatus {
	st, ok := s.accounts[name]
	if !ok {
		st = model.AccountStatus{Account: name, SessionValid: true}
	}
	return st
}

// MarkFailure records a non-session error for name.
func (s *Status) MarkFailure(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.entry(name)
	st.LastError = err.Error()
	st.LastErrorAt = s.now()
	s.accounts[name] = st
}

// MarkSessionInvalid records that name needs to log in again.
func (s *Status) MarkSessionInvalid(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.entry(name)
	st.SessionValid = false
	st.LastError = err.Error()
	st.LastErrorAt = s.now()
	s.accounts[name] = st
}

// MarkRefreshed records a successful session refresh and clears any error.
func (s *Status) MarkRefreshed(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.entry(name)
	st.SessionValid = true
	st.LastError = ""
	st.LastErrorAt = time.Time{}
	st.LastRefreshAt = s.now()
	s.accounts[name] = st
}

// Forget removes name from the board.
func (s *Status) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, name)
}

// Get returns the status of name. Unknown accounts report a valid session.
func (s *Status) Get(name string) model.AccountStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(name)
}

// Snapshot returns every recorded status sorted by account name.
func (s *Status) Snapshot() []model.AccountStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.AccountStatus, 0, len(s.accounts))
	for _, st := range s.accounts {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b model.AccountStatus) int {
		return strings.Compare(a.Account, b.Account)
	})
	return out
}
