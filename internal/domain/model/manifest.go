package model

// Default settings applied to a manifest that does not exist yet.
const (
	DefaultCheckingInterval = 5
	DefaultLanguage         = "en"
)

// Settings are the global options persisted alongside the account entries.
// They are written by the external settings surface and read by the
// orchestrator and the confirmation poller.
type Settings struct {
	PeriodicChecking         bool
	PeriodicCheckingInterval int // seconds
	CheckAllAccounts         bool
	Language                 string
	FirstRun                 bool
}

// DefaultSettings returns the settings of a fresh installation.
func DefaultSettings() Settings {
	return Settings{
		PeriodicCheckingInterval: DefaultCheckingInterval,
		Language:                 DefaultLanguage,
		FirstRun:                 true,
	}
}

// Normalize clamps out-of-range values so the poller never sees a zero interval.
func (s Settings) Normalize() Settings {
	if s.PeriodicCheckingInterval < 1 {
		s.PeriodicCheckingInterval = DefaultCheckingInterval
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	return s
}

// Manifest is the view of the persisted manifest available before unlock:
// ordering and names are always readable, payloads may still be sealed.
type Manifest struct {
	Encrypted bool
	Names     []string
	Settings  Settings
}
