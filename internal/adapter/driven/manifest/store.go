// Package manifest implements the ManifestStore port as a single JSON file.
// Entry payloads are optionally sealed with a passkey-derived AES-256-GCM key
// and every mutation rewrites the whole file atomically.
package manifest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ManifestStore = (*Store)(nil)

// fileManifest is the on-disk layout. Field order is the serialization order.
type fileManifest struct {
	Encrypted                bool          `json:"encrypted"`
	PasskeyCheck             *passkeyCheck `json:"passkey_check,omitempty"`
	FirstRun                 bool          `json:"first_run"`
	PeriodicChecking         bool          `json:"periodic_checking"`
	PeriodicCheckingInterval int           `json:"periodic_checking_interval"`
	CheckAllAccounts         bool          `json:"check_all_accounts"`
	Language                 string        `json:"language"`
	Entries                  []fileEntry   `json:"entries"`
}

type passkeyCheck struct {
	Salt  []byte `json:"salt"`
	Value []byte `json:"value"`
}

// fileEntry holds the payload verbatim: plaintext bytes for an unencrypted
// manifest, ciphertext plus its salt and nonce otherwise.
type fileEntry struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
	Salt    []byte `json:"salt,omitempty"`
	Nonce   []byte `json:"nonce,omitempty"`
}

// Store is the file-backed ManifestStore. It keeps the last persisted state
// in memory so unchanged ciphertexts are written back byte for byte.
type Store struct {
	mu       sync.Mutex
	path     string
	suite    cipherSuite
	state    fileManifest
	passkey  string
	unlocked bool
	digest   [sha256.Size]byte // of the last bytes read or written
}

// Option configures a Store.
type Option func(*Store)

// WithIterations overrides the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.suite.iterations = n
		}
	}
}

// NewStore creates a Store for the manifest at path. Nothing is read until Load.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:  filepath.Clean(path),
		suite: cipherSuite{iterations: DefaultIterations},
		state: defaultManifest(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the manifest file location.
func (s *Store) Path() string {
	return s.path
}

func defaultManifest() fileManifest {
	d := model.DefaultSettings()
	return fileManifest{
		FirstRun:                 d.FirstRun,
		PeriodicCheckingInterval: d.PeriodicCheckingInterval,
		Language:                 d.Language,
		Entries:                  []fileEntry{},
	}
}

// Load reads the manifest from disk. A missing file yields a default,
// unencrypted manifest that is created on the first save.
func (s *Store) Load(_ context.Context) (model.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, digest, err := s.read()
	if err != nil {
		return model.Manifest{}, err
	}

	switch {
	case !state.Encrypted:
		s.passkey = ""
		s.unlocked = true
	case s.unlocked && s.suite.verify(s.passkey, state.PasskeyCheck):
		// The remembered passkey still opens the file.
	default:
		s.passkey = ""
		s.unlocked = false
	}

	s.state = state
	s.digest = digest
	return s.view(), nil
}

// read parses and validates the file without touching in-memory state.
func (s *Store) read() (fileManifest, [sha256.Size]byte, error) {
	var digest [sha256.Size]byte

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultManifest(), digest, nil
	}
	if err != nil {
		return fileManifest{}, digest, fmt.Errorf("read manifest %s: %w", s.path, err)
	}

	var state fileManifest
	if err := json.Unmarshal(data, &state); err != nil {
		return fileManifest{}, digest, fmt.Errorf("%w: %s: %v", driven.ErrCorruptManifest, s.path, err)
	}
	if err := validate(state); err != nil {
		return fileManifest{}, digest, fmt.Errorf("%w: %s: %v", driven.ErrCorruptManifest, s.path, err)
	}
	if state.Entries == nil {
		state.Entries = []fileEntry{}
	}

	return state, sha256.Sum256(data), nil
}

func validate(state fileManifest) error {
	if state.Encrypted != (state.PasskeyCheck != nil) {
		return errors.New("passkey check must be present exactly when encrypted")
	}

	seen := make(map[string]struct{}, len(state.Entries))
	for i, e := range state.Entries {
		if e.Name == "" {
			return fmt.Errorf("entry %d has no name", i)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("duplicate account name %q", e.Name)
		}
		seen[e.Name] = struct{}{}

		if state.Encrypted && (len(e.Salt) == 0 || len(e.Nonce) == 0) {
			return fmt.Errorf("entry %q lacks encryption metadata", e.Name)
		}
	}
	return nil
}

// ChangedOnDisk reports whether the file content differs from what this
// store last read or wrote. Used to ignore watcher events for our own saves.
func (s *Store) ChangedOnDisk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	return sha256.Sum256(data) != s.digest
}

// Unlock decrypts every entry, all or nothing.
func (s *Store) Unlock(_ context.Context, passkey string) ([]model.AccountEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.decryptAll(s.state, passkey)
	if err != nil {
		return nil, err
	}

	if s.state.Encrypted {
		s.passkey = passkey
	}
	s.unlocked = true
	return entries, nil
}

func (s *Store) decryptAll(state fileManifest, passkey string) ([]model.AccountEntry, error) {
	entries := make([]model.AccountEntry, 0, len(state.Entries))

	if !state.Encrypted {
		for _, e := range state.Entries {
			entries = append(entries, model.AccountEntry{Name: e.Name, Kind: e.Kind, Payload: bytes.Clone(e.Payload)})
		}
		return entries, nil
	}

	if !s.suite.verify(passkey, state.PasskeyCheck) {
		return nil, driven.ErrWrongPasskey
	}

	for _, e := range state.Entries {
		plaintext, err := open(s.suite.deriveKey(passkey, e.Salt), e.Nonce, e.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", driven.ErrWrongPasskey, e.Name, err)
		}
		entries = append(entries, model.AccountEntry{Name: e.Name, Kind: e.Kind, Payload: plaintext})
	}
	return entries, nil
}

// sealEntry produces the on-disk form of entry under passkey, or plaintext
// when passkey is empty.
func (s *Store) sealEntry(entry model.AccountEntry, passkey string) (fileEntry, error) {
	if passkey == "" {
		return fileEntry{Name: entry.Name, Kind: entry.Kind, Payload: bytes.Clone(entry.Payload)}, nil
	}

	salt, err := newSalt()
	if err != nil {
		return fileEntry{}, err
	}
	nonce, ciphertext, err := seal(s.suite.deriveKey(passkey, salt), entry.Payload)
	if err != nil {
		return fileEntry{}, fmt.Errorf("seal entry %q: %w", entry.Name, err)
	}
	return fileEntry{Name: entry.Name, Kind: entry.Kind, Payload: ciphertext, Salt: salt, Nonce: nonce}, nil
}

func (s *Store) writablePasskey() (string, error) {
	if !s.state.Encrypted {
		return "", nil
	}
	if !s.unlocked {
		return "", driven.ErrLocked
	}
	return s.passkey, nil
}

func (s *Store) indexOf(name string) int {
	return slices.IndexFunc(s.state.Entries, func(e fileEntry) bool { return e.Name == name })
}

// Add appends entry and persists.
func (s *Store) Add(_ context.Context, entry model.AccountEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Name == "" {
		return errors.New("account name is required")
	}
	if s.indexOf(entry.Name) >= 0 {
		return fmt.Errorf("add %q: %w", entry.Name, driven.ErrDuplicateAccount)
	}

	passkey, err := s.writablePasskey()
	if err != nil {
		return err
	}
	sealed, err := s.sealEntry(entry, passkey)
	if err != nil {
		return err
	}

	next := s.clone()
	next.Entries = append(next.Entries, sealed)
	return s.persist(next)
}

// Update replaces the stored payload of an existing entry and persists.
func (s *Store) Update(_ context.Context, entry model.AccountEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(entry.Name)
	if idx < 0 {
		return fmt.Errorf("update %q: %w", entry.Name, driven.ErrAccountNotFound)
	}

	passkey, err := s.writablePasskey()
	if err != nil {
		return err
	}
	sealed, err := s.sealEntry(entry, passkey)
	if err != nil {
		return err
	}

	next := s.clone()
	next.Entries[idx] = sealed
	return s.persist(next)
}

// Remove deletes the named entry and persists.
func (s *Store) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(name)
	if idx < 0 {
		return fmt.Errorf("remove %q: %w", name, driven.ErrAccountNotFound)
	}

	next := s.clone()
	next.Entries = slices.Delete(next.Entries, idx, idx+1)
	return s.persist(next)
}

// Move relocates an entry. Indices are checked against the current length;
// anything out of range, or a move onto itself, changes nothing.
func (s *Store) Move(_ context.Context, from, to int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.state.Entries)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return false, nil
	}

	next := s.clone()
	moved := next.Entries[from]
	next.Entries = slices.Delete(next.Entries, from, from+1)
	next.Entries = slices.Insert(next.Entries, to, moved)

	if err := s.persist(next); err != nil {
		return false, err
	}
	return true, nil
}

// Rekey decrypts every entry with oldPasskey into a staging buffer, seals
// them all under newPasskey, and swaps the result in only after the new file
// is safely on disk. An empty newPasskey stores the entries in plaintext.
func (s *Store) Rekey(_ context.Context, oldPasskey, newPasskey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := s.decryptAll(s.state, oldPasskey)
	if err != nil {
		return err
	}

	next := s.clone()
	next.Entries = make([]fileEntry, 0, len(plain))
	next.Encrypted = newPasskey != ""
	next.PasskeyCheck = nil

	if next.Encrypted {
		check, err := s.suite.newCheck(newPasskey)
		if err != nil {
			return err
		}
		next.PasskeyCheck = check
	}

	for _, entry := range plain {
		sealed, err := s.sealEntry(entry, newPasskey)
		if err != nil {
			return err
		}
		next.Entries = append(next.Entries, sealed)
	}

	if err := s.persist(next); err != nil {
		return err
	}

	s.passkey = newPasskey
	s.unlocked = true
	return nil
}

// SaveSettings replaces the settings section and persists.
func (s *Store) SaveSettings(_ context.Context, settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings = settings.Normalize()
	next := s.clone()
	next.FirstRun = settings.FirstRun
	next.PeriodicChecking = settings.PeriodicChecking
	next.PeriodicCheckingInterval = settings.PeriodicCheckingInterval
	next.CheckAllAccounts = settings.CheckAllAccounts
	next.Language = settings.Language
	return s.persist(next)
}

// ReloadSettings reads the file again and adopts only its settings section.
func (s *Store) ReloadSettings(_ context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	disk, digest, err := s.read()
	if err != nil {
		return model.Settings{}, err
	}
	s.digest = digest

	s.state.FirstRun = disk.FirstRun
	s.state.PeriodicChecking = disk.PeriodicChecking
	s.state.PeriodicCheckingInterval = disk.PeriodicCheckingInterval
	s.state.CheckAllAccounts = disk.CheckAllAccounts
	s.state.Language = disk.Language
	return settingsOf(s.state), nil
}

// Save rewrites the current state unchanged.
func (s *Store) Save(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.persist(s.clone())
}

func (s *Store) clone() fileManifest {
	next := s.state
	next.Entries = slices.Clone(s.state.Entries)
	if next.Entries == nil {
		next.Entries = []fileEntry{}
	}
	return next
}

// persist writes next atomically and adopts it as the current state only
// when the write succeeded.
func (s *Store) persist(next fileManifest) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write manifest %s: %w", s.path, err)
	}

	s.state = next
	s.digest = sha256.Sum256(data)
	return nil
}

func (s *Store) view() model.Manifest {
	names := make([]string, 0, len(s.state.Entries))
	for _, e := range s.state.Entries {
		names = append(names, e.Name)
	}
	return model.Manifest{
		Encrypted: s.state.Encrypted,
		Names:     names,
		Settings:  settingsOf(s.state),
	}
}

func settingsOf(state fileManifest) model.Settings {
	return model.Settings{
		PeriodicChecking:         state.PeriodicChecking,
		PeriodicCheckingInterval: state.PeriodicCheckingInterval,
		CheckAllAccounts:         state.CheckAllAccounts,
		Language:                 state.Language,
		FirstRun:                 state.FirstRun,
	}.Normalize()
}
