package application

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// regexPrefix marks a filter query as a regular expression.
const regexPrefix = "~"

// filterMatchTimeout bounds a single regex match so a pathological pattern
// cannot stall the caller.
const filterMatchTimeout = 100 * time.Millisecond

// Selection tracks the ordered account names, the current filter and the
// active account. Index is always relative to the filtered view.
type Selection struct {
	mu       sync.Mutex
	names    []string
	query    string
	visible  []string
	active   string
	onSelect func(name string)
}

// NewSelection creates an empty Selection. onSelect, if non-nil, is called
// outside the lock on every SetActive and when SetNames picks a new account.
func NewSelection(onSelect func(name string)) *Selection {
	return &Selection{onSelect: onSelect}
}

// SetNames replaces the account list. An active account that disappeared is
// cleared; with nothing active the first name is selected.
func (s *Selection) SetNames(names []string) {
	s.mu.Lock()
	s.names = slices.Clone(names)
	s.visible = filterNames(s.names, s.query)

	var selected string
	if s.active != "" && !slices.Contains(s.names, s.active) {
		s.active = ""
	}
	if s.active == "" && len(s.names) > 0 {
		s.active = s.names[0]
		selected = s.active
	}
	s.mu.Unlock()

	if selected != "" && s.onSelect != nil {
		s.onSelect(selected)
	}
}

// SetActive makes name the active account.
func (s *Selection) SetActive(name string) error {
	s.mu.Lock()
	if !slices.Contains(s.names, name) {
		s.mu.Unlock()
		return fmt.Errorf("select %q: %w", name, driven.ErrAccountNotFound)
	}
	s.active = name
	s.mu.Unlock()

	if s.onSelect != nil {
		s.onSelect(name)
	}
	return nil
}

// Active returns the active account name, or "" when there is none.
func (s *Selection) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Filter sets the current query and returns the matching names in order.
// A query starting with "~" is a regular expression; anything else is a
// case-sensitive substring.
func (s *Selection) Filter(query string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.query = query
	s.visible = filterNames(s.names, query)
	return slices.Clone(s.visible)
}

// Visible returns the names matching the current query.
func (s *Selection) Visible() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.visible)
}

// Index returns the active account's position in the filtered view, or -1.
func (s *Selection) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return -1
	}
	return slices.Index(s.visible, s.active)
}

func filterNames(names []string, query string) []string {
	if query == "" {
		return slices.Clone(names)
	}

	match := substringMatcher(query)
	if pattern, ok := strings.CutPrefix(query, regexPrefix); ok {
		match = regexMatcher(pattern)
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		if match(name) {
			out = append(out, name)
		}
	}
	return out
}

func substringMatcher(query string) func(string) bool {
	return func(name string) bool { return strings.Contains(name, query) }
}

// regexMatcher compiles pattern with .NET-compatible syntax. Invalid patterns
// and match timeouts count as a match, so a half-typed query hides nothing.
func regexMatcher(pattern string) func(string) bool {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return func(string) bool { return true }
	}
	re.MatchTimeout = filterMatchTimeout

	return func(name string) bool {
		ok, err := re.MatchString(name)
		return err != nil || ok
	}
}
