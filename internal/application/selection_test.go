package application_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/guardpanel/internal/application"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

func TestSelection_Filter(t *testing.T) {
	names := []string{"Alice", "Bob", "Anna"}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"empty query", "", []string{"Alice", "Bob", "Anna"}},
		{"regex prefix", "~^A.*", []string{"Alice", "Anna"}},
		{"invalid regex matches all", "~[  ", []string{"Alice", "Bob", "Anna"}},
		{"dotnet syntax", `~(?<first>A)nn\k<first>`, []string{}},
		{"substring", "nn", []string{"Anna"}},
		{"substring is case sensitive", "alice", []string{}},
		{"tilde alone matches all", "~", []string{"Alice", "Bob", "Anna"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := application.NewSelection(nil)
			sel.SetNames(names)
			assert.Equal(t, tt.want, sel.Filter(tt.query))
			assert.Equal(t, tt.want, sel.Visible())
		})
	}
}

func TestSelection_SetNamesSelectsFirst(t *testing.T) {
	var mu sync.Mutex
	var selected []string
	sel := application.NewSelection(func(name string) {
		mu.Lock()
		defer mu.Unlock()
		selected = append(selected, name)
	})

	sel.SetNames([]string{"alice", "bob"})
	assert.Equal(t, "alice", sel.Active())
	assert.Equal(t, 0, sel.Index())

	sel.SetNames([]string{"bob", "alice"})
	assert.Equal(t, "alice", sel.Active(), "existing selection is kept")
	assert.Equal(t, 1, sel.Index())

	sel.SetNames([]string{"bob"})
	assert.Equal(t, "bob", sel.Active(), "vanished selection falls back to the first name")

	sel.SetNames(nil)
	assert.Empty(t, sel.Active())
	assert.Equal(t, -1, sel.Index())

	assert.Equal(t, []string{"alice", "bob"}, selected)
}

func TestSelection_SetActive(t *testing.T) {
	var selected []string
	sel := application.NewSelection(func(name string) { selected = append(selected, name) })
	sel.SetNames([]string{"alice", "bob", "carol"})

	require.NoError(t, sel.SetActive("carol"))
	assert.Equal(t, 2, sel.Index())

	require.NoError(t, sel.SetActive("carol"))
	assert.Equal(t, []string{"alice", "carol", "carol"}, selected, "reselecting fires again")

	err := sel.SetActive("zed")
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)
	assert.Equal(t, "carol", sel.Active())
}

func TestSelection_IndexFollowsFilter(t *testing.T) {
	sel := application.NewSelection(nil)
	sel.SetNames([]string{"Alice", "Bob", "Anna"})
	require.NoError(t, sel.SetActive("Anna"))

	assert.Equal(t, 2, sel.Index())

	sel.Filter("~^A")
	assert.Equal(t, 1, sel.Index())

	sel.Filter("Bob")
	assert.Equal(t, -1, sel.Index())
	assert.Equal(t, "Anna", sel.Active(), "hidden account stays active")

	sel.Filter("")
	assert.Equal(t, 2, sel.Index())
}
