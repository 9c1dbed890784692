package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodeWindow(t *testing.T) {
	tests := []struct {
		unix int64
		want int64
	}{
		{0, 0},
		{29, 0},
		{30, 1},
		{59, 1},
		{1700000000, 56666666},
		{-1, -1},
		{-30, -1},
		{-31, -2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeWindow(time.Unix(tt.unix, 0)), "t=%d", tt.unix)
	}
}

func TestSecondsRemaining(t *testing.T) {
	tests := []struct {
		unix int64
		want int
	}{
		{0, 30},
		{1, 29},
		{29, 1},
		{30, 30},
		{-1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SecondsRemaining(time.Unix(tt.unix, 0)), "t=%d", tt.unix)
	}
}

func TestWindowOfCustomPeriod(t *testing.T) {
	minute := time.Minute
	assert.Equal(t, int64(0), WindowOf(time.Unix(59, 0), minute))
	assert.Equal(t, int64(1), WindowOf(time.Unix(60, 0), minute))
	assert.Equal(t, int64(-1), WindowOf(time.Unix(-1, 0), minute))

	assert.Equal(t, 60, RemainingIn(time.Unix(0, 0), minute))
	assert.Equal(t, 15, RemainingIn(time.Unix(45, 0), minute))
	assert.Equal(t, 1, RemainingIn(time.Unix(119, 0), minute))

	assert.Equal(t, CodeWindow(time.Unix(45, 0)), WindowOf(time.Unix(45, 0), 0), "zero period uses the default")
}

func TestSettingsNormalize(t *testing.T) {
	s := Settings{PeriodicCheckingInterval: -4}.Normalize()
	assert.Equal(t, DefaultCheckingInterval, s.PeriodicCheckingInterval)
	assert.Equal(t, DefaultLanguage, s.Language)

	kept := Settings{PeriodicCheckingInterval: 12, Language: "de"}.Normalize()
	assert.Equal(t, 12, kept.PeriodicCheckingInterval)
	assert.Equal(t, "de", kept.Language)
}

func TestDeactivationSchemeValid(t *testing.T) {
	assert.True(t, DeactivateNone.Valid())
	assert.True(t, DeactivateRemoveAll.Valid())
	assert.False(t, DeactivationScheme(3).Valid())
	assert.False(t, DeactivationScheme(-1).Valid())
}
