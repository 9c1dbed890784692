package model

import "time"

// CodePeriod is the length of one code window.
const CodePeriod = 30 * time.Second

// CodeWindow returns the index of the 30-second window containing t.
func CodeWindow(t time.Time) int64 {
	return WindowOf(t, CodePeriod)
}

// SecondsRemaining returns how many seconds are left in t's code window,
// in the range 1..30.
func SecondsRemaining(t time.Time) int {
	return RemainingIn(t, CodePeriod)
}

// WindowOf returns the index of the period-long window containing t.
// Periods shorter than a second fall back to CodePeriod.
func WindowOf(t time.Time, period time.Duration) int64 {
	return floorDiv(t.Unix(), periodSeconds(period))
}

// RemainingIn returns how many seconds are left in t's period-long window.
func RemainingIn(t time.Time, period time.Duration) int {
	p := periodSeconds(period)
	return int(p - (t.Unix() - WindowOf(t, period)*p))
}

func periodSeconds(period time.Duration) int64 {
	if period < time.Second {
		period = CodePeriod
	}
	return int64(period / time.Second)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// CodeUpdate is published by the foreground tick for the active account.
type CodeUpdate struct {
	Account          string
	Code             string
	Window           int64
	SecondsRemaining int
	Aligned          bool
	Aligning         bool
	GeneratedAt      time.Time
}
