package models

import (
	"fmt"
	"strings"
	"time"
)

// TimeWindow is the lookback duration over which observations are considered.
type TimeWindow string

const (
	Window1h  TimeWindow = "1h"
	Window6h  TimeWindow = "6h"
	Window12h TimeWindow = "12h"
	Window24h TimeWindow = "24h"
)

// TimeWindows lists the supported windows in ascending order.
var TimeWindows = []TimeWindow{Window1h, Window6h, Window12h, Window24h}

// ParseTimeWindow parses "1h", "6h", "12h" or "24h" (case-insensitive, surrounding space ignored).
func ParseTimeWindow(s string) (TimeWindow, error) {
	w := TimeWindow(strings.ToLower(strings.TrimSpace(s)))
	if w.Valid() {
		return w, nil
	}
	return "", fmt.Errorf("time window %q must be one of 1h, 6h, 12h, 24h", s)
}

// Valid reports whether w is a supported window.
func (w TimeWindow) Valid() bool {
	switch w {
	case Window1h, Window6h, Window12h, Window24h:
		return true
	}
	return false
}

// Duration returns the window length. Invalid windows return 0.
func (w TimeWindow) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window6h:
		return 6 * time.Hour
	case Window12h:
		return 12 * time.Hour
	case Window24h:
		return 24 * time.Hour
	}
	return 0
}

// Hours returns the window length in hours.
func (w TimeWindow) Hours() float64 {
	return w.Duration().Hours()
}
