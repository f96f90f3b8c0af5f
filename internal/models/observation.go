// Package models defines the core domain entities for the observatory.
// These models represent raw topic observations, their normalized per-country
// aggregates, and the derived hotspot and flow views.
// All models include built-in validation to ensure data integrity throughout the application.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/observatory/internal/countries"
)

// Source identifies the public data source an observation came from.
type Source string

const (
	SourceGDELT     Source = "gdelt"
	SourceTrends    Source = "trends"
	SourceWikipedia Source = "wikipedia"
)

// TopicObservation is one topic mention from one source at one point in time.
// Observations are produced by the data source collaborators and never mutated.
type TopicObservation struct {
	ID           string    `json:"id"`
	CountryCode  string    `json:"country_code"`
	RawLabel     string    `json:"raw_label"`
	Source       Source    `json:"source"`
	ObservedAt   time.Time `json:"observed_at"`
	MentionCount int64     `json:"mention_count"`
	Confidence   float64   `json:"confidence"`
}

// Validate checks that all observation fields are valid
func (o *TopicObservation) Validate() error {
	if !countries.IsValidCode(o.CountryCode) {
		return fmt.Errorf("country code %q is not an ISO 3166-1 alpha-2 code", o.CountryCode)
	}
	if strings.TrimSpace(string(o.Source)) == "" {
		return errors.New("source must not be empty")
	}
	if o.ObservedAt.IsZero() {
		return errors.New("observed at must be set")
	}
	if o.MentionCount < 0 {
		return errors.New("mention count must not be negative")
	}
	if !unit(o.Confidence) {
		return errors.New("confidence must be between 0.0 and 1.0")
	}
	return nil
}
