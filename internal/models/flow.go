package models

import (
	"errors"
	"math"
	"time"
)

// TopicSummary is a compact view of a topic inside a hotspot.
type TopicSummary struct {
	Label      string  `json:"label"`
	Count      int64   `json:"count"`
	Confidence float64 `json:"confidence"`
}

// HotspotComponents are the raw sub-scores behind a hotspot intensity.
type HotspotComponents struct {
	Volume     float64 `json:"volume"`
	Velocity   float64 `json:"velocity"`
	Confidence float64 `json:"confidence"`
}

// Hotspot is the per-country composite intensity over current topics.
type Hotspot struct {
	Country     string            `json:"country"`
	CountryName string            `json:"country_name,omitempty"`
	Latitude    float64           `json:"latitude,omitempty"`
	Longitude   float64           `json:"longitude,omitempty"`
	Intensity   float64           `json:"intensity"`
	TopicCount  int               `json:"topic_count"`
	Confidence  float64           `json:"confidence"`
	TopTopics   []TopicSummary    `json:"top_topics"`
	Components  HotspotComponents `json:"components"`
	Sources     []Source          `json:"sources,omitempty"`
	// SourceCount is the number of distinct sources behind the topics and
	// SourceDiversity that number per topic, capped at 1.
	SourceCount     int     `json:"source_count"`
	SourceDiversity float64 `json:"source_diversity"`
}

// Validate checks that all hotspot fields are valid
func (h *Hotspot) Validate() error {
	if h.Country == "" {
		return errors.New("hotspot country must not be empty")
	}
	if !unit(h.Intensity) {
		return errors.New("intensity must be between 0.0 and 1.0")
	}
	if h.TopicCount < 0 {
		return errors.New("topic count must not be negative")
	}
	if h.TopicCount == 0 && h.Intensity != 0 {
		return errors.New("a hotspot without topics must have zero intensity")
	}
	if !unit(h.SourceDiversity) {
		return errors.New("source diversity must be between 0.0 and 1.0")
	}
	return nil
}

// Flow is a directional edge between two countries' narratives.
type Flow struct {
	FromCountry     string    `json:"from_country"`
	ToCountry       string    `json:"to_country"`
	Heat            float64   `json:"heat"`
	SimilarityScore float64   `json:"similarity_score"`
	TimeDeltaHours  float64   `json:"time_delta_hours"`
	SharedTopics    []string  `json:"shared_topics"`
	FromCoords      []float64 `json:"from_coords,omitempty"`
	ToCoords        []float64 `json:"to_coords,omitempty"`
}

// Validate checks that all flow fields are valid
func (f *Flow) Validate() error {
	if f.FromCountry == "" || f.ToCountry == "" {
		return errors.New("flow endpoints must not be empty")
	}
	if f.FromCountry == f.ToCountry {
		return errors.New("flow endpoints must be distinct")
	}
	if !unit(f.Heat) {
		return errors.New("heat must be between 0.0 and 1.0")
	}
	if !unit(f.SimilarityScore) {
		return errors.New("similarity must be between 0.0 and 1.0")
	}
	if f.Heat > f.SimilarityScore+1e-9 {
		return errors.New("heat must not exceed similarity")
	}
	if f.TimeDeltaHours < 0 {
		return errors.New("time delta must not be negative")
	}
	if len(f.SharedTopics) == 0 {
		return errors.New("flow must share at least one topic")
	}
	return nil
}

// Warning codes surfaced on degraded responses.
const (
	WarningUpstreamUnavailable = "upstream_unavailable"
	WarningInvalidObservations = "invalid_observations"
)

// Warning marks a degraded-data path in a response.
type Warning struct {
	Code    string `json:"code"`
	Country string `json:"country,omitempty"`
	Message string `json:"message"`
}

// IngestFailure records a country whose collection failed during ingestion.
type IngestFailure struct {
	Country  string    `json:"country"`
	FailedAt time.Time `json:"failed_at"`
	Message  string    `json:"message"`
}

// FlowsMetadata describes how a response was computed.
type FlowsMetadata struct {
	Formula            string   `json:"formula"`
	Threshold          float64  `json:"threshold"`
	HalfLifeHours      float64  `json:"half_life_hours"`
	TimeWindowHours    float64  `json:"time_window_hours"`
	TotalPairsComputed int      `json:"total_pairs_computed"`
	FlowsReturned      int      `json:"flows_returned"`
	CountriesAnalyzed  []string `json:"countries_analyzed"`
	EmptyCountries     []string `json:"empty_countries,omitempty"`
	DictionaryVersion  string   `json:"dictionary_version,omitempty"`
}

// FlowsResponse is the complete hotspot and flow view for one request.
type FlowsResponse struct {
	TimeWindow  TimeWindow    `json:"time_window"`
	GeneratedAt time.Time     `json:"generated_at"`
	Hotspots    []Hotspot     `json:"hotspots"`
	Flows       []Flow        `json:"flows"`
	Partial     bool          `json:"partial"`
	Warnings    []Warning     `json:"warnings,omitempty"`
	Metadata    FlowsMetadata `json:"metadata"`
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0.0 && v <= 1.0
}
