// Package ratersim drives the rating API with simulated participants.
package ratersim

import (
	"net/http"
	"time"
)

// Outcomes of one rating submission.
const (
	outcomeAccepted  = "accepted"
	outcomeDuplicate = "duplicate"
	outcomeConflict  = "conflict"
	outcomeFailed    = "failed"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Raters      int           // Number of simulated participants
	Concurrency int           // Participants rating at the same time
	MaxItems    int           // Items each participant rates; 0 rates the whole queue
	Timeout     time.Duration // HTTP request timeout
	Prefix      string        // Prefix of generated participant ids
	Seed        uint64        // Seed for generated responses
	Client      *http.Client  // Optional client, e.g. from httptest
}

// Report summarizes a finished run.
type Report struct {
	Raters    int
	Exhausted int
	Accepted  int
	Duplicate int
	Conflict  int
	Failed    int

	MinRatings int
	// PerItem counts accepted ratings per item during this run.
	PerItem map[string]int
	// Overshoot lists items whose stored total exceeds MinRatings.
	Overshoot map[string]int

	Duration time.Duration
}
