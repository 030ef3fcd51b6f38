package domain

import (
	"time"

	"github.com/google/uuid"
)

type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

type RunStatus string

const (
	RunStatusRunning        RunStatus = "running"
	RunStatusSuccess        RunStatus = "success"
	RunStatusPartialFailure RunStatus = "partial_failure"
	RunStatusFailure        RunStatus = "failure"
)

// Terminal reports whether s is a final run status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusPartialFailure || s == RunStatusFailure
}

// BrandResult is the per-brand outcome within one run.
type BrandResult struct {
	BrandID       uuid.UUID
	BrandName     string
	VehiclesCount int
	Error         string
}

// Run records one republication attempt against a resolved set of brands.
// A run is created in running state and transitions exactly once to a
// terminal state; terminal runs are never mutated.
type Run struct {
	ID uuid.UUID

	// ScheduleID is nil for ad-hoc manual runs not tied to a saved schedule.
	ScheduleID *uuid.UUID
	Trigger    Trigger

	// AllBrands marks runs targeting the full active catalog; the brand set
	// is resolved at execution time.
	AllBrands bool
	BrandIDs  []uuid.UUID

	VehiclesCount int

	RunAt      time.Time
	FinishedAt *time.Time

	Status RunStatus
	// Error describes a whole-batch failure; per-brand errors live in Brands.
	Error string

	Brands []BrandResult
}
