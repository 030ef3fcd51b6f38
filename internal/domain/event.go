package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunEventType string

const (
	RunEventProgress  RunEventType = "progress"
	RunEventCompleted RunEventType = "completed"
)

// RunEvent is emitted by the executor as a run advances and completes.
type RunEvent struct {
	Type RunEventType

	RunID      uuid.UUID
	ScheduleID *uuid.UUID
	Trigger    Trigger

	BrandsDone  int
	BrandsTotal int
	// Percent is monotonically non-decreasing within a run, proportional to
	// brands completed.
	Percent       int
	VehiclesCount int

	// Status and Brands are set on completed events only.
	Status RunStatus
	Brands []BrandResult

	At time.Time
}
