package api

import (
	"time"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/executor"
)

// ScheduleRequest creates a schedule. days_of_week and times_of_day are CSV
// strings ("mon,wed,fri", "09:00,18:30"); the handler parses at the boundary.
type ScheduleRequest struct {
	Name       string   `json:"name"`
	Active     *bool    `json:"active,omitempty"` // default true
	DaysOfWeek string   `json:"days_of_week"`
	TimesOfDay string   `json:"times_of_day"`
	BrandIDs   []string `json:"brand_ids"`
}

// UpdateScheduleRequest carries partial changes; absent fields are untouched.
type UpdateScheduleRequest struct {
	Name       *string  `json:"name,omitempty"`
	Active     *bool    `json:"active,omitempty"`
	DaysOfWeek *string  `json:"days_of_week,omitempty"`
	TimesOfDay *string  `json:"times_of_day,omitempty"`
	BrandIDs   []string `json:"brand_ids,omitempty"`
}

type ScheduleResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Active     bool     `json:"active"`
	DaysOfWeek string   `json:"days_of_week"`
	TimesOfDay string   `json:"times_of_day"`
	BrandIDs   []string `json:"brand_ids"`
	LastRunAt  *string  `json:"last_run_at"`
	NextRunAt  *string  `json:"next_run_at"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
}

type BrandResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type ListBrandsResponse struct {
	Brands []BrandResponse `json:"brands"`
}

// ManualRunRequest starts an ad-hoc run. Either all_brands or a non-empty
// brand_ids list must be given.
type ManualRunRequest struct {
	AllBrands bool     `json:"all_brands,omitempty"`
	BrandIDs  []string `json:"brand_ids,omitempty"`
}

// RunStartedResponse acknowledges an accepted run; progress and the final
// record are read separately.
type RunStartedResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type RunBrandResponse struct {
	BrandID       string `json:"brand_id"`
	BrandName     string `json:"brand_name"`
	VehiclesCount int    `json:"vehicles_count"`
	Error         string `json:"error,omitempty"`
}

type RunResponse struct {
	ID            string             `json:"id"`
	ScheduleID    *string            `json:"schedule_id"`
	Trigger       string             `json:"trigger"`
	AllBrands     bool               `json:"all_brands"`
	BrandIDs      []string           `json:"brand_ids"`
	VehiclesCount int                `json:"vehicles_count"`
	RunAt         string             `json:"run_at"`
	FinishedAt    *string            `json:"finished_at"`
	Status        string             `json:"status"`
	Error         string             `json:"error,omitempty"`
	Brands        []RunBrandResponse `json:"brands"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ProgressResponse struct {
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
	BrandsTotal   int    `json:"brands_total"`
	BrandsDone    int    `json:"brands_done"`
	Percent       int    `json:"percent"`
	VehiclesCount int    `json:"vehicles_count"`
	StartedAt     string `json:"started_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func scheduleResponse(s domain.Schedule) ScheduleResponse {
	ids := make([]string, len(s.BrandIDs))
	for i, id := range s.BrandIDs {
		ids[i] = id.String()
	}
	return ScheduleResponse{
		ID:         s.ID.String(),
		Name:       s.Name,
		Active:     s.Active,
		DaysOfWeek: domain.FormatWeekdays(s.Days),
		TimesOfDay: domain.FormatTimesOfDay(s.Times),
		BrandIDs:   ids,
		LastRunAt:  formatTimePtr(s.LastRunAt),
		NextRunAt:  formatTimePtr(s.NextRunAt),
		CreatedAt:  formatTime(s.CreatedAt),
		UpdatedAt:  formatTime(s.UpdatedAt),
	}
}

func runResponse(r domain.Run) RunResponse {
	ids := make([]string, len(r.BrandIDs))
	for i, id := range r.BrandIDs {
		ids[i] = id.String()
	}
	brands := make([]RunBrandResponse, len(r.Brands))
	for i, b := range r.Brands {
		brands[i] = RunBrandResponse{
			BrandID:       b.BrandID.String(),
			BrandName:     b.BrandName,
			VehiclesCount: b.VehiclesCount,
			Error:         b.Error,
		}
	}
	var scheduleID *string
	if r.ScheduleID != nil {
		s := r.ScheduleID.String()
		scheduleID = &s
	}
	return RunResponse{
		ID:            r.ID.String(),
		ScheduleID:    scheduleID,
		Trigger:       string(r.Trigger),
		AllBrands:     r.AllBrands,
		BrandIDs:      ids,
		VehiclesCount: r.VehiclesCount,
		RunAt:         formatTime(r.RunAt),
		FinishedAt:    formatTimePtr(r.FinishedAt),
		Status:        string(r.Status),
		Error:         r.Error,
		Brands:        brands,
	}
}

func progressResponse(p executor.Progress) ProgressResponse {
	return ProgressResponse{
		RunID:         p.RunID.String(),
		Status:        string(p.Status),
		BrandsTotal:   p.BrandsTotal,
		BrandsDone:    p.BrandsDone,
		Percent:       p.Percent,
		VehiclesCount: p.VehiclesCount,
		StartedAt:     formatTime(p.StartedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
