// Package schedules owns schedule definitions and their scheduling state.
// All schedule mutation goes through this service; next_run_at is recomputed
// here after every run and after every mutation of days/times/active.
package schedules

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/recurrence"
)

var (
	ErrNotFound     = errors.New("schedule not found")
	ErrUnknownBrand = errors.New("unknown brand id")
)

// ValidationError reports a malformed schedule definition. Nothing is
// persisted when validation fails.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Store is the persistence layer for schedules.
type Store interface {
	InsertSchedule(ctx context.Context, s domain.Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	ListSchedules(ctx context.Context) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, s domain.Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	// DueSchedules returns active schedules with next_run_at <= now.
	DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	// SetRunTimes overwrites last_run_at and next_run_at only.
	SetRunTimes(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt *time.Time) error
	// SkipOccurrence advances next_run_at to next only while it is still due
	// (<= until). last_run_at is untouched. No-op when the schedule is gone
	// or already advanced.
	SkipOccurrence(ctx context.Context, id uuid.UUID, until time.Time, next *time.Time) error
	// CountBrands returns how many of the given brand ids exist.
	CountBrands(ctx context.Context, ids []uuid.UUID) (int, error)
}

// Definition is the operator-supplied part of a schedule.
type Definition struct {
	Name     string
	Active   *bool // nil defaults to true
	Days     []domain.Weekday
	Times    []domain.TimeOfDay
	BrandIDs []uuid.UUID
}

// Update carries partial changes; nil fields are left untouched.
type Update struct {
	Name     *string
	Active   *bool
	Days     []domain.Weekday
	Times    []domain.TimeOfDay
	BrandIDs []uuid.UUID
}

type Service struct {
	store Store
	loc   *time.Location
	clock func() time.Time
}

// New creates the schedule service. loc is the deployment reference time
// zone used for all recurrence math.
func New(store Store, loc *time.Location) *Service {
	return &Service{
		store: store,
		loc:   loc,
		clock: time.Now,
	}
}

// Create validates def, computes the initial next_run_at and persists.
func (s *Service) Create(ctx context.Context, def Definition) (domain.Schedule, error) {
	if err := s.validate(ctx, def); err != nil {
		return domain.Schedule{}, err
	}

	now := s.clock().UTC()
	active := true
	if def.Active != nil {
		active = *def.Active
	}

	sched := domain.Schedule{
		ID:        uuid.New(),
		Name:      def.Name,
		Active:    active,
		Days:      normalizeDays(def.Days),
		Times:     normalizeTimes(def.Times),
		BrandIDs:  dedupeIDs(def.BrandIDs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	sched.NextRunAt = s.computeNext(sched, now)

	if err := s.store.InsertSchedule(ctx, sched); err != nil {
		return domain.Schedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	return sched, nil
}

// Update applies partial changes and recomputes next_run_at whenever
// days, times or the active flag changed.
func (s *Service) Update(ctx context.Context, id uuid.UUID, upd Update) (domain.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return domain.Schedule{}, err
	}

	recompute := false
	if upd.Name != nil {
		if *upd.Name == "" {
			return domain.Schedule{}, ValidationError{Field: "name", Message: "must not be empty"}
		}
		sched.Name = *upd.Name
	}
	if upd.Active != nil && *upd.Active != sched.Active {
		sched.Active = *upd.Active
		recompute = true
	}
	if upd.Days != nil {
		if len(upd.Days) == 0 {
			return domain.Schedule{}, ValidationError{Field: "days_of_week", Message: "at least one day is required"}
		}
		sched.Days = normalizeDays(upd.Days)
		recompute = true
	}
	if upd.Times != nil {
		if len(upd.Times) == 0 {
			return domain.Schedule{}, ValidationError{Field: "times_of_day", Message: "at least one time is required"}
		}
		sched.Times = normalizeTimes(upd.Times)
		recompute = true
	}
	if upd.BrandIDs != nil {
		if len(upd.BrandIDs) == 0 {
			return domain.Schedule{}, ValidationError{Field: "brand_ids", Message: "at least one brand is required"}
		}
		if err := s.checkBrands(ctx, upd.BrandIDs); err != nil {
			return domain.Schedule{}, err
		}
		sched.BrandIDs = dedupeIDs(upd.BrandIDs)
	}

	now := s.clock().UTC()
	sched.UpdatedAt = now
	if recompute {
		sched.NextRunAt = s.computeNext(sched, now)
	}

	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return domain.Schedule{}, fmt.Errorf("update schedule: %w", err)
	}
	return sched, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	return s.store.GetSchedule(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domain.Schedule, error) {
	return s.store.ListSchedules(ctx)
}

// Pause deactivates the schedule. last_run_at and history are untouched; the
// schedule drops out of DueAsOf immediately.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	active := false
	return s.Update(ctx, id, Update{Active: &active})
}

// Resume reactivates the schedule. Missed occurrences are not queued;
// next_run_at only looks forward from now.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	active := true
	return s.Update(ctx, id, Update{Active: &active})
}

// Delete hard-removes the schedule. An already-dispatched in-flight run still
// completes and is still recorded.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteSchedule(ctx, id)
}

// DueAsOf returns all active schedules whose next_run_at <= now. This is the
// only read path the dispatcher uses to decide work.
func (s *Service) DueAsOf(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	return s.store.DueSchedules(ctx, now.UTC())
}

// MarkRun records a completed run attempt: sets last_run_at = at and
// overwrites next_run_at with the next occurrence strictly after at. It is a
// pure function of its inputs, so calling it twice with the same instant is
// idempotent. A failed run still advances the schedule.
func (s *Service) MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Schedule deleted while its run was in flight; nothing to advance.
			log.Printf("schedules: mark run for deleted schedule %s ignored", id)
			return nil
		}
		return err
	}

	at = at.UTC()
	next := s.computeNext(sched, at)
	return s.store.SetRunTimes(ctx, id, &at, next)
}

// Skip advances next_run_at past a conflicted occurrence without recording a
// run. Used by the dispatcher's bounded catch-up policy.
//
// last_run_at belongs to MarkRun and is never written here. The store-side
// guard only advances a next_run_at still due as of at, so a MarkRun landing
// between the read and the write turns the skip into a no-op instead of
// rolling the schedule back.
func (s *Service) Skip(ctx context.Context, id uuid.UUID, at time.Time) error {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	at = at.UTC()
	next := s.computeNext(sched, at)
	return s.store.SkipOccurrence(ctx, id, at, next)
}

func (s *Service) validate(ctx context.Context, def Definition) error {
	if def.Name == "" {
		return ValidationError{Field: "name", Message: "must not be empty"}
	}
	if len(def.Days) == 0 {
		return ValidationError{Field: "days_of_week", Message: "at least one day is required"}
	}
	if len(def.Times) == 0 {
		return ValidationError{Field: "times_of_day", Message: "at least one time is required"}
	}
	if len(def.BrandIDs) == 0 {
		return ValidationError{Field: "brand_ids", Message: "at least one brand is required"}
	}
	return s.checkBrands(ctx, def.BrandIDs)
}

func (s *Service) checkBrands(ctx context.Context, ids []uuid.UUID) error {
	unique := dedupeIDs(ids)
	n, err := s.store.CountBrands(ctx, unique)
	if err != nil {
		return fmt.Errorf("check brands: %w", err)
	}
	if n != len(unique) {
		return ErrUnknownBrand
	}
	return nil
}

// computeNext returns nil for inactive or unschedulable schedules.
func (s *Service) computeNext(sched domain.Schedule, after time.Time) *time.Time {
	if !sched.Active {
		return nil
	}
	next, ok := recurrence.NextOccurrence(sched.Days, sched.Times, after, s.loc)
	if !ok {
		return nil
	}
	return &next
}

var dayOrder = map[domain.Weekday]int{
	domain.Monday: 0, domain.Tuesday: 1, domain.Wednesday: 2, domain.Thursday: 3,
	domain.Friday: 4, domain.Saturday: 5, domain.Sunday: 6,
}

func normalizeDays(days []domain.Weekday) []domain.Weekday {
	seen := make(map[domain.Weekday]bool, len(days))
	out := make([]domain.Weekday, 0, len(days))
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return dayOrder[out[i]] < dayOrder[out[j]] })
	return out
}

func normalizeTimes(times []domain.TimeOfDay) []domain.TimeOfDay {
	seen := make(map[domain.TimeOfDay]bool, len(times))
	out := make([]domain.TimeOfDay, 0, len(times))
	for _, t := range times {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
