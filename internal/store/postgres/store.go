// Package postgres persists brands, schedules and run history.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/executor"
	"github.com/erickfmfg/Supercarros-Republisher/internal/history"
	"github.com/erickfmfg/Supercarros-Republisher/internal/reconciler"
	"github.com/erickfmfg/Supercarros-Republisher/internal/schedules"
)

// Store implements schedules.Store, history.Store, reconciler.Store and the
// executor's brand directory using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertSchedule inserts a schedule with its brand set in a transaction.
func (s *Store) InsertSchedule(ctx context.Context, sched domain.Schedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertSchedule,
		sched.ID,
		sched.Name,
		sched.Active,
		domain.FormatWeekdays(sched.Days),
		domain.FormatTimesOfDay(sched.Times),
		sched.LastRunAt,
		sched.NextRunAt,
		sched.CreatedAt,
		sched.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for i, brandID := range sched.BrandIDs {
		if _, err := tx.ExecContext(ctx, queryInsertScheduleBrand, sched.ID, brandID, i); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetSchedule returns a schedule by id, or schedules.ErrNotFound.
func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, queryGetSchedule, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return domain.Schedule{}, schedules.ErrNotFound
	}
	return sched, err
}

// ListSchedules returns all schedules, newest first.
func (s *Store) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, queryListSchedules)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// DueSchedules returns active schedules with next_run_at <= now, soonest first.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, queryDueSchedules, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// UpdateSchedule overwrites a schedule and its brand set in a transaction.
func (s *Store) UpdateSchedule(ctx context.Context, sched domain.Schedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var updatedID uuid.UUID
	err = tx.QueryRowContext(ctx, queryUpdateSchedule,
		sched.ID,
		sched.Name,
		sched.Active,
		domain.FormatWeekdays(sched.Days),
		domain.FormatTimesOfDay(sched.Times),
		sched.LastRunAt,
		sched.NextRunAt,
		sched.UpdatedAt,
	).Scan(&updatedID)
	if err == sql.ErrNoRows {
		return schedules.ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, queryDeleteScheduleBrands, sched.ID); err != nil {
		return err
	}
	for i, brandID := range sched.BrandIDs {
		if _, err := tx.ExecContext(ctx, queryInsertScheduleBrand, sched.ID, brandID, i); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SetRunTimes overwrites last_run_at and next_run_at only.
func (s *Store) SetRunTimes(ctx context.Context, id uuid.UUID, lastRunAt, nextRunAt *time.Time) error {
	var updatedID uuid.UUID
	err := s.db.QueryRowContext(ctx, querySetRunTimes, id, lastRunAt, nextRunAt, time.Now().UTC()).Scan(&updatedID)
	if err == sql.ErrNoRows {
		return schedules.ErrNotFound
	}
	return err
}

// SkipOccurrence advances next_run_at in a single guarded statement; the
// update only applies while next_run_at is still due as of until, and
// last_run_at is never touched. Zero rows matched is a no-op, not an error.
func (s *Store) SkipOccurrence(ctx context.Context, id uuid.UUID, until time.Time, next *time.Time) error {
	_, err := s.db.ExecContext(ctx, querySkipOccurrence, id, until, next, time.Now().UTC())
	return err
}

// DeleteSchedule removes a schedule and its brand links, or schedules.ErrNotFound.
func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	var deletedID uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteSchedule, id).Scan(&deletedID)
	if err == sql.ErrNoRows {
		return schedules.ErrNotFound
	}
	return err
}

// CountBrands returns how many of the given brand ids exist.
func (s *Store) CountBrands(ctx context.Context, ids []uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, queryCountBrands, pq.Array(uuidStrings(ids))).Scan(&n)
	return n, err
}

// ListBrands returns the whole brand catalog ordered by name.
func (s *Store) ListBrands(ctx context.Context) ([]domain.Brand, error) {
	rows, err := s.db.QueryContext(ctx, queryListBrands)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBrands(rows)
}

// ListActiveBrands returns active brands ordered by name.
func (s *Store) ListActiveBrands(ctx context.Context) ([]domain.Brand, error) {
	rows, err := s.db.QueryContext(ctx, queryListActiveBrands)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBrands(rows)
}

// GetBrands returns the brands for ids, preserving the given order.
// Unknown ids are silently absent from the result.
func (s *Store) GetBrands(ctx context.Context, ids []uuid.UUID) ([]domain.Brand, error) {
	rows, err := s.db.QueryContext(ctx, queryGetBrands, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fetched, err := scanBrands(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]domain.Brand, len(fetched))
	for _, b := range fetched {
		byID[b.ID] = b
	}

	result := make([]domain.Brand, 0, len(ids))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			result = append(result, b)
		}
	}
	return result, nil
}

// InsertRun inserts a new run record in running state.
func (s *Store) InsertRun(ctx context.Context, run domain.Run) error {
	var scheduleID uuid.NullUUID
	if run.ScheduleID != nil {
		scheduleID = uuid.NullUUID{UUID: *run.ScheduleID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		scheduleID,
		string(run.Trigger),
		run.AllBrands,
		pq.Array(uuidStrings(run.BrandIDs)),
		run.VehiclesCount,
		run.RunAt,
		run.FinishedAt,
		string(run.Status),
		run.Error,
	)
	return err
}

// CompleteRun writes the terminal fields of run and its per-brand results.
// Returns history.ErrAlreadyTerminal if the run already left running state;
// the status guard makes the terminal write single-shot.
func (s *Store) CompleteRun(ctx context.Context, run domain.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryCompleteRun,
		run.ID,
		string(run.Status),
		run.Error,
		run.VehiclesCount,
		run.FinishedAt,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Either: (a) run not found, or (b) already terminal.
		// Distinguish by checking if the row exists.
		var currentStatus string
		err := s.db.QueryRowContext(ctx, queryGetRunStatus, run.ID).Scan(&currentStatus)
		if err == sql.ErrNoRows {
			return history.ErrNotFound
		}
		if err != nil {
			return err
		}
		return history.ErrAlreadyTerminal
	}

	for i, brand := range run.Brands {
		_, err := tx.ExecContext(ctx, queryInsertRunBrand,
			run.ID,
			brand.BrandID,
			brand.BrandName,
			brand.VehiclesCount,
			brand.Error,
			i,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun returns a run with its per-brand results, or history.ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx, queryGetRun, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return domain.Run{}, history.ErrNotFound
	}
	if err != nil {
		return domain.Run{}, err
	}

	brands, err := s.loadRunBrands(ctx, []uuid.UUID{run.ID})
	if err != nil {
		return domain.Run{}, err
	}
	run.Brands = brands[run.ID]
	return run, nil
}

// ListRuns returns runs matching f, newest first.
func (s *Store) ListRuns(ctx context.Context, f history.Filter) ([]domain.Run, error) {
	var scheduleID, brandID uuid.NullUUID
	if f.ScheduleID != nil {
		scheduleID = uuid.NullUUID{UUID: *f.ScheduleID, Valid: true}
	}
	if f.BrandID != nil {
		brandID = uuid.NullUUID{UUID: *f.BrandID, Valid: true}
	}
	var since sql.NullTime
	if f.Since != nil {
		since = sql.NullTime{Time: *f.Since, Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, queryListRuns, scheduleID, brandID, since, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	var ids []uuid.UUID
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
		ids = append(ids, run.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	brands, err := s.loadRunBrands(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Brands = brands[result[i].ID]
	}
	return result, nil
}

// ListStaleRunning returns runs stuck in running state older than the
// threshold, oldest first.
func (s *Store) ListStaleRunning(ctx context.Context, olderThan time.Time, limit int) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, queryListStaleRunning, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

func (s *Store) loadRunBrands(ctx context.Context, runIDs []uuid.UUID) (map[uuid.UUID][]domain.BrandResult, error) {
	rows, err := s.db.QueryContext(ctx, queryListRunBrands, pq.Array(uuidStrings(runIDs)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[uuid.UUID][]domain.BrandResult)
	for rows.Next() {
		var runID uuid.UUID
		var br domain.BrandResult
		if err := rows.Scan(&runID, &br.BrandID, &br.BrandName, &br.VehiclesCount, &br.Error); err != nil {
			return nil, err
		}
		result[runID] = append(result[runID], br)
	}
	return result, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (domain.Schedule, error) {
	var sched domain.Schedule
	var daysCSV, timesCSV string
	var lastRunAt, nextRunAt sql.NullTime
	var brandIDs pq.StringArray

	err := row.Scan(
		&sched.ID,
		&sched.Name,
		&sched.Active,
		&daysCSV,
		&timesCSV,
		&lastRunAt,
		&nextRunAt,
		&sched.CreatedAt,
		&sched.UpdatedAt,
		&brandIDs,
	)
	if err != nil {
		return domain.Schedule{}, err
	}

	if sched.Days, err = domain.ParseWeekdays(daysCSV); err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", sched.ID, err)
	}
	if sched.Times, err = domain.ParseTimesOfDay(timesCSV); err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", sched.ID, err)
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		sched.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		sched.NextRunAt = &t
	}
	if sched.BrandIDs, err = parseUUIDs(brandIDs); err != nil {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", sched.ID, err)
	}
	return sched, nil
}

func scanSchedules(rows *sql.Rows) ([]domain.Schedule, error) {
	var result []domain.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sched)
	}
	return result, rows.Err()
}

func scanBrands(rows *sql.Rows) ([]domain.Brand, error) {
	var result []domain.Brand
	for rows.Next() {
		var b domain.Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.Active); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanRun(row scanner) (domain.Run, error) {
	var run domain.Run
	var scheduleID uuid.NullUUID
	var trigger, status string
	var finishedAt sql.NullTime
	var brandIDs pq.StringArray

	err := row.Scan(
		&run.ID,
		&scheduleID,
		&trigger,
		&run.AllBrands,
		&brandIDs,
		&run.VehiclesCount,
		&run.RunAt,
		&finishedAt,
		&status,
		&run.Error,
	)
	if err != nil {
		return domain.Run{}, err
	}

	if scheduleID.Valid {
		id := scheduleID.UUID
		run.ScheduleID = &id
	}
	run.Trigger = domain.Trigger(trigger)
	run.Status = domain.RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if run.BrandIDs, err = parseUUIDs(brandIDs); err != nil {
		return domain.Run{}, fmt.Errorf("run %s: %w", run.ID, err)
	}
	return run, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(strs []string) ([]uuid.UUID, error) {
	if len(strs) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, len(strs))
	for i, s := range strs {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// Compile-time interface assertions
var (
	_ schedules.Store         = (*Store)(nil)
	_ history.Store           = (*Store)(nil)
	_ reconciler.Store        = (*Store)(nil)
	_ executor.BrandDirectory = (*Store)(nil)
)
