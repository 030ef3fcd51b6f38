package postgres

const queryInsertSchedule = `
INSERT INTO schedules (id, name, active, days_of_week, times_of_day, last_run_at, next_run_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryInsertScheduleBrand = `
INSERT INTO schedule_brands (schedule_id, brand_id, position)
VALUES ($1, $2, $3)
`

const queryDeleteScheduleBrands = `
DELETE FROM schedule_brands WHERE schedule_id = $1
`

const queryGetSchedule = `
SELECT
    s.id, s.name, s.active, s.days_of_week, s.times_of_day,
    s.last_run_at, s.next_run_at, s.created_at, s.updated_at,
    COALESCE(array_agg(sb.brand_id::text ORDER BY sb.position) FILTER (WHERE sb.brand_id IS NOT NULL), '{}')
FROM schedules s
LEFT JOIN schedule_brands sb ON sb.schedule_id = s.id
WHERE s.id = $1
GROUP BY s.id
`

const queryListSchedules = `
SELECT
    s.id, s.name, s.active, s.days_of_week, s.times_of_day,
    s.last_run_at, s.next_run_at, s.created_at, s.updated_at,
    COALESCE(array_agg(sb.brand_id::text ORDER BY sb.position) FILTER (WHERE sb.brand_id IS NOT NULL), '{}')
FROM schedules s
LEFT JOIN schedule_brands sb ON sb.schedule_id = s.id
GROUP BY s.id
ORDER BY s.created_at DESC
`

const queryDueSchedules = `
SELECT
    s.id, s.name, s.active, s.days_of_week, s.times_of_day,
    s.last_run_at, s.next_run_at, s.created_at, s.updated_at,
    COALESCE(array_agg(sb.brand_id::text ORDER BY sb.position) FILTER (WHERE sb.brand_id IS NOT NULL), '{}')
FROM schedules s
LEFT JOIN schedule_brands sb ON sb.schedule_id = s.id
WHERE s.active = true
  AND s.next_run_at IS NOT NULL
  AND s.next_run_at <= $1
GROUP BY s.id
ORDER BY s.next_run_at ASC
`

const queryUpdateSchedule = `
UPDATE schedules
SET name = $2, active = $3, days_of_week = $4, times_of_day = $5,
    last_run_at = $6, next_run_at = $7, updated_at = $8
WHERE id = $1
RETURNING id
`

const querySetRunTimes = `
UPDATE schedules
SET last_run_at = $2, next_run_at = $3, updated_at = $4
WHERE id = $1
RETURNING id
`

const querySkipOccurrence = `
UPDATE schedules
SET next_run_at = $3, updated_at = $4
WHERE id = $1
  AND next_run_at IS NOT NULL
  AND next_run_at <= $2
`

const queryDeleteSchedule = `
WITH deleted_brands AS (
    DELETE FROM schedule_brands WHERE schedule_id = $1
)
DELETE FROM schedules WHERE id = $1
RETURNING id`

const queryCountBrands = `
SELECT COUNT(*) FROM brands WHERE id = ANY($1::uuid[])
`

const queryListBrands = `
SELECT id, name, active FROM brands ORDER BY name ASC
`

const queryListActiveBrands = `
SELECT id, name, active FROM brands WHERE active = true ORDER BY name ASC
`

const queryGetBrands = `
SELECT id, name, active FROM brands WHERE id = ANY($1::uuid[])
`

const queryInsertRun = `
INSERT INTO runs (id, schedule_id, trigger, all_brands, brand_ids, vehicles_count, run_at, finished_at, status, error)
VALUES ($1, $2, $3, $4, $5::uuid[], $6, $7, $8, $9, $10)
`

const queryCompleteRun = `
UPDATE runs
SET status = $2, error = $3, vehicles_count = $4, finished_at = $5
WHERE id = $1
  AND status = 'running'
`

const queryGetRunStatus = `
SELECT status FROM runs WHERE id = $1
`

const queryInsertRunBrand = `
INSERT INTO run_brands (run_id, brand_id, brand_name, vehicles_count, error, position)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryGetRun = `
SELECT id, schedule_id, trigger, all_brands, brand_ids, vehicles_count, run_at, finished_at, status, error
FROM runs
WHERE id = $1
`

const queryListRuns = `
SELECT id, schedule_id, trigger, all_brands, brand_ids, vehicles_count, run_at, finished_at, status, error
FROM runs
WHERE ($1::uuid IS NULL OR schedule_id = $1)
  AND ($2::uuid IS NULL OR $2 = ANY(brand_ids))
  AND ($3::timestamptz IS NULL OR run_at >= $3)
ORDER BY run_at DESC
LIMIT $4
`

const queryListRunBrands = `
SELECT run_id, brand_id, brand_name, vehicles_count, error
FROM run_brands
WHERE run_id = ANY($1::uuid[])
ORDER BY run_id, position ASC
`

const queryListStaleRunning = `
SELECT id, schedule_id, trigger, all_brands, brand_ids, vehicles_count, run_at, finished_at, status, error
FROM runs
WHERE status = 'running'
  AND run_at < $1
ORDER BY run_at ASC
LIMIT $2
`
