package api

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/schedules"
)

// toDefinition parses a create request into a schedule definition. Semantic
// checks (empty sets, unknown brands) belong to the schedule service; this
// only rejects input the wire format cannot express.
func toDefinition(req ScheduleRequest) (schedules.Definition, error) {
	days, err := domain.ParseWeekdays(req.DaysOfWeek)
	if err != nil {
		return schedules.Definition{}, fmt.Errorf("invalid days_of_week: %w", err)
	}
	times, err := domain.ParseTimesOfDay(req.TimesOfDay)
	if err != nil {
		return schedules.Definition{}, fmt.Errorf("invalid times_of_day: %w", err)
	}
	ids, err := parseBrandIDs(req.BrandIDs)
	if err != nil {
		return schedules.Definition{}, err
	}
	return schedules.Definition{
		Name:     req.Name,
		Active:   req.Active,
		Days:     days,
		Times:    times,
		BrandIDs: ids,
	}, nil
}

func toUpdate(req UpdateScheduleRequest) (schedules.Update, error) {
	upd := schedules.Update{Name: req.Name, Active: req.Active}

	if req.DaysOfWeek != nil {
		days, err := domain.ParseWeekdays(*req.DaysOfWeek)
		if err != nil {
			return schedules.Update{}, fmt.Errorf("invalid days_of_week: %w", err)
		}
		if len(days) == 0 {
			return schedules.Update{}, fmt.Errorf("invalid days_of_week: at least one day is required")
		}
		upd.Days = days
	}
	if req.TimesOfDay != nil {
		times, err := domain.ParseTimesOfDay(*req.TimesOfDay)
		if err != nil {
			return schedules.Update{}, fmt.Errorf("invalid times_of_day: %w", err)
		}
		if len(times) == 0 {
			return schedules.Update{}, fmt.Errorf("invalid times_of_day: at least one time is required")
		}
		upd.Times = times
	}
	if req.BrandIDs != nil {
		ids, err := parseBrandIDs(req.BrandIDs)
		if err != nil {
			return schedules.Update{}, err
		}
		upd.BrandIDs = ids
	}
	return upd, nil
}

func parseBrandIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid brand id %q", s)
		}
		ids[i] = id
	}
	return ids, nil
}
