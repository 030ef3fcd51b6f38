// Package analytics keeps lightweight republish counters in Redis: how many
// vehicles each brand republished per day, and how runs ended. The counters
// are advisory; losing them never affects a run.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
)

type Config struct {
	// Retention is how long counter keys live. Default 30 days.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{Retention: 30 * 24 * time.Hour}
}

type RedisSink struct {
	client *redis.Client
	config Config
}

func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	return &RedisSink{client: client, config: config}
}

// RecordRun writes the counters for one completed run. Non-terminal events
// are ignored.
func (s *RedisSink) RecordRun(ctx context.Context, event domain.RunEvent) error {
	if event.Type != domain.RunEventCompleted {
		return nil
	}

	day := dayBucket(event.At)
	pipe := s.client.Pipeline()

	outcomeKey := runOutcomeKey(string(event.Trigger), string(event.Status), day)
	pipe.Incr(ctx, outcomeKey)
	pipe.Expire(ctx, outcomeKey, s.config.Retention)

	if event.VehiclesCount > 0 {
		totalKey := vehiclesTotalKey(day)
		pipe.IncrBy(ctx, totalKey, int64(event.VehiclesCount))
		pipe.Expire(ctx, totalKey, s.config.Retention)
	}

	for _, brand := range event.Brands {
		if brand.VehiclesCount <= 0 {
			continue
		}
		key := brandVehiclesKey(brand.BrandID.String(), day)
		pipe.IncrBy(ctx, key, int64(brand.VehiclesCount))
		pipe.Expire(ctx, key, s.config.Retention)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func runOutcomeKey(trigger, status, day string) string {
	return fmt.Sprintf("republisher:runs:%s:%s:%s", trigger, status, day)
}

func vehiclesTotalKey(day string) string {
	return fmt.Sprintf("republisher:vehicles:%s", day)
}

func brandVehiclesKey(brandID, day string) string {
	return fmt.Sprintf("republisher:brand:%s:vehicles:%s", brandID, day)
}

func dayBucket(t time.Time) string {
	return t.UTC().Format("20060102")
}
