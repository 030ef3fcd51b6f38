package analytics

import (
	"context"
	"log"
	"time"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
)

const writeTimeout = 5 * time.Second

// Sink persists run counters. RedisSink is the production implementation.
type Sink interface {
	RecordRun(ctx context.Context, event domain.RunEvent) error
}

// Recorder consumes run events from the bus and feeds terminal ones to the
// sink. Write failures are logged and dropped; the next run starts fresh.
type Recorder struct {
	events <-chan domain.RunEvent
	sink   Sink
}

func NewRecorder(events <-chan domain.RunEvent, sink Sink) *Recorder {
	return &Recorder{events: events, sink: sink}
}

// Run blocks until ctx is cancelled, then drains whatever is already buffered.
func (r *Recorder) Run(ctx context.Context) {
	log.Println("analytics: recorder started")

	for {
		select {
		case <-ctx.Done():
			r.drain()
			log.Println("analytics: recorder stopped")
			return
		case event := <-r.events:
			r.record(event)
		}
	}
}

func (r *Recorder) record(event domain.RunEvent) {
	if event.Type != domain.RunEventCompleted {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.sink.RecordRun(ctx, event); err != nil {
		log.Printf("analytics: record run=%s failed: %v", event.RunID, err)
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case event := <-r.events:
			r.record(event)
		default:
			return
		}
	}
}
