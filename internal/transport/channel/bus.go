// Package channel provides an in-process event bus for run lifecycle events.
// Consumers (the analytics recorder, the progress SSE-less poll path) read
// from the channel; producers never block on a slow consumer.
package channel

import (
	"context"
	"errors"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
)

// ErrBufferFull is returned when the bus buffer is saturated. Run events are
// advisory; the run itself proceeds regardless.
var ErrBufferFull = errors.New("event bus buffer is full")

// MetricsSink records bus health. Implementations must not block.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type EventBus struct {
	ch      chan domain.RunEvent
	metrics MetricsSink
}

func NewEventBus(buffer int) *EventBus {
	return &EventBus{
		ch: make(chan domain.RunEvent, buffer),
	}
}

// WithMetrics attaches a metrics sink.
func (b *EventBus) WithMetrics(m MetricsSink) *EventBus {
	b.metrics = m
	return b
}

// Emit publishes an event without blocking. A full buffer drops the event and
// returns ErrBufferFull.
func (b *EventBus) Emit(ctx context.Context, event domain.RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	default:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

// Channel returns the receive side of the bus.
func (b *EventBus) Channel() <-chan domain.RunEvent {
	return b.ch
}
