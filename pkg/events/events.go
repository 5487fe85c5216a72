// Package events delivers distributor events to observers.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// IEventSink receives every event emitted by a successful operation.
// Emit must not call back into the distributor.
type IEventSink interface {
	Emit(event *types.Event)
}

// Recorder keeps emitted events in memory, in emission order
type Recorder struct {
	mu     sync.RWMutex
	events []*types.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(event *types.Event) {
	if event == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []*types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent event, or nil
func (r *Recorder) Last() *types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

// Filter returns the recorded events of the given type
func (r *Recorder) Filter(eventType types.EventType) []*types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// LoggerSink writes each event as a structured log line
type LoggerSink struct {
	logger *zap.Logger
}

func NewLoggerSink(l *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: l}
}

func (s *LoggerSink) Emit(event *types.Event) {
	if event == nil {
		return
	}
	fields := []interface{}{"type", string(event.Type), "timestamp", event.Timestamp}
	if event.Root != nil {
		fields = append(fields, "root", event.Root.Hex())
	}
	if event.Account != nil {
		fields = append(fields, "account", event.Account.Hex())
	}
	if event.NewOwner != nil {
		fields = append(fields, "newOwner", event.NewOwner.Hex())
	}
	if event.Amount != "" {
		fields = append(fields, "amount", event.Amount)
	}
	s.logger.Sugar().Infow("Distributor event", fields...)
}

// MultiSink fans an event out to several sinks in order
type MultiSink []IEventSink

func (m MultiSink) Emit(event *types.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(event)
		}
	}
}

// NopSink discards events
type NopSink struct{}

func (NopSink) Emit(*types.Event) {}
