package supervisor

import (
	"sync"
	"time"
)

// Output is one message of the output stream. Exactly one of Data and Exit
// is set; the Exit message is the last one of a run.
type Output struct {
	RunID uint64
	Data  []byte
	Exit  *ExitStatus
}

// ExitStatus is how a run ended.
type ExitStatus struct {
	Code int
	// Requested is true when the run ended after Stop.
	Requested bool
	// Killed is true when the grace period elapsed and SIGKILL was sent.
	Killed   bool
	Duration time.Duration
	// Err is an *ExitError for an unrequested unsuccessful exit, another
	// error if waiting failed, nil otherwise.
	Err error
}

// Success reports a clean exit or a requested stop.
func (s ExitStatus) Success() bool { return s.Err == nil }

// Handle identifies a started child.
type Handle struct {
	RunID   uint64
	PID     int
	Argv    []string
	Started time.Time
}

// Event represents a supervisor lifecycle event.
// Minimal and stable: name + run ID and optional fields via key/values.
type Event struct {
	Name   string
	RunID  uint64
	Fields map[string]any
}

// EventPublisher receives lifecycle events. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MultiPublisher fans events out to several publishers.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns the event names in publish order.
func (p *MemoryPublisher) Names() []string {
	evts := p.Events()
	out := make([]string, len(evts))
	for i, e := range evts {
		out[i] = e.Name
	}
	return out
}
