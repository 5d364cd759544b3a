package connector

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sentPacket is one packet handed to fakeTransporter.
type sentPacket struct {
	Broadcast bool
	Address   int
	Payload   []byte
	Waiting   time.Duration
	ClientID  uuid.UUID
}

// fakeTransporter records packets instead of sending them.
type fakeTransporter struct {
	mu     sync.Mutex
	sent   []sentPacket
	reject bool
}

func (f *fakeTransporter) Broadcast(payload []byte, waiting time.Duration, clientID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.sent = append(f.sent, sentPacket{Broadcast: true, Payload: payload, Waiting: waiting, ClientID: clientID})
	return true
}

func (f *fakeTransporter) Send(address int, payload []byte, waiting time.Duration, clientID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.sent = append(f.sent, sentPacket{Address: address, Payload: payload, Waiting: waiting, ClientID: clientID})
	return true
}

func (f *fakeTransporter) packets() []sentPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentPacket, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransporter) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// eventRecorder collects propagated events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Propagate(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
