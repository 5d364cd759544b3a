package pjon

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// QueueCapacity is the number of frames that can wait for transmission.
const QueueCapacity = 100

// MessageHandler receives payloads addressed to this node or broadcast.
type MessageHandler func(payload []byte, sender int)

// Logger is the logging interface used by the transport.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type outgoing struct {
	frame   []byte
	waiting time.Duration
}

// Transport moves PJON frames over a serial port.
//
// Outgoing frames are queued by Send and Broadcast and written one at a time
// by Handle. Incoming frames are decoded by a reader goroutine started with
// Start. A read error closes the transport; Done and Err report it.
type Transport struct {
	address byte
	port    Port

	mu         sync.Mutex
	queue      []outgoing
	closed     bool
	err        error
	blockUntil time.Time
	now        func() time.Time

	handlerMu sync.RWMutex
	handler   MessageHandler

	logger Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTransport creates a transport for the node at address using port.
func NewTransport(address int, port Port, logger Logger) *Transport {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Transport{
		address: byte(address), //nolint:gosec // bus addresses are 1-254
		port:    port,
		queue:   make([]outgoing, 0, QueueCapacity),
		now:     time.Now,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// SetMessageHandler sets the callback for received payloads.
func (t *Transport) SetMessageHandler(h MessageHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = h
}

// Start launches the reader goroutine. It stops when ctx is cancelled or
// the transport is closed.
func (t *Transport) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.readLoop()

	go func() {
		select {
		case <-ctx.Done():
			t.Close() //nolint:errcheck // shutdown path
		case <-t.done:
		}
	}()
}

// Close stops the reader and closes the port. Queued frames are dropped.
func (t *Transport) Close() error {
	if !t.shutdown(nil) {
		return nil
	}
	err := t.port.Close()
	t.wg.Wait()
	return err
}

// Done is closed once the transport is closed or its port failed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the read error that closed the transport, or nil after a
// regular Close.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// shutdown marks the transport closed. It reports false when it already was.
func (t *Transport) shutdown(cause error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.closed = true
	t.err = cause
	t.queue = nil
	close(t.done)
	return true
}

// fail closes the transport from the reader after a port error.
func (t *Transport) fail(err error) {
	if !t.shutdown(err) {
		return
	}
	t.logger.Error("reading from serial port failed, closing transport", "error", err)
	if cerr := t.port.Close(); cerr != nil {
		t.logger.Warn("closing failed serial port", "error", cerr)
	}
}

// Send queues payload for the device at address. The next frame is not
// written until waiting has elapsed after this one.
func (t *Transport) Send(address int, payload []byte, waiting time.Duration) bool {
	return t.enqueue(byte(address), payload, waiting) //nolint:gosec // bus addresses are 1-254
}

// Broadcast queues payload for every device on the bus.
func (t *Transport) Broadcast(payload []byte, waiting time.Duration) bool {
	return t.enqueue(BroadcastID, payload, waiting)
}

func (t *Transport) enqueue(receiver byte, payload []byte, waiting time.Duration) bool {
	frame, err := Encode(receiver, t.address, payload)
	if err != nil {
		t.logger.Warn("dropping outgoing frame", "receiver", receiver, "error", err)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || len(t.queue) >= QueueCapacity {
		return false
	}
	t.queue = append(t.queue, outgoing{frame: frame, waiting: waiting})
	return true
}

// Handle writes the next queued frame once the waiting time of the previous
// frame has elapsed. It returns the number of frames still queued.
func (t *Transport) Handle() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || len(t.queue) == 0 {
		return len(t.queue)
	}

	now := t.now()
	if now.Before(t.blockUntil) {
		return len(t.queue)
	}

	next := t.queue[0]
	if _, err := t.port.Write(next.frame); err != nil {
		t.logger.Error("writing frame to serial port failed", "error", err)
		return len(t.queue)
	}

	t.queue = t.queue[1:]
	t.blockUntil = now.Add(next.waiting)
	return len(t.queue)
}

// Pending returns the number of queued frames.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *Transport) readLoop() {
	defer t.wg.Done()

	var dec Decoder
	buf := make([]byte, 256)

	for {
		n, err := t.port.Read(buf)
		for _, b := range buf[:n] {
			frame, ok, ferr := dec.Feed(b)
			if !ok {
				continue
			}
			if ferr != nil {
				t.logger.Debug("dropping received frame", "error", ferr)
				continue
			}
			if frame.Receiver != t.address && frame.Receiver != BroadcastID {
				continue
			}
			t.deliver(frame)
		}

		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			t.fail(err)
			return
		}
	}
}

func (t *Transport) deliver(frame Frame) {
	t.handlerMu.RLock()
	h := t.handler
	t.handlerMu.RUnlock()

	if h != nil {
		h(frame.Payload, int(frame.Sender))
	}
}
