package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
	"github.com/fastybird/fb-bus-connector/internal/bus/pjon"
)

// Transporter sends payloads to devices. A nil client id addresses every
// enabled client.
type Transporter interface {
	Broadcast(payload []byte, waiting time.Duration, clientID uuid.UUID) bool
	Send(address int, payload []byte, waiting time.Duration, clientID uuid.UUID) bool
}

// Client is one bus interface.
type Client interface {
	ID() uuid.UUID
	Type() bus.ClientType
	Broadcast(payload []byte, waiting time.Duration) bool
	Send(address int, payload []byte, waiting time.Duration) bool

	// Handle writes pending packets and returns how many are still queued.
	Handle() int
	Close() error
}

type proxyEntry struct {
	client  Client
	enabled bool
}

// ClientProxy fans packets out to the registered clients.
//
// All methods are safe for concurrent use.
type ClientProxy struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*proxyEntry

	logger Logger
}

// NewClientProxy creates an empty proxy.
func NewClientProxy(logger Logger) *ClientProxy {
	return &ClientProxy{
		clients: make(map[uuid.UUID]*proxyEntry),
		logger:  loggerOrNoop(logger),
	}
}

// Append registers a client, replacing and closing any client with the same id.
func (p *ClientProxy) Append(c Client, enabled bool) {
	p.mu.Lock()
	previous, ok := p.clients[c.ID()]
	p.clients[c.ID()] = &proxyEntry{client: c, enabled: enabled}
	p.mu.Unlock()

	if ok && previous.client != c {
		p.closeClient(previous.client)
	}
}

// Remove closes and removes a client. It reports whether it was registered.
func (p *ClientProxy) Remove(id uuid.UUID) bool {
	p.mu.Lock()
	entry, ok := p.clients[id]
	delete(p.clients, id)
	p.mu.Unlock()

	if ok {
		p.closeClient(entry.client)
	}
	return ok
}

// Reset closes and removes every client.
func (p *ClientProxy) Reset() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[uuid.UUID]*proxyEntry)
	p.mu.Unlock()

	for _, entry := range clients {
		p.closeClient(entry.client)
	}
}

// Enable enables a client. It reports whether it was registered.
func (p *ClientProxy) Enable(id uuid.UUID) bool {
	return p.setEnabled(id, true)
}

// Disable disables a client. It reports whether it was registered.
func (p *ClientProxy) Disable(id uuid.UUID) bool {
	return p.setEnabled(id, false)
}

// Len returns the number of registered clients.
func (p *ClientProxy) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Broadcast implements Transporter. It succeeds only if every matching
// client accepted the packet.
func (p *ClientProxy) Broadcast(payload []byte, waiting time.Duration, clientID uuid.UUID) bool {
	return p.each(clientID, func(c Client) bool { return c.Broadcast(payload, waiting) })
}

// Send implements Transporter. It succeeds only if every matching client
// accepted the packet.
func (p *ClientProxy) Send(address int, payload []byte, waiting time.Duration, clientID uuid.UUID) bool {
	return p.each(clientID, func(c Client) bool { return c.Send(address, payload, waiting) })
}

// Handle runs every enabled client and returns the number of packets still
// waiting to be sent.
func (p *ClientProxy) Handle() int {
	pending := 0
	for _, c := range p.matching(uuid.Nil) {
		pending += c.Handle()
	}
	return pending
}

func (p *ClientProxy) each(clientID uuid.UUID, fn func(Client) bool) bool {
	clients := p.matching(clientID)
	if len(clients) == 0 {
		return false
	}

	ok := true
	for _, c := range clients {
		if !fn(c) {
			ok = false
		}
	}
	return ok
}

func (p *ClientProxy) matching(clientID uuid.UUID) []Client {
	p.mu.RLock()
	var out []Client
	for id, entry := range p.clients {
		if entry.enabled && (clientID == uuid.Nil || id == clientID) {
			out = append(out, entry.client)
		}
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

func (p *ClientProxy) setEnabled(id uuid.UUID, enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.clients[id]
	if ok {
		entry.enabled = enabled
	}
	return ok
}

func (p *ClientProxy) closeClient(c Client) {
	if err := c.Close(); err != nil {
		p.logger.Warn("closing bus client failed", "client_id", c.ID().String(), "error", err)
	}
}

// PJONClient is a Client speaking PJON over a serial transport.
type PJONClient struct {
	id        uuid.UUID
	transport *pjon.Transport
}

// NewPJONClient wraps a started transport.
func NewPJONClient(id uuid.UUID, transport *pjon.Transport) *PJONClient {
	return &PJONClient{id: id, transport: transport}
}

// ID implements Client.
func (c *PJONClient) ID() uuid.UUID { return c.id }

// Type implements Client.
func (c *PJONClient) Type() bus.ClientType { return bus.ClientTypePJON }

// Broadcast implements Client.
func (c *PJONClient) Broadcast(payload []byte, waiting time.Duration) bool {
	return c.transport.Broadcast(payload, waiting)
}

// Send implements Client.
func (c *PJONClient) Send(address int, payload []byte, waiting time.Duration) bool {
	return c.transport.Send(address, payload, waiting)
}

// Handle implements Client.
func (c *PJONClient) Handle() int { return c.transport.Handle() }

// Close implements Client.
func (c *PJONClient) Close() error { return c.transport.Close() }

// ClientOptions configures one bus client.
type ClientOptions struct {
	ID        uuid.UUID
	Type      bus.ClientType
	Address   int
	Interface string
	BaudRate  int
	Protocol  bus.ProtocolVersion
}

// MessageSink receives payloads read from a client.
type MessageSink interface {
	OnMessage(payload []byte, address int, clientID uuid.UUID)
}

// PortOpener opens the serial interface of a client.
type PortOpener func(path string, opts pjon.PortOptions) (pjon.Port, error)

// FailureHandler is called when a client stops because its interface
// failed.
type FailureHandler func(clientID uuid.UUID, err error)

// ClientFactory builds clients and registers them with a proxy.
type ClientFactory struct {
	proxy     *ClientProxy
	sink      MessageSink
	openPort  PortOpener
	onFailure FailureHandler
	logger    Logger
}

// NewClientFactory creates a factory. A nil openPort uses pjon.OpenPort.
func NewClientFactory(proxy *ClientProxy, sink MessageSink, openPort PortOpener, logger Logger) *ClientFactory {
	if openPort == nil {
		openPort = pjon.OpenPort
	}
	return &ClientFactory{
		proxy:    proxy,
		sink:     sink,
		openPort: openPort,
		logger:   loggerOrNoop(logger),
	}
}

// SetFailureHandler sets the callback for clients whose interface failed.
// Clients closed through the proxy are not reported.
func (f *ClientFactory) SetFailureHandler(h FailureHandler) {
	f.onFailure = h
}

// Create builds a client, starts its reader and registers it enabled.
// The reader stops when ctx is cancelled.
func (f *ClientFactory) Create(ctx context.Context, opts ClientOptions) (Client, error) {
	switch opts.Type {
	case bus.ClientTypePJON, "":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedClient, opts.Type)
	}

	if opts.Protocol != 0 && opts.Protocol != bus.ProtocolV1 {
		return nil, fmt.Errorf("%w: protocol %s", ErrUnsupportedClient, opts.Protocol)
	}

	port, err := f.openPort(opts.Interface, pjon.PortOptions{BaudRate: opts.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", opts.Interface, err)
	}

	clientID := opts.ID
	transport := pjon.NewTransport(opts.Address, port, f.logger)
	transport.SetMessageHandler(func(payload []byte, sender int) {
		f.sink.OnMessage(payload, sender, clientID)
	})
	transport.Start(ctx)

	if onFailure := f.onFailure; onFailure != nil {
		go func() {
			<-transport.Done()
			if err := transport.Err(); err != nil {
				onFailure(clientID, err)
			}
		}()
	}

	client := NewPJONClient(clientID, transport)
	f.proxy.Append(client, true)

	f.logger.Info("bus client configured",
		"client_id", clientID.String(),
		"type", string(bus.ClientTypePJON),
		"interface", opts.Interface,
		"baud_rate", opts.BaudRate,
		"address", opts.Address)

	return client, nil
}
