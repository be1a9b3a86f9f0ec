package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/daphtdazz/pybricks-code/logging"
	"github.com/daphtdazz/pybricks-code/transport"
)

// State is the normalized connection state exposed to observers,
// regardless of which transport is underneath.
type State int

const (
	// Disconnected means no transport is open
	Disconnected State = iota

	// Connecting means a transport open is in flight
	Connecting

	// Connected means one transport is open and usable
	Connected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrAlreadyConnected is returned by Connect while another connection is
// open or being opened. The caller must disconnect first.
var ErrAlreadyConnected = errors.New("a hub connection is already active")

// ErrNotConnected is returned by Disconnect without an active connection.
var ErrNotConnected = errors.New("no hub connection is active")

// StateFunc observes coordinator state changes. Handlers run on the
// goroutine that caused the change and must return quickly.
type StateFunc func(State)

// Coordinator arbitrates the single hub connection.
//
// Only one transport may be open at a time process-wide. Connect refuses
// with ErrAlreadyConnected while a connection exists; the caller closes
// the old one explicitly before opening another. The coordinator watches
// the transport and reports Disconnected when the link drops on its own.
type Coordinator struct {
	log logging.Logger

	mu        sync.Mutex
	state     State
	conn      *Connection
	observers []StateFunc
}

// NewCoordinator creates a coordinator in the Disconnected state.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		log:   logging.Nop(),
		state: Disconnected,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = log
	}
}

// Subscribe registers a state observer.
func (c *Coordinator) Subscribe(fn StateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns the current connection state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connection returns the active connection, or nil.
func (c *Coordinator) Connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Connect opens the given transport and makes it the active connection.
// Fails with ErrAlreadyConnected while another connection is open or
// being opened.
func (c *Coordinator) Connect(ctx context.Context, t transport.Transport) (*Connection, error) {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	c.state = Connecting
	observers := c.snapshotObservers()
	c.mu.Unlock()
	notify(observers, Connecting)

	if err := t.Open(ctx); err != nil {
		c.mu.Lock()
		c.state = Disconnected
		observers = c.snapshotObservers()
		c.mu.Unlock()
		notify(observers, Disconnected)
		return nil, fmt.Errorf("failed to open %s transport: %w", t.Kind(), err)
	}

	conn := newConnection(t)

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	observers = c.snapshotObservers()
	c.mu.Unlock()
	notify(observers, Connected)

	c.log.Info("hub connected", "transport", t.Kind())

	// Watch for the link dropping out from under us.
	go func() {
		<-t.Done()
		c.handleLinkDown(conn)
	}()

	return conn, nil
}

// Disconnect closes the active connection.
func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	// Closing the transport fires its Done channel, which lets the watch
	// goroutine clear the state.
	return conn.Transport().Close()
}

// handleLinkDown clears the connection when its transport reports closed.
// A stale notification for a connection that was already replaced is
// ignored.
func (c *Coordinator) handleLinkDown(conn *Connection) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	observers := c.snapshotObservers()
	c.mu.Unlock()
	notify(observers, Disconnected)

	c.log.Info("hub disconnected")
}

// snapshotObservers copies the observer list. Callers hold the mutex.
func (c *Coordinator) snapshotObservers() []StateFunc {
	observers := make([]StateFunc, len(c.observers))
	copy(observers, c.observers)
	return observers
}

// notify runs outside the mutex so observers may call back in.
func notify(observers []StateFunc, state State) {
	for _, fn := range observers {
		fn(state)
	}
}
