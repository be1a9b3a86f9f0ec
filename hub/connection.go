package hub

import (
	"fmt"
	"sync"

	"github.com/daphtdazz/pybricks-code/protocol"
	"github.com/daphtdazz/pybricks-code/transport"
)

// Connection is an open link to one physical hub.
//
// A fresh connection has no identity. The flash session fills it in from
// the hub's info response during the handshake, after which HubType and
// BootloaderVersion report what is actually on the other end of the link.
type Connection struct {
	t transport.Transport

	mu      sync.RWMutex
	info    protocol.Info
	hasInfo bool
}

func newConnection(t transport.Transport) *Connection {
	return &Connection{t: t}
}

// Transport returns the underlying link.
func (c *Connection) Transport() transport.Transport {
	return c.t
}

// ApplyInfo records the identity and limits reported by the hub during the
// handshake.
func (c *Connection) ApplyInfo(info protocol.Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info = info
	c.hasInfo = true
}

// Info returns the hub's reported identity and limits. The second return
// is false before the handshake has run.
func (c *Connection) Info() (protocol.Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info, c.hasInfo
}

// HubType returns the connected hub's type, or zero before the handshake.
func (c *Connection) HubType() protocol.HubType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info.HubType
}

// BootloaderVersion returns the hub's bootloader version, or the zero
// version before the handshake.
func (c *Connection) BootloaderVersion() protocol.Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info.Version
}

// String describes the connection for logs.
func (c *Connection) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasInfo {
		return fmt.Sprintf("unidentified hub over %s", c.t.Kind())
	}
	return fmt.Sprintf("%s over %s (bootloader %s)", c.info.HubType, c.t.Kind(), c.info.Version)
}
