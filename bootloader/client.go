package bootloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daphtdazz/pybricks-code/firmware"
	"github.com/daphtdazz/pybricks-code/protocol"
	"github.com/daphtdazz/pybricks-code/transport"
)

// errStopped reports that WriteWindow was stopped by its callback after
// draining the in-flight acknowledgements.
var errStopped = errors.New("write stopped by caller")

// Client speaks the bootloader wire protocol over one open transport.
//
// The bootloader answers one request at a time, so commands are strictly
// serialized: each exchange claims the transport until its response
// arrives or its timeout expires. Client is safe for concurrent use,
// though a flash session drives it from a single goroutine anyway.
type Client struct {
	t      transport.Transport
	config Config

	mu sync.Mutex
}

// NewClient creates a protocol client on an open transport.
//
// Example:
//
//	client := bootloader.NewClient(t, bootloader.WithCommandTimeout(2*time.Second))
//	info, err := client.Info(ctx)
func NewClient(t transport.Transport, opts ...Option) *Client {
	if t == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return newClient(t, cfg)
}

func newClient(t transport.Transport, cfg Config) *Client {
	return &Client{t: t, config: cfg}
}

// Info queries the bootloader version, flash bounds, hub type and
// transfer limits.
func (c *Client) Info(ctx context.Context) (*protocol.Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := protocol.BuildGetInfoCmd()
	if err != nil {
		return nil, err
	}

	data, err := c.exchange(ctx, cmd, protocol.CmdGetInfo, c.config.CommandTimeout)
	if err != nil {
		return nil, err
	}

	info, err := protocol.ParseInfoResponse(data)
	if err != nil {
		return nil, &ProtocolError{Reason: "malformed info response", Err: err}
	}

	return info, nil
}

// EraseFlash erases length bytes of flash starting at start. Erasing can
// take tens of seconds on some hubs, so the wait uses the erase timeout.
func (c *Client) EraseFlash(ctx context.Context, start, length uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := protocol.BuildEraseFlashCmd(start, length)
	if err != nil {
		return err
	}

	data, err := c.exchange(ctx, cmd, protocol.CmdEraseFlash, c.config.EraseTimeout)
	if err != nil {
		return err
	}

	result, err := protocol.ParseEraseResponse(data)
	if err != nil {
		return &ProtocolError{Reason: "malformed erase response", Err: err}
	}
	if result != protocol.ResultOK {
		return &protocol.ResultError{Command: protocol.CmdEraseFlash, Result: result}
	}

	return nil
}

// WriteChunk programs one chunk at the given absolute flash address and
// waits for its acknowledgement. The acknowledgement is returned as-is;
// the caller checks its result code and address.
func (c *Client) WriteChunk(ctx context.Context, address uint32, payload []byte) (*protocol.WriteAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := protocol.BuildWriteChunkCmd(address, payload)
	if err != nil {
		return nil, err
	}

	data, err := c.exchange(ctx, cmd, protocol.CmdProgramFlash, c.config.CommandTimeout)
	if err != nil {
		return nil, err
	}

	ack, err := protocol.ParseWriteAckResponse(data)
	if err != nil {
		return nil, &ProtocolError{Reason: "malformed write acknowledgement", Err: err}
	}

	return ack, nil
}

// WriteWindow programs a run of chunks, keeping up to window writes in
// flight before insisting on an acknowledgement. Chunk offsets are
// image-relative; base is the hub's flash start address. onAck runs once
// per acknowledged chunk, in order; returning false stops the transfer
// after the in-flight acknowledgements drain.
//
// A retryable failure comes back as a *WriteError carrying the image
// offset of the failed chunk, so the caller can rewind the plan to that
// offset and try again. Protocol violations, context cancellation and a
// dead transport come back as-is and must not be retried.
func (c *Client) WriteWindow(ctx context.Context, base uint32, chunks []firmware.Chunk, window int, onAck func(firmware.Chunk) bool) error {
	if window < 1 {
		window = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sent, acked := 0, 0
	stopped := false
	for acked < len(chunks) {
		for !stopped && sent < len(chunks) && sent-acked < window {
			chunk := chunks[sent]
			cmd, err := protocol.BuildWriteChunkCmd(base+chunk.Offset, chunk.Payload)
			if err != nil {
				return err
			}
			if err := c.t.Write(ctx, cmd); err != nil {
				if isFatal(err) {
					return err
				}
				return &WriteError{Offset: chunk.Offset, Err: err}
			}
			sent++
		}

		if acked == sent {
			return errStopped
		}

		want := chunks[acked]
		data, err := c.await(ctx, protocol.CmdProgramFlash, c.config.CommandTimeout)
		if err != nil {
			if isFatal(err) {
				return err
			}
			return &WriteError{Offset: want.Offset, Err: err}
		}

		ack, err := protocol.ParseWriteAckResponse(data)
		if err != nil {
			return &ProtocolError{Reason: "malformed write acknowledgement", Err: err}
		}
		if !ack.OK() {
			return &WriteError{
				Offset: want.Offset,
				Err:    &protocol.ResultError{Command: protocol.CmdProgramFlash, Result: ack.Result},
			}
		}
		if ack.Address != base+want.Offset {
			return &ProtocolError{Reason: fmt.Sprintf(
				"acknowledgement for 0x%08X, expected 0x%08X", ack.Address, base+want.Offset)}
		}

		if !onAck(want) {
			stopped = true
		}
		acked++
	}

	return nil
}

// Checksum asks the hub to checksum length bytes of flash from start
// with the given algorithm. Hubs stall all other traffic while hashing,
// so the wait uses the verify timeout.
func (c *Client) Checksum(ctx context.Context, algorithm byte, start, length uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := protocol.BuildGetChecksumCmd(algorithm, start, length)
	if err != nil {
		return 0, err
	}

	data, err := c.exchange(ctx, cmd, protocol.CmdGetChecksum, c.config.VerifyTimeout)
	if err != nil {
		return 0, err
	}

	sum, err := protocol.ParseChecksumResponse(data)
	if err != nil {
		return 0, &ProtocolError{Reason: "malformed checksum response", Err: err}
	}

	return sum, nil
}

// FlashState queries the flash protection level.
func (c *Client) FlashState(ctx context.Context) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := protocol.BuildGetFlashStateCmd()
	if err != nil {
		return 0, err
	}

	data, err := c.exchange(ctx, cmd, protocol.CmdGetFlashState, c.config.CommandTimeout)
	if err != nil {
		return 0, err
	}

	level, err := protocol.ParseFlashStateResponse(data)
	if err != nil {
		return 0, &ProtocolError{Reason: "malformed flash state response", Err: err}
	}

	return level, nil
}

// StartApp reboots the hub into the newly written firmware. The hub
// drops the link instead of responding, so only the write is checked.
func (c *Client) StartApp(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := protocol.BuildStartAppCmd()
	if err != nil {
		return err
	}

	return c.t.Write(ctx, cmd)
}

// Disconnect asks the hub to drop the link. No response follows.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, err := protocol.BuildDisconnectCmd()
	if err != nil {
		return err
	}

	return c.t.Write(ctx, cmd)
}

// exchange writes one command frame and waits for its response.
func (c *Client) exchange(ctx context.Context, cmd []byte, want byte, timeout time.Duration) ([]byte, error) {
	if err := c.t.Write(ctx, cmd); err != nil {
		return nil, fmt.Errorf("write %s: %w", protocol.CommandName(want), err)
	}

	return c.await(ctx, want, timeout)
}

// await blocks until a response for the given command arrives, the
// timeout expires, or the context or transport is done.
func (c *Client) await(ctx context.Context, want byte, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-c.t.Frames():
		if !ok {
			return nil, transport.ErrClosed
		}

		cmd, data, err := protocol.ParseResponse(frame)
		if err != nil {
			if protocol.IsCommandError(err) {
				return nil, &ProtocolError{Reason: "hub rejected " + protocol.CommandName(want), Err: err}
			}
			return nil, &ProtocolError{Reason: "undecodable response", Err: err}
		}
		if cmd != want {
			return nil, &ProtocolError{Reason: fmt.Sprintf(
				"expected %s response, got %s", protocol.CommandName(want), protocol.CommandName(cmd))}
		}

		return data, nil

	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", protocol.CommandName(want), ErrTimeout)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drainInbound discards any frames already queued on the transport, such
// as acknowledgements for writes that were in flight when a transfer
// error rewound the window.
func (c *Client) drainInbound() {
	for {
		select {
		case _, ok := <-c.t.Frames():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// isFatal reports whether an error can never be fixed by resending:
// protocol desync, caller cancellation, or a dead transport.
func isFatal(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, transport.ErrNotOpen)
}
