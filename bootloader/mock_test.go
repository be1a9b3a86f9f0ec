package bootloader

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/daphtdazz/pybricks-code/protocol"
	"github.com/daphtdazz/pybricks-code/transport"
)

// MockHub simulates a hub bootloader behind the transport interface. It
// decodes command frames, keeps a flash image, and queues responses the
// way the real notification stream delivers them.
type MockHub struct {
	mu sync.Mutex

	hubType   protocol.HubType
	version   protocol.Version
	flashBase uint32
	flash     []byte
	maxData   byte
	window    byte
	mtu       int
	shortInfo bool

	openErrs []error
	opened   bool
	closed   bool

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// failure injection
	rejects     map[byte]byte
	silent      map[byte]int
	badAcks     map[uint32]int
	eraseFails  int
	checksum    *uint32
	scripted    [][]byte
	dropOnStart bool

	// observed traffic
	commands     []byte
	infoCount    int
	eraseCount   int
	writeCount   int
	started      bool
	disconnected bool
}

func NewMockHub() *MockHub {
	return &MockHub{
		hubType:     protocol.HubTypeTechnicHub,
		version:     protocol.Version{Major: 3, Minor: 2, BugFix: 1, Build: 0},
		flashBase:   0x08008000,
		flash:       make([]byte, 4096),
		maxData:     protocol.MaxChunkDataSize,
		window:      1,
		mtu:         64,
		dropOnStart: true,
		rejects:     make(map[byte]byte),
		silent:      make(map[byte]int),
		badAcks:     make(map[uint32]int),
		frames:      make(chan []byte, 64),
		done:        make(chan struct{}),
	}
}

func (m *MockHub) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.openErrs) > 0 {
		err := m.openErrs[0]
		m.openErrs = m.openErrs[1:]
		if err != nil {
			return err
		}
	}

	m.opened = true
	return nil
}

func (m *MockHub) Write(ctx context.Context, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return transport.ErrClosed
	}
	if !m.opened {
		return transport.ErrNotOpen
	}
	if len(frame) == 0 {
		return nil
	}

	m.handle(frame)
	return nil
}

func (m *MockHub) Frames() <-chan []byte {
	return m.frames
}

func (m *MockHub) Done() <-chan struct{} {
	return m.done
}

func (m *MockHub) MTU() int {
	return m.mtu
}

func (m *MockHub) Kind() transport.Kind {
	return transport.Kind("mock")
}

func (m *MockHub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown()
	return nil
}

// handle decodes one command frame and queues the bootloader's answer.
// The caller holds the mutex.
func (m *MockHub) handle(frame []byte) {
	cmd := frame[0]
	m.commands = append(m.commands, cmd)

	switch cmd {
	case protocol.CmdGetInfo:
		m.infoCount++
	case protocol.CmdEraseFlash:
		m.eraseCount++
	case protocol.CmdProgramFlash:
		m.writeCount++
	}

	if code, ok := m.rejects[cmd]; ok {
		m.push([]byte{protocol.MsgError, cmd, code})
		return
	}
	if m.silent[cmd] > 0 {
		m.silent[cmd]--
		return
	}
	if len(m.scripted) > 0 {
		resp := m.scripted[0]
		m.scripted = m.scripted[1:]
		m.push(resp)
		return
	}

	switch cmd {
	case protocol.CmdGetInfo:
		m.push(m.infoResponse())

	case protocol.CmdEraseFlash:
		if len(frame) != 9 {
			m.push([]byte{protocol.MsgError, cmd, protocol.ErrCodeInvalidLength})
			return
		}
		result := byte(protocol.ResultOK)
		if m.eraseFails > 0 {
			m.eraseFails--
			result = protocol.ResultWriteFault
		} else {
			start := binary.LittleEndian.Uint32(frame[1:5])
			length := binary.LittleEndian.Uint32(frame[5:9])
			m.eraseRegion(start, length)
		}
		m.push([]byte{protocol.CmdEraseFlash, result})

	case protocol.CmdProgramFlash:
		if len(frame) < protocol.WriteChunkHeaderSize {
			m.push([]byte{protocol.MsgError, cmd, protocol.ErrCodeInvalidLength})
			return
		}
		size := int(frame[1])
		addr := binary.LittleEndian.Uint32(frame[2:6])
		data := frame[6:]
		if len(data) != size {
			m.push([]byte{protocol.MsgError, cmd, protocol.ErrCodeInvalidLength})
			return
		}
		m.push(m.programChunk(addr, data))

	case protocol.CmdGetChecksum:
		if len(frame) != 10 {
			m.push([]byte{protocol.MsgError, cmd, protocol.ErrCodeInvalidLength})
			return
		}
		algorithm := frame[1]
		start := binary.LittleEndian.Uint32(frame[2:6])
		length := binary.LittleEndian.Uint32(frame[6:10])
		m.push(m.checksumResponse(algorithm, start, length))

	case protocol.CmdGetFlashState:
		m.push([]byte{protocol.CmdGetFlashState, protocol.FlashStateNone})

	case protocol.CmdStartApp:
		m.started = true
		if m.dropOnStart {
			m.shutdown()
		}

	case protocol.CmdDisconnect:
		m.disconnected = true
		m.shutdown()

	default:
		m.push([]byte{protocol.MsgError, cmd, protocol.ErrCodeUnknownCommand})
	}
}

func (m *MockHub) infoResponse() []byte {
	resp := make([]byte, 0, 16)
	resp = append(resp, protocol.CmdGetInfo)
	resp = binary.LittleEndian.AppendUint32(resp, protocol.EncodeVersion(m.version))
	resp = binary.LittleEndian.AppendUint32(resp, m.flashBase)
	resp = binary.LittleEndian.AppendUint32(resp, m.flashBase+uint32(len(m.flash))-1)
	resp = append(resp, byte(m.hubType))
	if !m.shortInfo {
		resp = append(resp, m.maxData, m.window)
	}
	return resp
}

func (m *MockHub) eraseRegion(start, length uint32) {
	off := int(start - m.flashBase)
	end := off + int(length)
	if off < 0 || end > len(m.flash) {
		return
	}
	for i := off; i < end; i++ {
		m.flash[i] = protocol.FlashErasedByte
	}
}

func (m *MockHub) programChunk(addr uint32, data []byte) []byte {
	ack := make([]byte, 0, 6)
	ack = append(ack, protocol.CmdProgramFlash)

	if m.badAcks[addr] > 0 {
		m.badAcks[addr]--
		ack = append(ack, protocol.ResultBusy)
		return binary.LittleEndian.AppendUint32(ack, addr)
	}

	off := int(addr - m.flashBase)
	if off < 0 || off+len(data) > len(m.flash) {
		ack = append(ack, protocol.ResultInvalidAddress)
		return binary.LittleEndian.AppendUint32(ack, addr)
	}

	copy(m.flash[off:], data)
	ack = append(ack, protocol.ResultOK)
	return binary.LittleEndian.AppendUint32(ack, addr)
}

func (m *MockHub) checksumResponse(algorithm byte, start, length uint32) []byte {
	resp := make([]byte, 0, 5)
	resp = append(resp, protocol.CmdGetChecksum)

	if m.checksum != nil {
		return binary.LittleEndian.AppendUint32(resp, *m.checksum)
	}

	off := int(start - m.flashBase)
	if off < 0 || off+int(length) > len(m.flash) {
		return binary.LittleEndian.AppendUint32(resp, 0)
	}
	sum, err := protocol.CalculateChecksum(algorithm, m.flash[off:off+int(length)])
	if err != nil {
		return binary.LittleEndian.AppendUint32(resp, 0)
	}
	return binary.LittleEndian.AppendUint32(resp, sum)
}

// push queues a frame for the client without ever blocking the mock.
// The caller holds the mutex.
func (m *MockHub) push(frame []byte) {
	if m.closed {
		return
	}
	select {
	case m.frames <- frame:
	default:
	}
}

// shutdown drops the link. The caller holds the mutex.
func (m *MockHub) shutdown() {
	m.closeOnce.Do(func() {
		m.closed = true
		close(m.done)
		close(m.frames)
	})
}

// Reject makes the hub answer a command with an error message.
func (m *MockHub) Reject(cmd, code byte) {
	m.rejects[cmd] = code
}

// Swallow makes the hub ignore the next n occurrences of a command.
func (m *MockHub) Swallow(cmd byte, n int) {
	m.silent[cmd] = n
}

// FailWrites makes the next n chunk writes at the given absolute address
// come back with a busy result instead of being stored.
func (m *MockHub) FailWrites(addr uint32, n int) {
	m.badAcks[addr] = n
}

// FailErase makes the next n erase commands fail with a write fault.
func (m *MockHub) FailErase(n int) {
	m.eraseFails = n
}

// OverrideChecksum pins the checksum response regardless of flash content.
func (m *MockHub) OverrideChecksum(sum uint32) {
	m.checksum = &sum
}

// Script serves raw response frames, in order, before normal handling.
func (m *MockHub) Script(frames ...[]byte) {
	m.scripted = append(m.scripted, frames...)
}

// Flash returns a copy of the first n flash bytes.
func (m *MockHub) Flash(n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, n)
	copy(out, m.flash)
	return out
}

// Commands returns the command bytes received, in arrival order.
func (m *MockHub) Commands() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte{}, m.commands...)
}
