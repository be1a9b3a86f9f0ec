package bootloader

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/daphtdazz/pybricks-code/firmware"
	"github.com/daphtdazz/pybricks-code/protocol"
	"github.com/daphtdazz/pybricks-code/transport"
)

func openMockHub(t *testing.T) *MockHub {
	t.Helper()

	m := NewMockHub()
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("open mock hub: %v", err)
	}
	return m
}

// testClient builds a client with timeouts short enough for swallowed
// responses to fail fast.
func testClient(m *MockHub, opts ...Option) *Client {
	base := []Option{
		WithCommandTimeout(100 * time.Millisecond),
		WithEraseTimeout(100 * time.Millisecond),
		WithVerifyTimeout(100 * time.Millisecond),
	}
	return NewClient(m, append(base, opts...)...)
}

// ackFrame builds a raw program flash acknowledgement.
func ackFrame(result byte, addr uint32) []byte {
	frame := []byte{protocol.CmdProgramFlash, result}
	return binary.LittleEndian.AppendUint32(frame, addr)
}

func TestNewClientNilTransport(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil transport")
		}
	}()
	NewClient(nil)
}

func TestClientInfo(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*MockHub)
		check   func(*testing.T, *protocol.Info)
		wantErr bool
		errMsg  string
	}{
		{
			name: "full info",
			setup: func(m *MockHub) {
				m.maxData = 32
				m.window = 4
			},
			check: func(t *testing.T, info *protocol.Info) {
				if info.HubType != protocol.HubTypeTechnicHub {
					t.Errorf("HubType = %s, want Technic hub", info.HubType)
				}
				if info.FlashStart != 0x08008000 {
					t.Errorf("FlashStart = 0x%08X, want 0x08008000", info.FlashStart)
				}
				if info.MaxDataSize != 32 {
					t.Errorf("MaxDataSize = %d, want 32", info.MaxDataSize)
				}
				if info.WindowSize != 4 {
					t.Errorf("WindowSize = %d, want 4", info.WindowSize)
				}
			},
		},
		{
			name:  "short info falls back to default limits",
			setup: func(m *MockHub) { m.shortInfo = true },
			check: func(t *testing.T, info *protocol.Info) {
				if info.MaxDataSize != protocol.DefaultMaxDataSize {
					t.Errorf("MaxDataSize = %d, want %d", info.MaxDataSize, protocol.DefaultMaxDataSize)
				}
				if info.WindowSize != protocol.DefaultWindowSize {
					t.Errorf("WindowSize = %d, want %d", info.WindowSize, protocol.DefaultWindowSize)
				}
			},
		},
		{
			name:    "hub rejects the command",
			setup:   func(m *MockHub) { m.Reject(protocol.CmdGetInfo, protocol.ErrCodeUnknownCommand) },
			wantErr: true,
			errMsg:  "hub rejected get info",
		},
		{
			name:    "malformed payload",
			setup:   func(m *MockHub) { m.Script([]byte{protocol.CmdGetInfo, 0x01, 0x02}) },
			wantErr: true,
			errMsg:  "malformed info response",
		},
		{
			name:    "response for another command",
			setup:   func(m *MockHub) { m.Script([]byte{protocol.CmdEraseFlash, protocol.ResultOK}) },
			wantErr: true,
			errMsg:  "expected get info response, got erase flash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := openMockHub(t)
			tt.setup(m)

			info, err := testClient(m).Info(context.Background())

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !bytes.Contains([]byte(err.Error()), []byte(tt.errMsg)) {
					t.Errorf("error = %v, want substring %q", err, tt.errMsg)
				}
				var protoErr *ProtocolError
				if !errors.As(err, &protoErr) {
					t.Errorf("error type = %T, want *ProtocolError", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, info)
		})
	}
}

func TestClientInfoTimeout(t *testing.T) {
	m := openMockHub(t)
	m.Swallow(protocol.CmdGetInfo, 1)

	_, err := testClient(m).Info(context.Background())

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestClientInfoClosedTransport(t *testing.T) {
	m := openMockHub(t)
	m.Close()

	_, err := testClient(m).Info(context.Background())

	if !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("error = %v, want transport.ErrClosed", err)
	}
}

func TestClientInfoContextCancelled(t *testing.T) {
	m := openMockHub(t)
	m.Swallow(protocol.CmdGetInfo, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(m).Info(ctx)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestClientEraseFlash(t *testing.T) {
	m := openMockHub(t)

	if err := testClient(m).EraseFlash(context.Background(), m.flashBase, 256); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, b := range m.Flash(256) {
		if b != protocol.FlashErasedByte {
			t.Fatalf("flash[%d] = 0x%02X, want erased", i, b)
		}
	}
}

func TestClientEraseFlashFault(t *testing.T) {
	m := openMockHub(t)
	m.FailErase(1)

	err := testClient(m).EraseFlash(context.Background(), m.flashBase, 256)

	var resErr *protocol.ResultError
	if !errors.As(err, &resErr) {
		t.Fatalf("error type = %T, want *protocol.ResultError", err)
	}
	if resErr.Result != protocol.ResultWriteFault {
		t.Errorf("Result = 0x%02X, want write fault", resErr.Result)
	}
}

func TestClientWriteChunk(t *testing.T) {
	m := openMockHub(t)
	payload := []byte{0x01, 0x02, 0x03, 0x04}

	ack, err := testClient(m).WriteChunk(context.Background(), m.flashBase+8, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !ack.OK() {
		t.Fatalf("ack result = 0x%02X, want OK", ack.Result)
	}
	if ack.Address != m.flashBase+8 {
		t.Errorf("ack address = 0x%08X, want 0x%08X", ack.Address, m.flashBase+8)
	}
	if !bytes.Equal(m.Flash(12)[8:], payload) {
		t.Error("flash does not contain the written chunk")
	}
}

func TestClientWriteChunkBusyAck(t *testing.T) {
	m := openMockHub(t)
	m.FailWrites(m.flashBase, 1)

	ack, err := testClient(m).WriteChunk(context.Background(), m.flashBase, []byte{0xAA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ack.OK() {
		t.Fatal("expected a failed acknowledgement")
	}
	if ack.Result != protocol.ResultBusy {
		t.Errorf("ack result = 0x%02X, want busy", ack.Result)
	}
}

func testWritePlan(t *testing.T, size, chunkSize int) ([]byte, []firmware.Chunk) {
	t.Helper()

	image := make([]byte, size)
	for i := range image {
		image[i] = byte(i*13 + 5)
	}
	chunks, err := firmware.Chunks(image, chunkSize)
	if err != nil {
		t.Fatalf("build write plan: %v", err)
	}
	return image, chunks
}

func TestClientWriteWindow(t *testing.T) {
	m := openMockHub(t)
	image, chunks := testWritePlan(t, 56, 8)

	var acked []uint32
	err := testClient(m).WriteWindow(context.Background(), m.flashBase, chunks, 3, func(ch firmware.Chunk) bool {
		acked = append(acked, ch.Offset)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(acked) != len(chunks) {
		t.Fatalf("acked %d chunks, want %d", len(acked), len(chunks))
	}
	for i, off := range acked {
		if off != uint32(i*8) {
			t.Errorf("ack %d at offset %d, want %d", i, off, i*8)
		}
	}
	if !bytes.Equal(m.Flash(len(image)), image) {
		t.Error("flash does not match the image")
	}
	if m.writeCount != len(chunks) {
		t.Errorf("hub saw %d writes, want %d", m.writeCount, len(chunks))
	}
}

func TestClientWriteWindowBusyAck(t *testing.T) {
	m := openMockHub(t)
	_, chunks := testWritePlan(t, 40, 8)
	m.FailWrites(m.flashBase+16, 1)

	var acked []uint32
	err := testClient(m).WriteWindow(context.Background(), m.flashBase, chunks, 1, func(ch firmware.Chunk) bool {
		acked = append(acked, ch.Offset)
		return true
	})

	var wErr *WriteError
	if !errors.As(err, &wErr) {
		t.Fatalf("error type = %T, want *WriteError", err)
	}
	if wErr.Offset != 16 {
		t.Errorf("failed offset = %d, want 16", wErr.Offset)
	}
	var resErr *protocol.ResultError
	if !errors.As(wErr.Err, &resErr) {
		t.Errorf("cause type = %T, want *protocol.ResultError", wErr.Err)
	}
	if len(acked) != 2 {
		t.Errorf("acked %d chunks before the failure, want 2", len(acked))
	}
}

func TestClientWriteWindowMisorderedAck(t *testing.T) {
	m := openMockHub(t)
	_, chunks := testWritePlan(t, 16, 8)
	m.Script(ackFrame(protocol.ResultOK, m.flashBase+999))

	err := testClient(m).WriteWindow(context.Background(), m.flashBase, chunks, 1, func(firmware.Chunk) bool {
		return true
	})

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("error type = %T, want *ProtocolError", err)
	}
	if !bytes.Contains([]byte(err.Error()), []byte("acknowledgement for")) {
		t.Errorf("error = %v, want a misordered acknowledgement", err)
	}
}

func TestClientWriteWindowTimeout(t *testing.T) {
	m := openMockHub(t)
	_, chunks := testWritePlan(t, 16, 8)
	m.Swallow(protocol.CmdProgramFlash, 1)

	err := testClient(m).WriteWindow(context.Background(), m.flashBase, chunks, 1, func(firmware.Chunk) bool {
		return true
	})

	var wErr *WriteError
	if !errors.As(err, &wErr) {
		t.Fatalf("error type = %T, want *WriteError", err)
	}
	if wErr.Offset != 0 {
		t.Errorf("failed offset = %d, want 0", wErr.Offset)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("cause = %v, want ErrTimeout", wErr.Err)
	}
}

func TestClientWriteWindowStopped(t *testing.T) {
	m := openMockHub(t)
	_, chunks := testWritePlan(t, 40, 8)

	err := testClient(m).WriteWindow(context.Background(), m.flashBase, chunks, 1, func(firmware.Chunk) bool {
		return false
	})

	if !errors.Is(err, errStopped) {
		t.Fatalf("error = %v, want errStopped", err)
	}
	if m.writeCount != 1 {
		t.Errorf("hub saw %d writes after the stop, want 1", m.writeCount)
	}
}

func TestClientChecksum(t *testing.T) {
	m := openMockHub(t)
	image, chunks := testWritePlan(t, 64, 16)
	c := testClient(m)
	ctx := context.Background()

	if err := c.WriteWindow(ctx, m.flashBase, chunks, 1, func(firmware.Chunk) bool { return true }); err != nil {
		t.Fatalf("write: %v", err)
	}

	sum, err := c.Checksum(ctx, protocol.ChecksumCRC32, m.flashBase, uint32(len(image)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want, err := protocol.CalculateChecksum(protocol.ChecksumCRC32, image)
	if err != nil {
		t.Fatalf("reference checksum: %v", err)
	}
	if sum != want {
		t.Errorf("checksum = 0x%08X, want 0x%08X", sum, want)
	}
}

func TestClientFlashState(t *testing.T) {
	m := openMockHub(t)

	level, err := testClient(m).FlashState(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if level != protocol.FlashStateNone {
		t.Errorf("level = 0x%02X, want none", level)
	}
}

func TestClientStartApp(t *testing.T) {
	m := openMockHub(t)

	if err := testClient(m).StartApp(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !m.started {
		t.Error("hub did not receive the start command")
	}
	select {
	case <-m.Done():
	default:
		t.Error("link still up after reboot")
	}
}

func TestClientDisconnect(t *testing.T) {
	m := openMockHub(t)

	if err := testClient(m).Disconnect(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !m.disconnected {
		t.Error("hub did not receive the disconnect command")
	}
}

func BenchmarkWriteWindow(b *testing.B) {
	image := make([]byte, 4096)
	for i := range image {
		image[i] = byte(i)
	}
	chunks, err := firmware.Chunks(image, 32)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := NewMockHub()
		_ = m.Open(context.Background())
		c := NewClient(m)
		_ = c.WriteWindow(context.Background(), m.flashBase, chunks, 4, func(firmware.Chunk) bool {
			return true
		})
	}
}
