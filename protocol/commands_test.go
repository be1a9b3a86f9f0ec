package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuildGetInfoCmd(t *testing.T) {
	frame, err := BuildGetInfoCmd()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(frame, []byte{CmdGetInfo}) {
		t.Errorf("frame = %v, want %v", frame, []byte{CmdGetInfo})
	}
}

func TestBuildEraseFlashCmd(t *testing.T) {
	tests := []struct {
		name    string
		start   uint32
		length  uint32
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid region",
			start:  0x08005000,
			length: 0x00020000,
		},
		{
			name:   "region at address zero",
			start:  0,
			length: 1024,
		},
		{
			name:    "zero length",
			start:   0x08005000,
			length:  0,
			wantErr: true,
			errMsg:  "erase length cannot be zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := BuildEraseFlashCmd(tt.start, tt.length)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !bytes.Contains([]byte(err.Error()), []byte(tt.errMsg)) {
					t.Errorf("error = %v, want substring %q", err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(frame) != 9 {
				t.Fatalf("frame length = %d, want 9", len(frame))
			}

			if frame[0] != CmdEraseFlash {
				t.Errorf("CMD = 0x%02X, want 0x%02X", frame[0], CmdEraseFlash)
			}

			if got := binary.LittleEndian.Uint32(frame[1:5]); got != tt.start {
				t.Errorf("start = 0x%08X, want 0x%08X", got, tt.start)
			}

			if got := binary.LittleEndian.Uint32(frame[5:9]); got != tt.length {
				t.Errorf("length = %d, want %d", got, tt.length)
			}
		})
	}
}

func TestBuildWriteChunkCmd(t *testing.T) {
	tests := []struct {
		name    string
		address uint32
		data    []byte
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid small chunk",
			address: 0x08005000,
			data:    []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name:    "valid max size chunk",
			address: 0x08005000,
			data:    make([]byte, MaxChunkDataSize),
		},
		{
			name:    "empty data",
			address: 0x08005000,
			data:    []byte{},
			wantErr: true,
			errMsg:  "data cannot be empty",
		},
		{
			name:    "nil data",
			address: 0x08005000,
			data:    nil,
			wantErr: true,
			errMsg:  "data cannot be empty",
		},
		{
			name:    "data too large",
			address: 0x08005000,
			data:    make([]byte, MaxChunkDataSize+1),
			wantErr: true,
			errMsg:  "exceeds maximum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := BuildWriteChunkCmd(tt.address, tt.data)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !bytes.Contains([]byte(err.Error()), []byte(tt.errMsg)) {
					t.Errorf("error = %v, want substring %q", err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(frame) != WriteChunkHeaderSize+len(tt.data) {
				t.Fatalf("frame length = %d, want %d", len(frame), WriteChunkHeaderSize+len(tt.data))
			}

			if frame[0] != CmdProgramFlash {
				t.Errorf("CMD = 0x%02X, want 0x%02X", frame[0], CmdProgramFlash)
			}

			if frame[1] != byte(len(tt.data)) {
				t.Errorf("SIZE = %d, want %d", frame[1], len(tt.data))
			}

			if got := binary.LittleEndian.Uint32(frame[2:6]); got != tt.address {
				t.Errorf("address = 0x%08X, want 0x%08X", got, tt.address)
			}

			if !bytes.Equal(frame[WriteChunkHeaderSize:], tt.data) {
				t.Errorf("data in frame = %v, want %v", frame[WriteChunkHeaderSize:], tt.data)
			}
		})
	}
}

func TestBuildGetChecksumCmd(t *testing.T) {
	tests := []struct {
		name      string
		algorithm byte
		start     uint32
		length    uint32
		wantErr   bool
		errMsg    string
	}{
		{
			name:      "sum32 algorithm",
			algorithm: ChecksumSum32,
			start:     0x08005000,
			length:    1024,
		},
		{
			name:      "crc32 algorithm",
			algorithm: ChecksumCRC32,
			start:     0x08005000,
			length:    1024,
		},
		{
			name:      "unknown algorithm",
			algorithm: 0x7F,
			start:     0x08005000,
			length:    1024,
			wantErr:   true,
			errMsg:    "unknown checksum algorithm",
		},
		{
			name:      "zero length",
			algorithm: ChecksumCRC32,
			start:     0x08005000,
			length:    0,
			wantErr:   true,
			errMsg:    "checksum length cannot be zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := BuildGetChecksumCmd(tt.algorithm, tt.start, tt.length)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !bytes.Contains([]byte(err.Error()), []byte(tt.errMsg)) {
					t.Errorf("error = %v, want substring %q", err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(frame) != 10 {
				t.Fatalf("frame length = %d, want 10", len(frame))
			}

			if frame[0] != CmdGetChecksum {
				t.Errorf("CMD = 0x%02X, want 0x%02X", frame[0], CmdGetChecksum)
			}

			if frame[1] != tt.algorithm {
				t.Errorf("algorithm = 0x%02X, want 0x%02X", frame[1], tt.algorithm)
			}

			if got := binary.LittleEndian.Uint32(frame[2:6]); got != tt.start {
				t.Errorf("start = 0x%08X, want 0x%08X", got, tt.start)
			}

			if got := binary.LittleEndian.Uint32(frame[6:10]); got != tt.length {
				t.Errorf("length = %d, want %d", got, tt.length)
			}
		})
	}
}

func TestBuildStartAppCmd(t *testing.T) {
	frame, err := BuildStartAppCmd()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(frame, []byte{CmdStartApp}) {
		t.Errorf("frame = %v, want %v", frame, []byte{CmdStartApp})
	}
}

func TestBuildGetFlashStateCmd(t *testing.T) {
	frame, err := BuildGetFlashStateCmd()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(frame, []byte{CmdGetFlashState}) {
		t.Errorf("frame = %v, want %v", frame, []byte{CmdGetFlashState})
	}
}

func TestBuildDisconnectCmd(t *testing.T) {
	frame, err := BuildDisconnectCmd()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.Equal(frame, []byte{CmdDisconnect}) {
		t.Errorf("frame = %v, want %v", frame, []byte{CmdDisconnect})
	}
}

func BenchmarkBuildWriteChunkCmd(b *testing.B) {
	data := make([]byte, 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = BuildWriteChunkCmd(0x08005000, data)
	}
}

func BenchmarkBuildEraseFlashCmd(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = BuildEraseFlashCmd(0x08005000, 0x20000)
	}
}
