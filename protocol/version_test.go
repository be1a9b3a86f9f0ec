package protocol

import "testing"

func TestDecodeVersion(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		want Version
	}{
		{
			name: "release version",
			raw:  0x32010000,
			want: Version{Major: 3, Minor: 2, BugFix: 1, Build: 0},
		},
		{
			name: "build number in BCD",
			raw:  0x10000029,
			want: Version{Major: 1, Minor: 0, BugFix: 0, Build: 29},
		},
		{
			name: "two digit bug fix",
			raw:  0x00450000,
			want: Version{Major: 0, Minor: 0, BugFix: 45, Build: 0},
		},
		{
			name: "four digit build",
			raw:  0x21031234,
			want: Version{Major: 2, Minor: 1, BugFix: 3, Build: 1234},
		},
		{
			name: "zero version",
			raw:  0,
			want: Version{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeVersion(tt.raw)
			if got != tt.want {
				t.Errorf("DecodeVersion(0x%08X) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEncodeVersionRoundTrip(t *testing.T) {
	tests := []Version{
		{Major: 3, Minor: 2, BugFix: 1, Build: 500},
		{Major: 1, Minor: 0, BugFix: 0, Build: 0},
		{Major: 0, Minor: 9, BugFix: 99, Build: 9999},
	}

	for _, v := range tests {
		t.Run(v.String(), func(t *testing.T) {
			got := DecodeVersion(EncodeVersion(v))
			if got != v {
				t.Errorf("round trip = %+v, want %+v", got, v)
			}
		})
	}
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		name    string
		version Version
		want    string
	}{
		{
			name:    "full version",
			version: Version{Major: 3, Minor: 2, BugFix: 1, Build: 500},
			want:    "3.2.01.0500",
		},
		{
			name:    "zero fields keep fixed widths",
			version: Version{Major: 1},
			want:    "1.0.00.0000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.version.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
