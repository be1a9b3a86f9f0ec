package protocol

import "fmt"

// Version is a bootloader firmware version in the LWP3 encoding.
//
// On the wire a version is a 32-bit value with binary-coded decimal fields:
//
//	bits 28-31: major (0-7)
//	bits 24-27: minor (0-9)
//	bits 16-23: bug fix, two BCD digits
//	bits  0-15: build, four BCD digits
type Version struct {
	Major  int
	Minor  int
	BugFix int
	Build  int
}

// DecodeVersion unpacks a raw 32-bit version value.
func DecodeVersion(raw uint32) Version {
	return Version{
		Major:  int(raw >> 28 & 0x7),
		Minor:  int(raw >> 24 & 0xF),
		BugFix: decodeBCD(raw>>16&0xFF, 2),
		Build:  decodeBCD(raw&0xFFFF, 4),
	}
}

// EncodeVersion packs a version into its raw 32-bit form.
func EncodeVersion(v Version) uint32 {
	raw := uint32(v.Major&0x7) << 28
	raw |= uint32(v.Minor&0xF) << 24
	raw |= encodeBCD(v.BugFix, 2) << 16
	raw |= encodeBCD(v.Build, 4)
	return raw
}

// String formats the version the way LEGO tools print it, e.g. "3.2.01.0500".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%02d.%04d", v.Major, v.Minor, v.BugFix, v.Build)
}

func decodeBCD(raw uint32, digits int) int {
	value := 0
	for shift := (digits - 1) * 4; shift >= 0; shift -= 4 {
		value = value*10 + int(raw>>shift&0xF)
	}
	return value
}

func encodeBCD(value int, digits int) uint32 {
	var raw uint32
	for shift := 0; shift < digits*4; shift += 4 {
		raw |= uint32(value%10) << shift
		value /= 10
	}
	return raw
}
