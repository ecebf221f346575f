// Copyright (C) 2026 RDK Management. All Rights Reserved.

package protocol

import "fmt"

// Format is the pixel format tag of a buffer.
type Format uint32

const (
	FormatRGB   Format = 0x3065 // packed RGB
	FormatRGBA  Format = 0x3066 // packed RGBA
	FormatYUV   Format = 0x31d7 // three planes: Y, U, V
	FormatYUV2  Format = 0x31d8 // semi-planar: Y plane and interleaved UV plane
	FormatYXUXV Format = 0x31d9 // Y plane and packed XUXV plane
	FormatNone  Format = 0
)

// Planes reports the number of planes a buffer of format f carries, or 0 if f
// is not a known format.
func (f Format) Planes() int {
	switch f {
	case FormatRGB, FormatRGBA:
		return 1
	case FormatYUV2, FormatYXUXV:
		return 2
	case FormatYUV:
		return 3
	default:
		return 0
	}
}

// Valid reports whether f is a known format tag.
func (f Format) Valid() bool { return f.Planes() > 0 }

func (f Format) String() string {
	switch f {
	case FormatRGB:
		return "RGB"
	case FormatRGBA:
		return "RGBA"
	case FormatYUV:
		return "Y_U_V"
	case FormatYUV2:
		return "Y_UV"
	case FormatYXUXV:
		return "Y_XUXV"
	default:
		return fmt.Sprintf("format %#x", uint32(f))
	}
}
