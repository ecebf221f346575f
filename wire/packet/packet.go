// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package packet provides support for encoding and decoding the argument
// lists carried by protocol messages.
//
// Fixed-width integers are big-endian. Strings are length-prefixed with a
// [Vint30]. Object IDs are uint32 values where 0 means "no object".
package packet

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/creachadair/mds/value"
)

// A Builder is a buffer that accumulates an argument list. The zero value is
// ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// Bool appends a Boolean to b. The encoding is a single byte with value 0 or 1.
func (b *Builder) Bool(ok bool) *Builder { b.buf = append(b.buf, value.Cond[byte](ok, 1, 0)); return b }

// Uint16 appends v to b in big-endian order.
func (b *Builder) Uint16(v uint16) *Builder {
	b.buf = binary.BigEndian.AppendUint16(b.buf, v)
	return b
}

// Uint32 appends v to b in big-endian order.
func (b *Builder) Uint32(v uint32) *Builder {
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
	return b
}

// Int32 appends v to b in big-endian two's complement order.
func (b *Builder) Int32(v int32) *Builder { return b.Uint32(uint32(v)) }

// Uint64 appends v to b in big-endian order.
func (b *Builder) Uint64(v uint64) *Builder {
	b.buf = binary.BigEndian.AppendUint64(b.buf, v)
	return b
}

// Text appends a length-prefixed string to b. The length is encoded as a
// [Vint30].
func (b *Builder) Text(s string) *Builder {
	b.Grow(VLen(len(s)))
	b.buf = Vint30(len(s)).Append(b.buf)
	b.buf = append(b.buf, s...)
	return b
}

// Vint30 appends v to b in its variable-width encoding.
// It panics if v is out of range.
func (b *Builder) Vint30(v uint32) *Builder { b.buf = Vint30(v).Append(b.buf); return b }

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains
// ownership of the reported slice.
func (b *Builder) Bytes() []byte { return b.buf }

// Grow resizes the internal buffer of b if necessary to ensure that at least n
// more bytes can be added without triggering another allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner reads encoded values from an argument list. Incomplete values
// report [io.ErrUnexpectedEOF].
type Scanner struct {
	rest   []byte
	offset int
}

// NewScanner constructs a [Scanner] that consumes data from input. The
// scanner retains slices into input, so the caller must not modify it while
// the scanner is in use.
func NewScanner(input []byte) *Scanner { return &Scanner{rest: input} }

// Bool scans a single byte and converts it into a Boolean value.
func (s *Scanner) Bool() (bool, error) {
	if len(s.rest) == 0 {
		return false, io.ErrUnexpectedEOF
	}
	v := s.rest[0] != 0
	s.offset++
	s.rest = s.rest[1:]
	return v, nil
}

// Uint16 parses a big-endian uint16 value from the head of the input.
func (s *Scanner) Uint16() (uint16, error) {
	if len(s.rest) < 2 {
		return 0, fmt.Errorf("value truncated (%d < 2 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	out := binary.BigEndian.Uint16(s.rest)
	s.offset += 2
	s.rest = s.rest[2:]
	return out, nil
}

// Uint32 parses a big-endian uint32 value from the head of the input.
func (s *Scanner) Uint32() (uint32, error) {
	if len(s.rest) < 4 {
		return 0, fmt.Errorf("value truncated (%d < 4 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	out := binary.BigEndian.Uint32(s.rest)
	s.offset += 4
	s.rest = s.rest[4:]
	return out, nil
}

// Int32 parses a big-endian two's complement int32 from the head of the input.
func (s *Scanner) Int32() (int32, error) {
	v, err := s.Uint32()
	return int32(v), err
}

// Uint64 parses a big-endian uint64 value from the head of the input.
func (s *Scanner) Uint64() (uint64, error) {
	if len(s.rest) < 8 {
		return 0, fmt.Errorf("value truncated (%d < 8 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	out := binary.BigEndian.Uint64(s.rest)
	s.offset += 8
	s.rest = s.rest[8:]
	return out, nil
}

// Vint30 parses a [Vint30] from the head of the input.
func (s *Scanner) Vint30() (uint32, error) {
	if len(s.rest) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	nb := int(s.rest[0]%4) + 1
	if len(s.rest) < nb {
		return 0, fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), nb, io.ErrUnexpectedEOF)
	}
	var w uint32
	for i := nb - 1; i >= 0; i-- {
		w = (w * 256) + uint32(s.rest[i])
	}
	s.offset += nb
	s.rest = s.rest[nb:]
	return w >> 2, nil
}

// Text parses a length-prefixed string from the head of the input.
func (s *Scanner) Text() (string, error) {
	save, off := s.rest, s.offset
	w, err := s.Vint30()
	if err != nil {
		return "", err
	}
	n := int(w)
	if avail := len(s.rest); avail < n {
		s.rest, s.offset = save, off
		return "", fmt.Errorf("value truncated (%d < %d bytes): %w", avail, n, io.ErrUnexpectedEOF)
	}
	out := string(s.rest[:n])
	s.offset += n
	s.rest = s.rest[n:]
	return out, nil
}

// Rest returns the unconsumed input of s. The scanner retains ownership of
// the reported slice.
func (s *Scanner) Rest() []byte { return s.rest }

// Len reports the number of remaining unconsumed input bytes in s.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the offset (0-based) of the next unconsumed input byte in s.
func (s *Scanner) Offset() int { return s.offset }

// VLen reports the encoded size in bytes of a length-prefixed encoding of an
// n-byte string.
func VLen(n int) int { return Vint30(n).Size() + n }

// Vint30 is an unsigned 30-bit integer that uses a variable-width encoding
// from 1 to 4 bytes.
//
// A value is encoded as a 32-bit value in little-endian order, with the excess
// length packed into the lowest-order 2 bits of the overall value, so the
// decoder can read the first byte to discover the length of the encoding.
type Vint30 uint32

// MaxVint30 is the maximum value that can be encoded by a Vint30.
const MaxVint30 = 1<<30 - 1

// Size reports the number of bytes required to encode v. If v is too large to
// be encoded, Size returns -1.
func (v Vint30) Size() int {
	switch {
	case v < (1 << 6):
		return 1
	case v < (1 << 14):
		return 2
	case v < (1 << 22):
		return 3
	case v < (1 << 30):
		return 4
	default:
		return -1
	}
}

// Append appends the encoded value of v to buf, and returns the updated slice.
// It panics if v is out of range.
func (v Vint30) Append(buf []byte) []byte {
	s := v.Size()
	if s < 0 {
		panic("value out of range")
	}
	w := uint32(v)*4 + uint32(s-1)
	var tmp [4]byte
	for i := range s {
		tmp[i] = byte(w % 256)
		w /= 256
	}
	return append(buf, tmp[:s]...)
}
