// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import (
	"fmt"
	"strconv"
	"strings"
)

// Frame is one CR-delimited protocol message. Inbound frames produced by the
// decoder do not include the terminator; outbound frames built by NewFrame do.
type Frame []byte

// Class returns the leading class byte ('?' or '!'), or 0 for an empty frame
func (f Frame) Class() byte {
	if len(f) == 0 {
		return 0
	}
	return f[0]
}

// String renders the frame with control bytes escaped
func (f Frame) String() string {
	return EscapeBytes(f)
}

// TokenKind classifies the result of feeding one byte to the decoder
type TokenKind int

const (
	// TokenNone means the byte was buffered or discarded
	TokenNone TokenKind = iota
	// TokenAck is a '+' outside a frame
	TokenAck
	// TokenNak is a '-' outside a frame
	TokenNak
	// TokenFrameStart is a '?' or '!' outside a frame
	TokenFrameStart
	// TokenFrame is a completed frame
	TokenFrame
	// TokenOverflow is reported once when a frame outgrows the input buffer
	TokenOverflow
)

// String returns the token kind name
func (k TokenKind) String() string {
	switch k {
	case TokenNone:
		return "NONE"
	case TokenAck:
		return "ACK"
	case TokenNak:
		return "NAK"
	case TokenFrameStart:
		return "FRAME_START"
	case TokenFrame:
		return "FRAME"
	case TokenOverflow:
		return "OVERFLOW"
	default:
		return "UNKNOWN"
	}
}

// Token is the decoder output for one byte
type Token struct {
	Kind TokenKind
	// Frame is set for TokenFrame. It aliases the decoder buffer and is only
	// valid until the next call to DecodeByte.
	Frame Frame
}

// Decoder implements the inbound byte classifier and frame reassembler
type Decoder struct {
	buf      []byte
	pos      int
	inFrame  bool
	overflow bool
}

// NewDecoder creates a decoder with an input buffer of size bytes
func NewDecoder(size int) *Decoder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Decoder{buf: make([]byte, size)}
}

// Reset drops any partial frame
func (d *Decoder) Reset() {
	d.pos = 0
	d.inFrame = false
	d.overflow = false
}

// InFrame reports whether the decoder is between a class byte and its CR
func (d *Decoder) InFrame() bool {
	return d.inFrame
}

// DecodeByte processes a single byte through the decoder state machine
func (d *Decoder) DecodeByte(b byte) Token {
	if d.inFrame {
		if b == FrameEnd {
			d.inFrame = false
			if d.overflow {
				return Token{Kind: TokenNone}
			}
			return Token{Kind: TokenFrame, Frame: Frame(d.buf[:d.pos])}
		}
		if d.pos >= len(d.buf) {
			if !d.overflow {
				d.overflow = true
				return Token{Kind: TokenOverflow}
			}
			return Token{Kind: TokenNone}
		}
		d.buf[d.pos] = b
		d.pos++
		return Token{Kind: TokenNone}
	}

	switch b {
	case AckByte:
		return Token{Kind: TokenAck}
	case NakByte:
		return Token{Kind: TokenNak}
	case QueryByte, CommandByte:
		d.inFrame = true
		d.overflow = false
		d.buf[0] = b
		d.pos = 1
		return Token{Kind: TokenFrameStart}
	}
	return Token{Kind: TokenNone}
}

// NewFrame builds an outbound frame from a class byte and body, appending CR
func NewFrame(class byte, body string) (Frame, error) {
	if class != QueryByte && class != CommandByte {
		return nil, invalidf("Codec", "NewFrame", "bad frame class 0x%02x", class)
	}
	n := len(body) + 2
	if n > MaxFrameSize {
		return nil, classify(ErrorInvalid, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, n), "Codec", "NewFrame")
	}
	f := make(Frame, 0, n)
	f = append(f, class)
	f = append(f, body...)
	return append(f, FrameEnd), nil
}

// MustNewFrame is NewFrame for constant frames; it panics on error
func MustNewFrame(class byte, body string) Frame {
	f, err := NewFrame(class, body)
	if err != nil {
		panic(err)
	}
	return f
}

// appendDecimal appends the absolute value of i in decimal
func appendDecimal(dst []byte, i int) []byte {
	if i < 0 {
		i = -i
	}
	return strconv.AppendInt(dst, int64(i), 10)
}

// appendDigits3 appends v as exactly three decimal digits
func appendDigits3(dst []byte, v int) []byte {
	return append(dst, byte(v/100+'0'), byte((v/10)%10+'0'), byte(v%10+'0'))
}

// parseHex parses an unsigned hexadecimal field, rejecting any non-hex byte
func parseHex(b []byte) (int, bool) {
	v := 0
	for _, c := range b {
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'f':
			d = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int(c-'A') + 10
		default:
			return 0, false
		}
		v = v<<4 | d
	}
	return v, true
}

// hexDigit returns the value of one hex digit or -1
func hexDigit(c byte) int {
	v, ok := parseHex([]byte{c})
	if !ok {
		return -1
	}
	return v
}

// EscapeBytes renders bytes with CR, LF and other control bytes escaped
func EscapeBytes(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		switch c {
		case '\r':
			sb.WriteString(`\r`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&sb, `\x%02x`, c)
			} else {
				sb.WriteByte(c)
			}
		}
	}
	return sb.String()
}
