package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	// ErrOverflow is returned when a LEB128 value does not fit its type or
	// uses more bytes than the type width allows.
	ErrOverflow = errors.New("leb128: integer representation too long or too large")

	// ErrInvalidUTF8 is returned for names that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("malformed UTF-8 encoding")

	// ErrLength is returned when a declared length or count exceeds the
	// bytes left in the input.
	ErrLength = errors.New("length out of bounds")
)

// Reader reads WASM binary primitives from an in-memory byte slice.
// Offsets are relative to base, so a sub-reader over a section reports
// positions within the whole module.
type Reader struct {
	buf  []byte
	pos  int
	base int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Position returns the absolute byte position.
func (r *Reader) Position() int {
	return r.base + r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Mark returns a token for Since.
func (r *Reader) Mark() int {
	return r.pos
}

// Since returns the bytes consumed after mark. The result aliases the input.
func (r *Reader) Since(mark int) []byte {
	return r.buf[mark:r.pos:r.pos]
}

// Sub splits off the next n bytes as an independent reader and advances
// past them.
func (r *Reader) Sub(n uint32) (*Reader, error) {
	if uint64(n) > uint64(r.Len()) {
		return nil, r.wrapError(io.ErrUnexpectedEOF)
	}
	sub := &Reader{buf: r.buf[r.pos : r.pos+int(n)], base: r.Position()}
	r.pos += int(n)
	return sub, nil
}

// ReadByte reads a single byte and advances the position.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// PeekByte returns the next byte without consuming it.
func (r *Reader) PeekByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	return r.buf[r.pos], nil
}

// ReadBytes reads exactly n bytes. The result aliases the input.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadCount reads a vector length and rejects counts that cannot possibly
// fit in the remaining input, given that every element takes at least
// minElemSize bytes.
func (r *Reader) ReadCount(minElemSize int) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if minElemSize > 0 && uint64(n)*uint64(minElemSize) > uint64(r.Len()) {
		return 0, r.wrapError(ErrLength)
	}
	return n, nil
}

// readUnsigned decodes an unsigned LEB128 of at most bits width.
func (r *Reader) readUnsigned(bits uint) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift+7 > bits {
			// last permitted byte: no continuation, unused bits zero
			if b&0x80 != 0 || uint64(b&0x7f)>>(bits-shift) != 0 {
				return 0, r.wrapError(ErrOverflow)
			}
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// readSigned decodes a signed LEB128 of at most bits width.
func (r *Reader) readSigned(bits uint) (int64, error) {
	var result int64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift+7 > bits {
			if b&0x80 != 0 {
				return 0, r.wrapError(ErrOverflow)
			}
			// the unused high bits must all equal the sign bit
			used := bits - shift
			rest := int8(b<<1) >> (used)
			if rest != 0 && rest != -1 {
				return 0, r.wrapError(ErrOverflow)
			}
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
}

// ReadU32 reads an unsigned LEB128 encoded uint32.
func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.readUnsigned(32)
	return uint32(v), err
}

// ReadU64 reads an unsigned LEB128 encoded uint64.
func (r *Reader) ReadU64() (uint64, error) {
	return r.readUnsigned(64)
}

// ReadS32 reads a signed LEB128 encoded int32.
func (r *Reader) ReadS32() (int32, error) {
	v, err := r.readSigned(32)
	return int32(v), err
}

// ReadS33 reads the signed 33-bit LEB128 used by block types.
func (r *Reader) ReadS33() (int64, error) {
	return r.readSigned(33)
}

// ReadS64 reads a signed LEB128 encoded int64.
func (r *Reader) ReadS64() (int64, error) {
	return r.readSigned(64)
}

// ReadName reads a UTF-8 encoded name (length-prefixed byte sequence).
func (r *Reader) ReadName() (string, error) {
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrapError(ErrInvalidUTF8)
	}
	return string(data), nil
}

// ReadU32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadU64LE reads a little-endian uint64 (fixed 8 bytes).
func (r *Reader) ReadU64LE() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadRemaining reads all remaining bytes from the reader.
func (r *Reader) ReadRemaining() []byte {
	b, _ := r.ReadBytes(r.Len())
	return b
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.Position(), err)
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError with the current position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{
		Position: r.Position(),
		Section:  section,
		Err:      err,
	}
}
