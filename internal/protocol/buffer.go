package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidUTF8     = errors.New("invalid utf-8 string")
	ErrSequenceTooLong = errors.New("sequence longer than 255 elements")
	ErrStringTooLong   = errors.New("string longer than 255 bytes")
	ErrFrameTooLarge   = fmt.Errorf("frame payload exceeds %d bytes", MaxPacketSize)
	ErrEmptyFrame      = errors.New("received zero-length frame")
)

// ReadError is returned when a pull would move the read cursor past the
// bytes actually written.
type ReadError struct {
	Requested int
	Available int
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read overrun: requested %d bytes, %d available", e.Requested, e.Available)
}

// WriteError is returned when a push would move the write cursor past the
// buffer's capacity.
type WriteError struct {
	Requested int
	Available int
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write overrun: requested %d bytes, %d available", e.Requested, e.Available)
}

// UnrecognizedTagError is returned when an enumeration tag read from the
// wire does not match any known variant.
type UnrecognizedTagError struct {
	Kind string
	Tag  byte
}

func (e *UnrecognizedTagError) Error() string {
	return fmt.Sprintf("unrecognized %s tag: 0x%02X", e.Kind, e.Tag)
}

// Buffer stages a single frame. The first LengthPrefixSize bytes always hold
// the little-endian count of payload bytes written so far, so Bytes() can be
// handed to a socket as-is.
//
// A Buffer is owned by one goroutine at a time and is never reused across
// unrelated messages.
type Buffer struct {
	data []byte // prefix + payload; len is the write cursor, cap is fixed
	r    int    // read cursor, absolute index into data
}

// NewBuffer allocates a buffer able to hold capacity payload bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	if capacity > MaxPacketSize {
		capacity = MaxPacketSize
	}
	data := make([]byte, LengthPrefixSize, LengthPrefixSize+capacity)
	return &Buffer{data: data, r: LengthPrefixSize}
}

// BufferFromPayload rebuilds a received frame from its payload bytes. The
// payload is copied so the caller may reuse its slice.
func BufferFromPayload(payload []byte) (*Buffer, error) {
	if len(payload) > MaxPacketSize {
		return nil, ErrFrameTooLarge
	}
	b := NewBuffer(len(payload))
	if err := b.PushBytes(payload); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadBuffer reads one complete frame from r: the two-byte length prefix,
// then exactly that many payload bytes. A partial frame is never returned.
func ReadBuffer(r io.Reader) (*Buffer, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	length := int(binary.LittleEndian.Uint16(prefix[:]))
	if length == 0 {
		return nil, ErrEmptyFrame
	}

	data := make([]byte, LengthPrefixSize+length)
	copy(data, prefix[:])
	if _, err := io.ReadFull(r, data[LengthPrefixSize:]); err != nil {
		return nil, fmt.Errorf("failed to read frame payload (%d bytes): %w", length, err)
	}

	return &Buffer{data: data, r: LengthPrefixSize}, nil
}

// WriteTo writes the whole frame, prefix included.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.data)
	return int64(n), err
}

// Bytes returns the frame as it goes on the wire.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Payload returns the bytes written after the length prefix.
func (b *Buffer) Payload() []byte {
	return b.data[LengthPrefixSize:]
}

// Len returns the number of payload bytes written.
func (b *Buffer) Len() int {
	return len(b.data) - LengthPrefixSize
}

// Cap returns the payload capacity.
func (b *Buffer) Cap() int {
	return cap(b.data) - LengthPrefixSize
}

// Remaining returns how many more payload bytes can be pushed.
func (b *Buffer) Remaining() int {
	return cap(b.data) - len(b.data)
}

// Unread returns how many written bytes have not been pulled yet.
func (b *Buffer) Unread() int {
	return len(b.data) - b.r
}

// ReadOffset returns how many payload bytes have been pulled.
func (b *Buffer) ReadOffset() int {
	return b.r - LengthPrefixSize
}

// Rest returns the unread payload without advancing the read cursor.
func (b *Buffer) Rest() []byte {
	return b.data[b.r:]
}

// PushBytes appends raw bytes.
func (b *Buffer) PushBytes(p []byte) error {
	if len(p) > b.Remaining() {
		return &WriteError{Requested: len(p), Available: b.Remaining()}
	}
	b.data = append(b.data, p...)
	binary.LittleEndian.PutUint16(b.data[:LengthPrefixSize], uint16(b.Len()))
	return nil
}

// PushByte appends a single byte.
func (b *Buffer) PushByte(v byte) error {
	if b.Remaining() < 1 {
		return &WriteError{Requested: 1, Available: 0}
	}
	b.data = append(b.data, v)
	binary.LittleEndian.PutUint16(b.data[:LengthPrefixSize], uint16(b.Len()))
	return nil
}

// PullBytes consumes n bytes. The returned slice aliases the buffer.
func (b *Buffer) PullBytes(n int) ([]byte, error) {
	if n < 0 || n > b.Unread() {
		return nil, &ReadError{Requested: n, Available: b.Unread()}
	}
	p := b.data[b.r : b.r+n]
	b.r += n
	return p, nil
}

// PullByte consumes a single byte.
func (b *Buffer) PullByte() (byte, error) {
	if b.Unread() < 1 {
		return 0, &ReadError{Requested: 1, Available: 0}
	}
	v := b.data[b.r]
	b.r++
	return v, nil
}

// Rewind moves the read cursor back to the first payload byte.
func (b *Buffer) Rewind() {
	b.r = LengthPrefixSize
}

// Skip advances the read cursor by n bytes.
func (b *Buffer) Skip(n int) error {
	_, err := b.PullBytes(n)
	return err
}

// String returns a hex dump of the payload for debugging.
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer[%d/%d bytes, read %d]: %x", b.Len(), b.Cap(), b.ReadOffset(), b.Payload())
}
