package protocol

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Encoder is implemented by values that know their encoded size and can
// append themselves to a Buffer.
type Encoder interface {
	EncodedSize() int
	Encode(b *Buffer) error
}

// Decoder is implemented by values that can rebuild themselves by consuming
// bytes from a Buffer, in the order Encode pushed them.
type Decoder interface {
	Decode(b *Buffer) error
}

// Bufferable is the full typed-value contract.
type Bufferable interface {
	Encoder
	Decoder
}

// Size returns the total encoded size of values.
func Size(values ...Encoder) int {
	n := 0
	for _, v := range values {
		n += v.EncodedSize()
	}
	return n
}

// Encode allocates a buffer sized exactly for values and pushes them in order.
func Encode(values ...Encoder) (*Buffer, error) {
	size := Size(values...)
	if size > MaxPacketSize {
		return nil, ErrFrameTooLarge
	}
	b := NewBuffer(size)
	for _, v := range values {
		if err := v.Encode(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Pull decodes the next value of type T from b.
func Pull[T any, P interface {
	*T
	Decoder
}](b *Buffer) (T, error) {
	var v T
	err := P(&v).Decode(b)
	return v, err
}

// ---- Primitives ----

type (
	U8   uint8
	U16  uint16
	U32  uint32
	U64  uint64
	I8   int8
	I16  int16
	I32  int32
	I64  int64
	F32  float32
	F64  float64
	Bool bool
	Str  string
)

func (U8) EncodedSize() int         { return 1 }
func (v U8) Encode(b *Buffer) error { return b.PushByte(byte(v)) }
func (v *U8) Decode(b *Buffer) error {
	x, err := b.PullByte()
	*v = U8(x)
	return err
}

func (U16) EncodedSize() int { return 2 }
func (v U16) Encode(b *Buffer) error {
	var p [2]byte
	binary.LittleEndian.PutUint16(p[:], uint16(v))
	return b.PushBytes(p[:])
}
func (v *U16) Decode(b *Buffer) error {
	p, err := b.PullBytes(2)
	if err != nil {
		return err
	}
	*v = U16(binary.LittleEndian.Uint16(p))
	return nil
}

func (U32) EncodedSize() int { return 4 }
func (v U32) Encode(b *Buffer) error {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(v))
	return b.PushBytes(p[:])
}
func (v *U32) Decode(b *Buffer) error {
	p, err := b.PullBytes(4)
	if err != nil {
		return err
	}
	*v = U32(binary.LittleEndian.Uint32(p))
	return nil
}

func (U64) EncodedSize() int { return 8 }
func (v U64) Encode(b *Buffer) error {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], uint64(v))
	return b.PushBytes(p[:])
}
func (v *U64) Decode(b *Buffer) error {
	p, err := b.PullBytes(8)
	if err != nil {
		return err
	}
	*v = U64(binary.LittleEndian.Uint64(p))
	return nil
}

func (I8) EncodedSize() int         { return 1 }
func (v I8) Encode(b *Buffer) error { return U8(v).Encode(b) }
func (v *I8) Decode(b *Buffer) error {
	var u U8
	err := u.Decode(b)
	*v = I8(u)
	return err
}

func (I16) EncodedSize() int         { return 2 }
func (v I16) Encode(b *Buffer) error { return U16(v).Encode(b) }
func (v *I16) Decode(b *Buffer) error {
	var u U16
	err := u.Decode(b)
	*v = I16(u)
	return err
}

func (I32) EncodedSize() int         { return 4 }
func (v I32) Encode(b *Buffer) error { return U32(v).Encode(b) }
func (v *I32) Decode(b *Buffer) error {
	var u U32
	err := u.Decode(b)
	*v = I32(u)
	return err
}

func (I64) EncodedSize() int         { return 8 }
func (v I64) Encode(b *Buffer) error { return U64(v).Encode(b) }
func (v *I64) Decode(b *Buffer) error {
	var u U64
	err := u.Decode(b)
	*v = I64(u)
	return err
}

func (F32) EncodedSize() int         { return 4 }
func (v F32) Encode(b *Buffer) error { return U32(math.Float32bits(float32(v))).Encode(b) }
func (v *F32) Decode(b *Buffer) error {
	var u U32
	if err := u.Decode(b); err != nil {
		return err
	}
	*v = F32(math.Float32frombits(uint32(u)))
	return nil
}

func (F64) EncodedSize() int         { return 8 }
func (v F64) Encode(b *Buffer) error { return U64(math.Float64bits(float64(v))).Encode(b) }
func (v *F64) Decode(b *Buffer) error {
	var u U64
	if err := u.Decode(b); err != nil {
		return err
	}
	*v = F64(math.Float64frombits(uint64(u)))
	return nil
}

// Bool encodes as a single 0/1 byte. Any non-zero byte decodes as true.
func (Bool) EncodedSize() int { return 1 }
func (v Bool) Encode(b *Buffer) error {
	if v {
		return b.PushByte(1)
	}
	return b.PushByte(0)
}
func (v *Bool) Decode(b *Buffer) error {
	x, err := b.PullByte()
	*v = x != 0
	return err
}

// Str encodes as a one-byte length followed by the raw bytes.
func (v Str) EncodedSize() int { return 1 + len(v) }
func (v Str) Encode(b *Buffer) error {
	if len(v) > math.MaxUint8 {
		return ErrStringTooLong
	}
	if b.Remaining() < v.EncodedSize() {
		return &WriteError{Requested: v.EncodedSize(), Available: b.Remaining()}
	}
	if err := b.PushByte(byte(len(v))); err != nil {
		return err
	}
	return b.PushBytes([]byte(v))
}
func (v *Str) Decode(b *Buffer) error {
	n, err := b.PullByte()
	if err != nil {
		return err
	}
	p, err := b.PullBytes(int(n))
	if err != nil {
		return err
	}
	if !utf8.Valid(p) {
		return ErrInvalidUTF8
	}
	*v = Str(p)
	return nil
}

// Token is an opaque 128-bit identifier (session tokens, user identities).
type Token uuid.UUID

// NilToken is the all-zero token.
var NilToken Token

// NewToken returns a fresh random token.
func NewToken() Token {
	return Token(uuid.New())
}

// ParseToken parses the canonical textual form of a token.
func ParseToken(s string) (Token, error) {
	u, err := uuid.Parse(s)
	return Token(u), err
}

func (t Token) String() string { return uuid.UUID(t).String() }

func (t Token) IsNil() bool { return t == NilToken }

func (Token) EncodedSize() int         { return 16 }
func (t Token) Encode(b *Buffer) error { return b.PushBytes(t[:]) }
func (t *Token) Decode(b *Buffer) error {
	p, err := b.PullBytes(16)
	if err != nil {
		return err
	}
	copy(t[:], p)
	return nil
}

// MarshalText renders the token in its canonical form for JSON output.
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ---- Composites ----

// Seq is a variable-length sequence: a one-byte element count followed by
// each element's encoding. Sequences longer than 255 elements cannot be
// encoded.
type Seq[T any, P interface {
	*T
	Bufferable
}] []T

func (s Seq[T, P]) EncodedSize() int {
	n := 1
	for i := range s {
		n += P(&s[i]).EncodedSize()
	}
	return n
}

func (s Seq[T, P]) Encode(b *Buffer) error {
	if len(s) > math.MaxUint8 {
		return ErrSequenceTooLong
	}
	if err := b.PushByte(byte(len(s))); err != nil {
		return err
	}
	for i := range s {
		if err := P(&s[i]).Encode(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seq[T, P]) Decode(b *Buffer) error {
	n, err := b.PullByte()
	if err != nil {
		return err
	}
	out := make([]T, n)
	for i := range out {
		if err := P(&out[i]).Decode(b); err != nil {
			return err
		}
	}
	*s = out
	return nil
}

// Array is a fixed-size run of elements. The count is not on the wire:
// decoding fills exactly len(a) elements, so the receiver sizes the slice
// before decoding.
type Array[T any, P interface {
	*T
	Bufferable
}] []T

func (a Array[T, P]) EncodedSize() int {
	n := 0
	for i := range a {
		n += P(&a[i]).EncodedSize()
	}
	return n
}

func (a Array[T, P]) Encode(b *Buffer) error {
	for i := range a {
		if err := P(&a[i]).Encode(b); err != nil {
			return err
		}
	}
	return nil
}

func (a Array[T, P]) Decode(b *Buffer) error {
	for i := range a {
		if err := P(&a[i]).Decode(b); err != nil {
			return err
		}
	}
	return nil
}

// Tuple encodes each component in order. To decode, build a Tuple of
// pointers to the destination values.
type Tuple []Bufferable

func (t Tuple) EncodedSize() int {
	n := 0
	for _, v := range t {
		n += v.EncodedSize()
	}
	return n
}

func (t Tuple) Encode(b *Buffer) error {
	for _, v := range t {
		if err := v.Encode(b); err != nil {
			return err
		}
	}
	return nil
}

func (t Tuple) Decode(b *Buffer) error {
	for _, v := range t {
		if err := v.Decode(b); err != nil {
			return err
		}
	}
	return nil
}

// Raw is an opaque run of bytes with no length on the wire. Decoding takes
// everything left in the buffer, so Raw can only be the last field.
type Raw []byte

func (r Raw) EncodedSize() int       { return len(r) }
func (r Raw) Encode(b *Buffer) error { return b.PushBytes(r) }
func (r *Raw) Decode(b *Buffer) error {
	p, err := b.PullBytes(b.Unread())
	if err != nil {
		return err
	}
	*r = append(Raw(nil), p...)
	return nil
}
