package protocol

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
)

// roundTrip encodes v, checks the size law, rebuilds the frame from its wire
// bytes and decodes into out.
func roundTrip(t *testing.T, v Encoder, out Decoder) {
	t.Helper()

	b, err := Encode(v)
	if err != nil {
		t.Fatalf("encode %T: %v", v, err)
	}
	if b.Len() != v.EncodedSize() {
		t.Fatalf("%T: wrote %d bytes, EncodedSize says %d", v, b.Len(), v.EncodedSize())
	}

	rx, err := ReadBuffer(bytes.NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("read frame %T: %v", v, err)
	}
	if err := out.Decode(rx); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	if rx.Unread() != 0 {
		t.Fatalf("%T: %d bytes left after decode", v, rx.Unread())
	}
}

func TestPrimitiveRoundTrip(t *testing.T) {
	t.Run("u8", func(t *testing.T) {
		var out U8
		roundTrip(t, U8(200), &out)
		if out != 200 {
			t.Fatalf("got %d", out)
		}
	})
	t.Run("u16", func(t *testing.T) {
		var out U16
		roundTrip(t, U16(0xBEEF), &out)
		if out != 0xBEEF {
			t.Fatalf("got %#x", out)
		}
	})
	t.Run("u32", func(t *testing.T) {
		var out U32
		roundTrip(t, U32(math.MaxUint32-7), &out)
		if out != math.MaxUint32-7 {
			t.Fatalf("got %d", out)
		}
	})
	t.Run("u64", func(t *testing.T) {
		var out U64
		roundTrip(t, U64(1<<63+12345), &out)
		if out != 1<<63+12345 {
			t.Fatalf("got %d", out)
		}
	})
	t.Run("i8", func(t *testing.T) {
		var out I8
		roundTrip(t, I8(-128), &out)
		if out != -128 {
			t.Fatalf("got %d", out)
		}
	})
	t.Run("i16", func(t *testing.T) {
		var out I16
		roundTrip(t, I16(-31000), &out)
		if out != -31000 {
			t.Fatalf("got %d", out)
		}
	})
	t.Run("i32", func(t *testing.T) {
		var out I32
		roundTrip(t, I32(math.MinInt32), &out)
		if out != math.MinInt32 {
			t.Fatalf("got %d", out)
		}
	})
	t.Run("i64", func(t *testing.T) {
		var out I64
		roundTrip(t, I64(-1), &out)
		if out != -1 {
			t.Fatalf("got %d", out)
		}
	})
	t.Run("f32", func(t *testing.T) {
		var out F32
		roundTrip(t, F32(3.25), &out)
		if out != 3.25 {
			t.Fatalf("got %v", out)
		}
	})
	t.Run("f64", func(t *testing.T) {
		var out F64
		roundTrip(t, F64(-1e300), &out)
		if out != -1e300 {
			t.Fatalf("got %v", out)
		}
	})
	t.Run("bool", func(t *testing.T) {
		var out Bool
		roundTrip(t, Bool(true), &out)
		if !out {
			t.Fatal("got false")
		}
	})
	t.Run("str", func(t *testing.T) {
		var out Str
		roundTrip(t, Str("héllo, courtyard"), &out)
		if out != "héllo, courtyard" {
			t.Fatalf("got %q", out)
		}
	})
	t.Run("token", func(t *testing.T) {
		want := NewToken()
		var out Token
		roundTrip(t, want, &out)
		if out != want {
			t.Fatalf("got %s, want %s", out, want)
		}
	})
}

func TestLittleEndianLayout(t *testing.T) {
	b, err := Encode(U16(0x0102), U32(0x03040506))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{6, 0, 0x02, 0x01, 0x06, 0x05, 0x04, 0x03}
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("wire bytes %x, want %x", b.Bytes(), want)
	}
}

func TestLengthPrefixTracksWrites(t *testing.T) {
	b := NewBuffer(10)
	for i := 1; i <= 10; i++ {
		if err := b.PushByte(byte(i)); err != nil {
			t.Fatal(err)
		}
		got := int(b.Bytes()[0]) | int(b.Bytes()[1])<<8
		if got != i {
			t.Fatalf("prefix %d after %d writes", got, i)
		}
	}
}

func TestWriteOverrun(t *testing.T) {
	b := NewBuffer(3)
	err := U32(1).Encode(b)
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected WriteError, got %v", err)
	}
	if we.Requested != 4 || we.Available != 3 {
		t.Fatalf("unexpected %+v", we)
	}
	if b.Len() != 0 {
		t.Fatalf("failed push moved the write cursor to %d", b.Len())
	}
}

func TestDrainPastEnd(t *testing.T) {
	b, err := Encode(U16(7), U8(1))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Pull[U16](b); err != nil {
		t.Fatal(err)
	}
	if b.ReadOffset() != 2 {
		t.Fatalf("read offset %d after u16", b.ReadOffset())
	}

	_, err = Pull[U32](b)
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReadError, got %v", err)
	}
	if re.Requested != 4 || re.Available != 1 {
		t.Fatalf("unexpected %+v", re)
	}
	if b.ReadOffset() != 2 {
		t.Fatalf("failed pull moved the read cursor to %d", b.ReadOffset())
	}
}

func TestInvalidUTF8(t *testing.T) {
	b, err := BufferFromPayload([]byte{2, 0xC3, 0x28})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Pull[Str](b); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestStringTooLong(t *testing.T) {
	if _, err := Encode(Str(strings.Repeat("x", 255))); err != nil {
		t.Fatalf("255 byte string: %v", err)
	}
	if _, err := Encode(Str(strings.Repeat("x", 256))); !errors.Is(err, ErrStringTooLong) {
		t.Fatalf("expected ErrStringTooLong, got %v", err)
	}
}

func TestSeqBoundary(t *testing.T) {
	full := make(Seq[U8, *U8], 255)
	for i := range full {
		full[i] = U8(i)
	}
	var out Seq[U8, *U8]
	roundTrip(t, full, &out)
	if len(out) != 255 || out[254] != 254 {
		t.Fatalf("decoded %d elements", len(out))
	}

	over := make(Seq[U8, *U8], 256)
	if _, err := Encode(over); !errors.Is(err, ErrSequenceTooLong) {
		t.Fatalf("expected ErrSequenceTooLong, got %v", err)
	}
}

func TestNestedComposites(t *testing.T) {
	in := Seq[Item, *Item]{
		{Name: "sword", Quantity: 1},
		{Name: "potion", Quantity: 12},
	}
	var out Items
	roundTrip(t, in, &out)
	if len(out) != 2 || out[1].Name != "potion" || out[1].Quantity != 12 {
		t.Fatalf("got %+v", out)
	}

	nested := Seq[Seq[Str, *Str], *Seq[Str, *Str]]{{"a", "b"}, {}, {"c"}}
	var nestedOut Seq[Seq[Str, *Str], *Seq[Str, *Str]]
	roundTrip(t, nested, &nestedOut)
	if len(nestedOut) != 3 || len(nestedOut[1]) != 0 || nestedOut[2][0] != "c" {
		t.Fatalf("got %+v", nestedOut)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	in := Array[U16, *U16]{1, 2, 3, 4}
	if in.EncodedSize() != 8 {
		t.Fatalf("array of four u16 should be 8 bytes, got %d", in.EncodedSize())
	}
	out := make(Array[U16, *U16], 4)
	roundTrip(t, in, out)
	for i, v := range out {
		if v != in[i] {
			t.Fatalf("element %d: got %d want %d", i, v, in[i])
		}
	}
}

func TestTupleRoundTrip(t *testing.T) {
	var (
		a U8     = 9
		s Str    = "pair"
		f Flavor = FlavorChat
	)
	var (
		a2 U8
		s2 Str
		f2 Flavor
	)
	roundTrip(t, Tuple{&a, &s, &f}, Tuple{&a2, &s2, &f2})
	if a2 != a || s2 != s || f2 != f {
		t.Fatalf("got (%d, %q, %s)", a2, s2, f2)
	}
}

func TestReadBufferTruncated(t *testing.T) {
	b, err := Encode(Str("truncate me"))
	if err != nil {
		t.Fatal(err)
	}
	wire := b.Bytes()

	_, err = ReadBuffer(bytes.NewReader(wire[:len(wire)-3]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}

	if _, err := ReadBuffer(bytes.NewReader([]byte{0, 0})); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestReadBufferSequential(t *testing.T) {
	var wire bytes.Buffer
	for _, s := range []string{"one", "two"} {
		b, err := Encode(Str(s))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := b.WriteTo(&wire); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"one", "two"} {
		b, err := ReadBuffer(&wire)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Pull[Str](b)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestFrameTooLarge(t *testing.T) {
	if _, err := Encode(Raw(make([]byte, MaxPacketSize+1))); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	b, err := Encode(Raw(make([]byte, MaxPacketSize)))
	if err != nil {
		t.Fatalf("max sized frame: %v", err)
	}
	if b.Bytes()[0] != 0xFF || b.Bytes()[1] != 0xFF {
		t.Fatalf("prefix %x", b.Bytes()[:2])
	}
}
