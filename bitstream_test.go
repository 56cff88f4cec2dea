package kdcode

import (
	"strings"
	"testing"
)

func TestTextToBits_RoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
	}{
		{name: "single_char", text: "A"},
		{name: "word", text: "Hello"},
		{name: "punctuation", text: "KD-Code: v1, (test)!"},
		{name: "whitespace_kept", text: "a\tb\nc\rd"},
		{name: "full_printable", text: " !~}|"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bits, err := TextToBits(tc.text)
			if err != nil {
				t.Fatalf("TextToBits: %v", err)
			}
			if got, want := len(bits), len(tc.text)*8; got != want {
				t.Fatalf("bit count: got %d want %d", got, want)
			}
			if got := BitsToText(bits); got != tc.text {
				t.Fatalf("round trip: got %q want %q", got, tc.text)
			}
		})
	}
}

func TestTextToBits_RejectsWideChars(t *testing.T) {
	_, err := TextToBits("ok€no")
	if err == nil {
		t.Fatalf("expected error for character above code point 255, got nil")
	}
	encErr, ok := err.(*EncodingError)
	if !ok {
		t.Fatalf("expected *EncodingError, got %T", err)
	}
	if encErr.Char != '€' || encErr.Pos != 2 {
		t.Fatalf("got char %q at %d, want %q at 2", encErr.Char, encErr.Pos, '€')
	}
}

func TestBitsToText_StopsAtNul(t *testing.T) {
	bits, err := TextToBits("hi")
	if err != nil {
		t.Fatalf("TextToBits: %v", err)
	}
	// Ring padding appends zero bits; everything after the first NUL byte
	// must be dropped even if it decodes to printable text.
	bits = append(bits, make(BitStream, 8)...)
	tail, err := TextToBits("junk")
	if err != nil {
		t.Fatalf("TextToBits: %v", err)
	}
	bits = append(bits, tail...)

	if got := BitsToText(bits); got != "hi" {
		t.Fatalf("got %q want %q", got, "hi")
	}
}

func TestBitsToText_SkipsControlBytes(t *testing.T) {
	// 0x07 (bell) is non-printable and not in the kept set; it must vanish
	// without terminating the walk.
	bits := BitStream{
		0, 1, 0, 0, 0, 0, 0, 1, // 'A'
		0, 0, 0, 0, 0, 1, 1, 1, // BEL
		0, 1, 0, 0, 0, 0, 1, 0, // 'B'
	}
	if got := BitsToText(bits); got != "AB" {
		t.Fatalf("got %q want %q", got, "AB")
	}
}

func TestBitsToText_PadsIncompleteGroup(t *testing.T) {
	// 'l' is 0x6C; truncating the trailing zero bits must not change it.
	bits, err := TextToBits("l")
	if err != nil {
		t.Fatalf("TextToBits: %v", err)
	}
	if got := BitsToText(bits[:6]); got != "l" {
		t.Fatalf("got %q want %q", got, "l")
	}
}

func TestBitsToText_LongText(t *testing.T) {
	text := strings.Repeat("KD", 60)
	bits, err := TextToBits(text)
	if err != nil {
		t.Fatalf("TextToBits: %v", err)
	}
	if got := BitsToText(bits); got != text {
		t.Fatalf("long round trip mismatch")
	}
}
