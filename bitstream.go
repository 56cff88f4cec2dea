package kdcode

import "strings"

// BitStream is an ordered sequence of 0/1 values, eight per encoded
// character. The encoder always produces a length that is a multiple of
// eight before ring padding is applied.
type BitStream []uint8

// TextToBits converts text into its bit representation, eight bits per
// character, most significant bit first. Characters above code point 255
// cannot be represented and yield an EncodingError.
func TextToBits(text string) (BitStream, error) {
	bits := make(BitStream, 0, len(text)*8)
	pos := 0
	for _, r := range text {
		if r > 255 {
			return nil, &EncodingError{Char: r, Pos: pos}
		}
		for shift := 7; shift >= 0; shift-- {
			bits = append(bits, uint8(r>>uint(shift))&1)
		}
		pos++
	}
	return bits, nil
}

// BitsToText reconstructs text from a decoded bit sequence. Bits are read in
// groups of eight; an incomplete trailing group is zero padded. A zero byte
// terminates the walk: the encoder never emits an embedded NUL unless the
// source was ring padding, so everything after it is discarded. Other
// non-printable bytes are skipped silently, except tab, newline and carriage
// return which are kept. This asymmetry is part of the format.
func BitsToText(bits BitStream) string {
	var sb strings.Builder
	for i := 0; i < len(bits); i += 8 {
		var v uint8
		for j := 0; j < 8; j++ {
			v <<= 1
			if i+j < len(bits) && bits[i+j] != 0 {
				v |= 1
			}
		}
		switch {
		case v >= 32 && v <= 126:
			sb.WriteByte(v)
		case v == 0:
			return sb.String()
		case v == 9 || v == 10 || v == 13:
			sb.WriteByte(v)
		}
	}
	return sb.String()
}
