package kdcode

import "fmt"

// ValidationError reports caller input that failed a static check. It always
// names the offending field and is fixable by the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("kdcode: invalid %s: %s", e.Field, e.Reason)
}

// CapacityError reports a layout that would exceed the configured maximums.
// Unlike ValidationError it depends on the derived raster plan, not on a
// single input field, so it is kept as a distinct type.
type CapacityError struct {
	RingsNeeded int
	ImageSize   int
}

func (e *CapacityError) Error() string {
	if e.RingsNeeded > MaxRings {
		return fmt.Sprintf("kdcode: text needs %d rings, maximum is %d", e.RingsNeeded, MaxRings)
	}
	return fmt.Sprintf("kdcode: computed image size %d exceeds maximum %d", e.ImageSize, MaxImageSize)
}

// EncodingError reports a character that cannot be represented in the
// 8-bit-per-character bit stream.
type EncodingError struct {
	Char rune
	Pos  int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("kdcode: character %q at index %d is outside the 8-bit range", e.Char, e.Pos)
}
