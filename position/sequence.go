package position

import (
	"fmt"
	"strconv"
)

// SequenceWidth is the number of digits in the stored form of a Sequence.
//
// It is wide enough to hold any uint64, so that the stored forms sort
// lexicographically in the same order as their numeric values.
const SequenceWidth = 20

// Sequence is a Token that is a monotonically increasing integer, as assigned
// by relational backends.
type Sequence uint64

// Compare returns -1, 0 or 1 if s is earlier than, equal to or later than v.
func (s Sequence) Compare(v Token) (int, error) {
	x, ok := v.(Sequence)
	if !ok {
		return 0, incompatible(s, v)
	}

	switch {
	case s < x:
		return -1, nil
	case s > x:
		return 1, nil
	default:
		return 0, nil
	}
}

// String returns the zero-padded fixed-width decimal form of s.
func (s Sequence) String() string {
	return fmt.Sprintf("%0*d", SequenceWidth, uint64(s))
}

// ParseSequence parses the stored form of a Sequence.
//
// Any decimal representation is accepted, padded or not.
func ParseSequence(s string) (Sequence, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence token %q: %w", s, err)
	}

	return Sequence(n), nil
}
