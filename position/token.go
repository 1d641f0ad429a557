package position

import (
	"errors"
	"fmt"
)

// Token is a comparable marker of progress through the global message order.
//
// A nil Token is earlier than any concrete token.
type Token interface {
	// Compare returns -1, 0 or 1 if t is earlier than, equal to or later than
	// v, respectively.
	//
	// It returns an error wrapping ErrIllegalState if v is a different
	// realization of Token than t.
	Compare(v Token) (int, error)

	// String returns the stored form of the token.
	String() string
}

// ErrIllegalState indicates that two tokens of different realizations were
// compared.
var ErrIllegalState = errors.New("illegal state")

// Compare returns -1, 0 or 1 if a is earlier than, equal to or later than b.
//
// nil is earlier than any non-nil token.
func Compare(a, b Token) (int, error) {
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	default:
		return a.Compare(b)
	}
}

// Equal returns true if a and b refer to the same position.
func Equal(a, b Token) (bool, error) {
	c, err := Compare(a, b)
	return c == 0, err
}

// Before returns true if a is earlier than b.
func Before(a, b Token) (bool, error) {
	c, err := Compare(a, b)
	return c < 0, err
}

// MustCompare returns the result of Compare(a, b), or panics if the tokens
// can not be compared.
func MustCompare(a, b Token) int {
	c, err := Compare(a, b)
	if err != nil {
		panic(err)
	}
	return c
}

// Min returns the earliest of the given tokens.
//
// It returns nil if any of the tokens is nil.
func Min(tokens ...Token) (Token, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	min := tokens[0]

	for _, t := range tokens[1:] {
		c, err := Compare(t, min)
		if err != nil {
			return nil, err
		}

		if c < 0 {
			min = t
		}
	}

	return min, nil
}

// String returns the stored form of t, or an empty string if t is nil.
func String(t Token) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func incompatible(a, b Token) error {
	return fmt.Errorf(
		"%w: can not compare %T with %T",
		ErrIllegalState,
		a,
		b,
	)
}
