package position

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ResumeToken is a Token made of an opaque resume cursor provided by a
// document database change feed, plus a counter used to order multiple
// messages that were delivered by a single change event.
type ResumeToken struct {
	Cursor  string
	Counter uint64
}

// Compare returns -1, 0 or 1 if t is earlier than, equal to or later than v.
//
// Tokens are ordered by the bytes of their cursor, then by their counter.
func (t ResumeToken) Compare(v Token) (int, error) {
	x, ok := v.(ResumeToken)
	if !ok {
		return 0, incompatible(t, v)
	}

	if c := bytes.Compare([]byte(t.Cursor), []byte(x.Cursor)); c != 0 {
		return c, nil
	}

	switch {
	case t.Counter < x.Counter:
		return -1, nil
	case t.Counter > x.Counter:
		return 1, nil
	default:
		return 0, nil
	}
}

// String returns the stored form of t.
func (t ResumeToken) String() string {
	return t.Cursor + ":" + strconv.FormatUint(t.Counter, 10)
}

// ParseResumeToken parses the stored form of a ResumeToken.
func ParseResumeToken(s string) (ResumeToken, error) {
	i := strings.LastIndexByte(s, ':')
	if i == -1 {
		return ResumeToken{}, fmt.Errorf("invalid resume token %q: missing counter", s)
	}

	n, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return ResumeToken{}, fmt.Errorf("invalid resume token %q: %w", s, err)
	}

	return ResumeToken{
		Cursor:  s[:i],
		Counter: n,
	}, nil
}
