// Package gomegax contains additional gomega matchers.
package gomegax

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/onsi/gomega/format"
	"github.com/onsi/gomega/types"
)

// EqualX is an alternative to gomega.Equal() that compares values using
// go-cmp, and reports a diff when they differ.
//
// Values with an Equal() method, such as time.Time, are compared using that
// method. If no options are given, nil and empty slices and maps are
// considered equal.
func EqualX(expected any, options ...cmp.Option) types.GomegaMatcher {
	if len(options) == 0 {
		options = append(options, cmpopts.EquateEmpty())
	}

	return &equalMatcher{
		expected: expected,
		options:  options,
	}
}

type equalMatcher struct {
	expected any
	options  cmp.Options
}

func (m *equalMatcher) Match(actual any) (bool, error) {
	return cmp.Equal(actual, m.expected, m.options), nil
}

func (m *equalMatcher) FailureMessage(actual any) string {
	return m.message(actual, "to equal")
}

func (m *equalMatcher) NegatedFailureMessage(actual any) string {
	return m.message(actual, "not to equal")
}

func (m *equalMatcher) message(actual any, relation string) string {
	diff := cmp.Diff(m.expected, actual, m.options)

	return format.Message(actual, relation, m.expected) +
		"\n\nDiff (-expected +actual):\n" +
		format.IndentString(diff, 1)
}
