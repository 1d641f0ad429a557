package bboltx

import "fmt"

// failure is the panic value raised by the helpers in this package.
type failure struct {
	err error
}

// Must panics if err is non-nil.
//
// The panic is converted back to an error by Recover(), which View() and
// Update() defer on behalf of their callers.
func Must(err error) {
	if err != nil {
		panic(failure{err})
	}
}

// Corrupt panics with an error that reports that stored data is corrupt.
func Corrupt(format string, args ...any) {
	panic(failure{
		fmt.Errorf("data is corrupt, "+format, args...),
	})
}

// Recover assigns the error from a panic raised by Must() or Corrupt() to
// *err. Any other panic is re-raised.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}

	if f, ok := r.(failure); ok {
		*err = f.err
		return
	}

	panic(r)
}
