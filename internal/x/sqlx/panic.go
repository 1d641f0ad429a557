package sqlx

// failure is the panic value raised by the helpers in this package.
type failure struct {
	err error
}

// Must panics if err is non-nil.
func Must(err error) {
	if err != nil {
		panic(failure{err})
	}
}

// Recover assigns the error from a panic raised by Must() to *err. Any other
// panic is re-raised.
//
// It must be called directly by a deferred statement.
func Recover(err *error) {
	switch v := recover().(type) {
	case nil:
	case failure:
		*err = v.err
	default:
		panic(v)
	}
}
