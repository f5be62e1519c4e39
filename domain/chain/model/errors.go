package model

import "github.com/pkg/errors"

// ErrMalformed is wrapped by every decoding error.
var ErrMalformed = errors.New("malformed data")

func malformedf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformed, format, args...)
}
