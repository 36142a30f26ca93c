package testutils

import (
	"github.com/pkg/errors"
)

// Must stop fixture setup on err; fixtures are also built outside of a test function where *testing.T is not at hand
func Must(err error) { Must1(struct{}{}, err) }

// Must1 returns v, stops fixture setup on err
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(errors.WithStack(err))
	}
	return v
}
