// Package safe converts panics raised by module code into ordinary errors.
package safe

import (
	"fmt"
)

// Run executes fn and converts panics into returned errors tagged with scope.
// It is used at goroutine, lifecycle, and module extension boundaries so one
// faulty module cannot crash the process.
func Run(scope string, fn func() error) (err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}

// Value is Run for functions that also produce a value.
func Value[T any](scope string, fn func() (T, error)) (value T, err error) {
	err = Run(scope, func() error {
		var callErr error
		value, callErr = fn()
		return callErr
	})

	return value, err
}
