// Package guard composes permission predicates around operations. It replaces
// scattered inline authorization checks with an explicit decorator list per
// call site: predicates run first, and any false predicate short-circuits the
// operation with a Forbidden error.
package guard

import (
	"context"

	apperrors "github.com/openlarder/larder/pkg/errors"
)

// Predicate is a boolean access decision, typically a closure over one of the
// permissions.Checker methods. Predicates never error; denial is just false.
type Predicate func(ctx context.Context) bool

// Op is a guarded unit of work.
type Op func(ctx context.Context) error

// Guard decorates an operation.
type Guard func(Op) Op

// Require builds a guard that runs the operation only when every predicate
// allows, otherwise returning ErrForbidden without invoking it.
func Require(preds ...Predicate) Guard {
	return func(op Op) Op {
		return func(ctx context.Context) error {
			for _, pred := range preds {
				if !pred(ctx) {
					return apperrors.ErrForbidden
				}
			}
			return op(ctx)
		}
	}
}

// Chain composes guards so the first listed is the outermost.
func Chain(guards ...Guard) Guard {
	return func(op Op) Op {
		for i := len(guards) - 1; i >= 0; i-- {
			op = guards[i](op)
		}
		return op
	}
}

// Run executes an operation returning a value under the given predicates.
// The zero value accompanies a Forbidden denial.
func Run[T any](ctx context.Context, preds []Predicate, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Require(preds...)(func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
