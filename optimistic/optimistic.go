// Package optimistic runs an operation whose effect is shown before the
// backend confirms it.
package optimistic

import "context"

// Operation describes one optimistic update. Apply shows the tentative state
// and Do performs the remote call. Commit receives the call's result on
// success and Rollback receives its error on failure. Any hook may be nil.
//
// Commit and Rollback run after Do returned, so they must re-read the state
// they change instead of reusing values captured before Apply.
type Operation[T any] struct {
	Apply    func()
	Do       func(ctx context.Context) (T, error)
	Commit   func(T)
	Rollback func(error)
}

// Run applies the tentative state, performs the call and commits or rolls
// back. It returns the call's result and error unchanged.
func (o Operation[T]) Run(ctx context.Context) (T, error) {
	if o.Apply != nil {
		o.Apply()
	}

	var (
		res T
		err error
	)
	if o.Do != nil {
		res, err = o.Do(ctx)
	}

	if err != nil {
		if o.Rollback != nil {
			o.Rollback(err)
		}
		return res, err
	}
	if o.Commit != nil {
		o.Commit(res)
	}
	return res, nil
}
