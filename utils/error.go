package utils

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// ErrExec executes a list of functions concurrently and returns the first error.
// The context handed to each function is cancelled once any of them fails.
func ErrExec(ctx context.Context, functions ...func(ctx context.Context) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, one := range functions {
		one := one
		group.Go(func() error {
			return one(groupCtx)
		})
	}
	return group.Wait()
}

// ErrExecSequential executes every function in order and accumulates all the
// errors instead of stopping at the first one.
func ErrExecSequential(functions ...func() error) error {
	var multErr error
	for _, one := range functions {
		if err := one(); err != nil {
			multErr = multierror.Append(multErr, err)
		}
	}
	if merr, ok := multErr.(*multierror.Error); ok && merr.Len() == 1 {
		return merr.Errors[0]
	}
	return multErr
}
