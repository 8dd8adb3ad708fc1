package flow

import (
	"context"
	"errors"
	"time"

	"github.com/casualjim/railway/result"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Permanent marks an error so Retry gives up right away
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs the nested steps until they succeed or the policy gives up.
// Every attempt starts from a copy of the state the retry was entered with, so a failed
// attempt leaves nothing behind. A failure wrapping Permanent stops the retries and the
// inner error is the failure of the step.
func Retry[O any](policy func() backoff.BackOff, steps ...Step[O]) Step[O] {
	if policy == nil {
		panic("flow: retry policy not provided")
	}
	return AroundNamed("retry", retrying[O](policy), steps...)
}

func retrying[O any](policy func() backoff.BackOff) Strategy[O] {
	return func(ctx context.Context, run *Runner[O], st *State) result.Result[*State] {
		var final result.Result[*State]
		attempt := 0
		op := func() error {
			attempt++
			final = run.RunWith(ctx, st.Clone())
			return final.Err()
		}
		notify := func(err error, next time.Duration) {
			run.Logger().WithFields(logrus.Fields{"attempt": attempt, "next": next}).
				Debugf("retrying after failure: %v", err)
		}

		err := backoff.RetryNotify(op, backoff.WithContext(policy(), ctx), notify)
		if err == nil {
			return final
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return result.Failure[*State](err)
	}
}
