// Package flow contains the step runner for railway oriented operations.
//
// A pipeline threads a result.Result[*State] through a list of steps. Every step sees the
// state of a successful accumulator and produces the next accumulator. Once a step fails
// the remaining steps are skipped and the failure is the outcome of the pipeline.
//
//	flow.NewExecution(ctx, op, st).Run(
//		flow.Do(flow.Method[*CreateUser]("validate")),
//		flow.SetTo("profile", flow.Fn((*CreateUser).fetchProfile)),
//		flow.IfTrue(flow.When[*CreateUser](`params.notify`),
//			flow.Do(flow.Fn((*CreateUser).sendWelcome)),
//		),
//		flow.Retry(
//			func() backoff.BackOff { return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 3) },
//			flow.Set(flow.Fn((*CreateUser).create)),
//		),
//	)
//
// Do runs a callable for its side effects, Set stores what it returns on a key of the
// state, Map replaces the state altogether. Around hands a runner for nested steps to an
// execution strategy, which decides to run them zero or more times, now or later, and
// against which state.
//
// The steps publish lifecycle events to the Publisher found on the context.
package flow
