/*
Package operation is the shell business operations are declared with.

A Class pairs a constructor with the steps a call runs. Every call builds the initial
state from the context of the operation and the input, runs the steps and returns the
value found at the result key of the class.

	type CreateUser struct {
		operation.Base
		Repo Repository `context:"repo"`
	}

	var CreateUserOp = operation.New("create_user", NewCreateUser, operation.ResultAt("user")).
		Process(
			validation.Validate[*CreateUser](validation.Map(validation.Rules{"name": "required"})),
			authorization.Authorize[*CreateUser]("current_user"),
			flow.SetTo("user", flow.Fn((*CreateUser).create)),
		)

	res := CreateUserOp.Call(ctx, map[string]any{"repo": repo, "current_user": u}, input)

Every call gets a ksuid call id that is added to the log entries and lifecycle events it
produces, and is timed in the metrics registry of the class.
*/
package operation
