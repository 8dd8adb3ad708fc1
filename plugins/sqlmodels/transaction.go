package sqlmodels

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/casualjim/railway"
	"github.com/casualjim/railway/flow"
	"github.com/casualjim/railway/internal"
	"github.com/casualjim/railway/result"
	"github.com/hashicorp/go-multierror"
)

// Connected operations give access to their database
type Connected interface {
	DB() *sql.DB
}

// Querier runs statements, both *sql.DB and *sql.Tx are one
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type hook func() error

type scope struct {
	tx            *sql.Tx
	parent        *scope
	depth         int
	afterCommit   []hook
	afterRollback []hook
}

func (s *scope) savepoint() string {
	return fmt.Sprintf("railway_sp_%d", s.depth)
}

func scopeFrom(ctx context.Context) *scope {
	sc, _ := ctx.Value(internal.TxScopeKey).(*scope)
	return sc
}

func withScope(ctx context.Context, sc *scope) context.Context {
	return context.WithValue(ctx, internal.TxScopeKey, sc)
}

// InTransaction is true when the context carries an open transaction
func InTransaction(ctx context.Context) bool {
	return scopeFrom(ctx) != nil
}

// Tx is the transaction open on the context, if any
func Tx(ctx context.Context) (*sql.Tx, bool) {
	sc := scopeFrom(ctx)
	if sc == nil {
		return nil, false
	}
	return sc.tx, true
}

// QuerierFor is the transaction open on the context, the database otherwise
func QuerierFor(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := Tx(ctx); ok {
		return tx
	}
	return db
}

// Transaction runs the steps in a database transaction that is rolled back when they
// fail. Nested transactions use savepoints.
func Transaction[O Connected](steps ...flow.Step[O]) flow.Step[O] {
	if len(steps) == 0 {
		panic("sqlmodels: transaction needs a step or a block of steps")
	}
	return flow.AroundNamed("transaction", transactionally[O], steps...)
}

func transactionally[O Connected](ctx context.Context, run *flow.Runner[O], _ *flow.State) (res result.Result[*flow.State]) {
	log := railway.ContextLogger(ctx)
	parent := scopeFrom(ctx)

	sc := &scope{parent: parent}
	if parent == nil {
		tx, err := run.Operation().DB().BeginTx(ctx, nil)
		if err != nil {
			return result.Failure[*flow.State](err)
		}
		sc.tx = tx
	} else {
		sc.tx = parent.tx
		sc.depth = parent.depth + 1
		if _, err := sc.tx.ExecContext(ctx, "SAVEPOINT "+sc.savepoint()); err != nil {
			return result.Failure[*flow.State](err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			if err := sc.rollback(ctx); err != nil {
				log.Errorf("rollback after panic failed: %v", err)
			}
			panic(r)
		}
	}()

	res = run.Run(withScope(ctx, sc))
	if res.IsFailure() {
		if err := sc.rollback(ctx); err != nil {
			log.Errorf("rollback failed: %v", err)
		}
		fire(ctx, "after rollback", sc.afterRollback)
		return res
	}

	if parent != nil {
		if _, err := sc.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sc.savepoint()); err != nil {
			fire(ctx, "after rollback", sc.afterRollback)
			return result.Failure[*flow.State](err)
		}
		parent.afterCommit = append(parent.afterCommit, sc.afterCommit...)
		parent.afterRollback = append(parent.afterRollback, sc.afterRollback...)
		return res
	}

	if err := sc.tx.Commit(); err != nil {
		fire(ctx, "after rollback", sc.afterRollback)
		return result.Failure[*flow.State](err)
	}
	fire(ctx, "after commit", sc.afterCommit)
	return res
}

func (s *scope) rollback(ctx context.Context) error {
	if s.parent == nil {
		return s.tx.Rollback()
	}
	if _, err := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+s.savepoint()); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+s.savepoint())
	return err
}

func fire(ctx context.Context, what string, hooks []hook) {
	var errs *multierror.Error
	for _, h := range hooks {
		errs = multierror.Append(errs, h())
	}
	if err := errs.ErrorOrNil(); err != nil {
		railway.ContextLogger(ctx).WithField("hook", what).Warnf("callbacks failed: %v", err)
	}
}

// AfterCommit runs the steps once the enclosing transaction committed, against a copy of
// the state taken when this step is reached. Later steps don't affect what they see and
// their failure can't change the result of the call.
// Outside of a transaction the steps run right away.
func AfterCommit[O Connected](steps ...flow.Step[O]) flow.Step[O] {
	if len(steps) == 0 {
		panic("sqlmodels: after commit needs a step or a block of steps")
	}
	return flow.AroundNamed("after_commit", deferred[O](false), steps...)
}

// AfterRollback runs the steps when the enclosing transaction, or one around it, rolls
// back. Like AfterCommit they see a copy of the state taken when this step is reached.
// Outside of a transaction they never run.
func AfterRollback[O Connected](steps ...flow.Step[O]) flow.Step[O] {
	if len(steps) == 0 {
		panic("sqlmodels: after rollback needs a step or a block of steps")
	}
	return flow.AroundNamed("after_rollback", deferred[O](true), steps...)
}

func deferred[O Connected](onRollback bool) flow.Strategy[O] {
	return func(ctx context.Context, run *flow.Runner[O], st *flow.State) result.Result[*flow.State] {
		snapshot := run.Snapshot()
		sc := scopeFrom(ctx)
		outside := withScope(ctx, nil)

		h := func() error {
			return run.RunWith(outside, snapshot).Err()
		}

		switch {
		case sc == nil && onRollback:
			railway.ContextLogger(ctx).Debug("after rollback outside of a transaction, skipping")
		case sc == nil:
			fire(ctx, "after commit", []hook{h})
		case onRollback:
			sc.afterRollback = append(sc.afterRollback, h)
		default:
			sc.afterCommit = append(sc.afterCommit, h)
		}
		return result.Success(st)
	}
}
