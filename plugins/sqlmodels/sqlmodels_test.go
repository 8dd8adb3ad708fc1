package sqlmodels_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/flow"
	"github.com/casualjim/railway/operation"
	"github.com/casualjim/railway/plugins/sqlmodels"
	"github.com/casualjim/railway/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type user struct {
	ID    int64
	Name  string
	Email string
}

func scanUser(s sqlmodels.Scanner) (*user, error) {
	u := new(user)
	if err := s.Scan(&u.ID, &u.Name, &u.Email); err != nil {
		return nil, err
	}
	return u, nil
}

var users = sqlmodels.NewModel("users", scanUser, []string{"id", "name", "email"})

func openDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (id, name, email) VALUES (1, 'Paul', 'paul@example.com'), (2, 'Ana', 'ana@example.com')`)
	require.NoError(t, err)
	return db
}

type userOp struct {
	operation.Base
	db    *sql.DB
	calls []string
}

func (u *userOp) DB() *sql.DB { return u.db }

func (u *userOp) insert(name string) flow.Step[*userOp] {
	return flow.Do(flow.Named("insert_"+name, flow.Fn(func(op *userOp, ctx context.Context, _ *flow.State) (any, error) {
		_, err := sqlmodels.QuerierFor(ctx, op.db).ExecContext(ctx,
			`INSERT INTO users (name, email) VALUES (?, ?)`, name, name+"@example.com")
		return nil, err
	})))
}

func record(label string) flow.Step[*userOp] {
	return flow.Do(flow.Named(label, flow.Fn(func(op *userOp, _ context.Context, st *flow.State) (any, error) {
		op.calls = append(op.calls, label+":"+toString(st.Get("phase")))
		return nil, nil
	})))
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func setPhase(phase string) flow.Step[*userOp] {
	return flow.SetTo("phase", flow.Named("phase_"+phase, flow.Raw[*userOp](func(context.Context, *flow.State, ...any) (any, error) {
		return phase, nil
	})))
}

var failing = flow.Do(flow.Named("fail", flow.Raw[*userOp](func(context.Context, *flow.State, ...any) (any, error) {
	return nil, fault.New("conflict")
})))

func newUserOp(db *sql.DB, opCtx map[string]any) *userOp {
	op := &userOp{db: db}
	if err := op.Init(opCtx); err != nil {
		panic(err)
	}
	return op
}

func run(t testing.TB, op *userOp, input any, steps ...flow.Step[*userOp]) result.Result[any] {
	t.Helper()
	class := operation.New("users", func(map[string]any) (*userOp, error) { return op, nil },
		operation.ResultAt(users.ResultKey()),
		operation.Instrument(nil),
	).Process(steps...)
	return operation.Bind(class, op).Call(context.Background(), input)
}

func countUsers(t testing.TB, db *sql.DB, name string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users WHERE name = ?`, name).Scan(&n))
	return n
}

func TestModel_Defaults(t *testing.T) {
	assert.Equal(t, "user", users.ResultKey())
	assert.Equal(t, "User not found", users.NotFound)
	assert.Equal(t, "id", users.SearchBy)

	cats := sqlmodels.NewModel("categories", scanUser, nil, sqlmodels.SearchBy("slug"))
	assert.Equal(t, "category", cats.ResultKey())
	assert.Equal(t, "slug", cats.SearchBy)

	named := sqlmodels.NewModel("t_people", scanUser, nil, sqlmodels.Named("person"), sqlmodels.NotFoundMessage("nobody"))
	assert.Equal(t, "person", named.ResultKey())
	assert.Equal(t, "nobody", named.NotFound)
}

func TestModel_Find(t *testing.T) {
	db := openDB(t)
	u, found, err := users.Find(context.Background(), db, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Paul", u.Name)

	_, found, err = users.Find(context.Background(), db, 99)
	require.NoError(t, err)
	assert.False(t, found)

	u, found, err = users.FindBy(context.Background(), db, "email", "ana@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 2, u.ID)
}

func TestFetchModel(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	res := run(t, op, map[string]any{"id": 1}, sqlmodels.FetchModel[*userOp](users))
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, "Paul", res.Value().(*user).Name)

	res = run(t, op, map[string]any{"id": 99}, sqlmodels.FetchModel[*userOp](users))
	require.True(t, res.IsFailure())
	fe, ok := fault.From(res.Err())
	require.True(t, ok)
	assert.Equal(t, fault.NotFound, fe.Kind)
	assert.Equal(t, "User not found", fe.Message)

	res = run(t, op, map[string]any{}, sqlmodels.FetchModel[*userOp](users, sqlmodels.ErrorMessage("who?")))
	fe, ok = fault.From(res.Err())
	require.True(t, ok)
	assert.Equal(t, "who?", fe.Message)
}

func TestFetchModel_Options(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	res := run(t, op, struct{ Mail string }{Mail: "ana@example.com"},
		sqlmodels.FetchModel[*userOp](users, sqlmodels.By("email"), sqlmodels.Using("Mail"), sqlmodels.To("found")),
		flow.Set(flow.Named("pick", flow.Raw[*userOp](func(_ context.Context, st *flow.State, _ ...any) (any, error) {
			return st.Get("found"), nil
		}))),
	)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, "Ana", res.Value().(*user).Name)
}

func TestFetchModel_SkipsWhenPresent(t *testing.T) {
	db := openDB(t)
	preset := &user{ID: 7, Name: "Preset"}
	op := newUserOp(db, map[string]any{"user": preset})

	res := run(t, op, map[string]any{"id": 1}, sqlmodels.FetchModel[*userOp](users))
	require.True(t, res.IsSuccess())
	assert.Same(t, preset, res.Value())

	res = run(t, op, map[string]any{"id": 1}, sqlmodels.FetchModel[*userOp](users, sqlmodels.Overwrite()))
	require.True(t, res.IsSuccess())
	assert.Equal(t, "Paul", res.Value().(*user).Name)
}

func TestFetchModel_DeclaredContext(t *testing.T) {
	db := openDB(t)
	preset := &user{ID: 7, Name: "Preset"}
	opCtx := map[string]any{"user": preset}

	declared := &userOp{db: db}
	require.NoError(t, declared.Init(opCtx, operation.Optional(users.ResultKey(), nil)))
	res := run(t, declared, map[string]any{"id": 1}, sqlmodels.FetchModel[*userOp](users))
	require.True(t, res.IsSuccess())
	assert.Same(t, preset, res.Value())

	undeclared := &userOp{db: db}
	require.NoError(t, undeclared.Init(opCtx, operation.Optional("other", nil)))
	res = run(t, undeclared, map[string]any{"id": 1}, sqlmodels.FetchModel[*userOp](users))
	require.True(t, res.IsSuccess())
	assert.Equal(t, "Paul", res.Value().(*user).Name)
}

func TestTransaction_Commit(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	res := run(t, op, nil, sqlmodels.Transaction(op.insert("carl"), op.insert("dora")))
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, 1, countUsers(t, db, "carl"))
	assert.Equal(t, 1, countUsers(t, db, "dora"))
}

func TestTransaction_RollbackOnFailure(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	res := run(t, op, nil, sqlmodels.Transaction(op.insert("carl"), failing, op.insert("dora")))
	require.True(t, res.IsFailure())
	assert.True(t, fault.IsKind(res.Err(), "conflict"))
	assert.Equal(t, 0, countUsers(t, db, "carl"))
	assert.Equal(t, 0, countUsers(t, db, "dora"))
}

func TestTransaction_NestedSavepoint(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	ignoreFailure := func(ctx context.Context, r *flow.Runner[*userOp], st *flow.State) result.Result[*flow.State] {
		r.Run(ctx)
		return result.Success(st)
	}

	res := run(t, op, nil, sqlmodels.Transaction(
		op.insert("outer"),
		flow.Around(ignoreFailure, sqlmodels.Transaction(
			op.insert("inner"),
			sqlmodels.AfterRollback(record("inner_rollback")),
			sqlmodels.AfterCommit(record("inner_commit")),
			failing,
		)),
		sqlmodels.Transaction(
			op.insert("kept"),
			sqlmodels.AfterCommit(record("kept_commit")),
		),
		op.insert("last"),
	))
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, 1, countUsers(t, db, "outer"))
	assert.Equal(t, 0, countUsers(t, db, "inner"))
	assert.Equal(t, 1, countUsers(t, db, "kept"))
	assert.Equal(t, 1, countUsers(t, db, "last"))
	assert.Equal(t, []string{"inner_rollback:", "kept_commit:"}, op.calls)
}

func TestAfterCommit_SnapshotAndOrder(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	res := run(t, op, nil,
		setPhase("before"),
		sqlmodels.Transaction(
			sqlmodels.AfterCommit(record("commit")),
			record("inline"),
			setPhase("after"),
		),
	)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, []string{"inline:before", "commit:before"}, op.calls)
}

func TestAfterCommit_NotRunOnFailure(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	res := run(t, op, nil, sqlmodels.Transaction(
		sqlmodels.AfterCommit(record("commit")),
		sqlmodels.AfterRollback(record("rollback")),
		failing,
	))
	require.True(t, res.IsFailure())
	assert.Equal(t, []string{"rollback:"}, op.calls)
}

func TestAfterRollback_EnclosingScope(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	res := run(t, op, nil, sqlmodels.Transaction(
		sqlmodels.Transaction(
			sqlmodels.AfterRollback(record("nested_rollback")),
			sqlmodels.AfterCommit(record("nested_commit")),
		),
		failing,
	))
	require.True(t, res.IsFailure())
	assert.Equal(t, []string{"nested_rollback:"}, op.calls)
}

func TestCallbacks_OutsideTransaction(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	res := run(t, op, nil,
		sqlmodels.AfterCommit(record("commit")),
		sqlmodels.AfterRollback(record("rollback")),
	)
	require.True(t, res.IsSuccess())
	assert.Equal(t, []string{"commit:"}, op.calls)
}

func TestCallbacks_FailureDoesNotChangeResult(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	res := run(t, op, nil,
		sqlmodels.Transaction(
			sqlmodels.AfterCommit(failing),
			setPhase("done"),
		),
		flow.Set(flow.Named("result", flow.Raw[*userOp](func(_ context.Context, st *flow.State, _ ...any) (any, error) {
			return st.Get("phase"), nil
		}))),
	)
	require.True(t, res.IsSuccess(), res.String())
	assert.Equal(t, "done", res.Value())
}

func TestTransaction_QuerierInsideAndOutside(t *testing.T) {
	db := openDB(t)
	op := newUserOp(db, nil)

	var inside, outside bool
	probe := func(target *bool) flow.Step[*userOp] {
		return flow.Do(flow.Named("probe", flow.Raw[*userOp](func(ctx context.Context, _ *flow.State, _ ...any) (any, error) {
			*target = sqlmodels.InTransaction(ctx)
			_, isTx := sqlmodels.QuerierFor(ctx, db).(*sql.Tx)
			if *target != isTx {
				return nil, errors.New("querier doesn't match the transaction state")
			}
			return nil, nil
		})))
	}

	res := run(t, op, nil, probe(&outside), sqlmodels.Transaction(probe(&inside)))
	require.True(t, res.IsSuccess(), res.String())
	assert.False(t, outside)
	assert.True(t, inside)
}

func TestDeclarationPanics(t *testing.T) {
	assert.Panics(t, func() { sqlmodels.Transaction[*userOp]() })
	assert.Panics(t, func() { sqlmodels.AfterCommit[*userOp]() })
	assert.Panics(t, func() { sqlmodels.AfterRollback[*userOp]() })
}
