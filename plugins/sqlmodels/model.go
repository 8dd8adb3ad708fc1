// Package sqlmodels wires database/sql into operations: finders that fetch a row into the
// state and transactions around a block of steps.
//
//	users := sqlmodels.NewModel("users", scanUser, []string{"id", "name", "email"})
//
//	var UpdateUser = operation.New("update_user", newUpdateUser, operation.ResultAt(users.ResultKey())).
//		Process(
//			sqlmodels.FetchModel[*UpdateUser](users),
//			sqlmodels.Transaction(
//				flow.Set(flow.Fn((*UpdateUser).save)),
//				sqlmodels.AfterCommit(flow.Do(flow.Fn((*UpdateUser).notify))),
//			),
//		)
//
// FetchModel skips the query when the state already holds the model. Operations that
// declare their context keys have to declare the result key too, so callers can hand
// over a model they loaded themselves:
//
//	func newUpdateUser(ctx map[string]any) (*UpdateUser, error) {
//		op := new(UpdateUser)
//		return op, op.Init(ctx, operation.Require("db"), operation.Optional(users.ResultKey(), nil))
//	}
package sqlmodels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/casualjim/railway/fault"
	"github.com/casualjim/railway/flow"
	"github.com/casualjim/railway/result"
	"github.com/go-viper/mapstructure/v2"
)

// Scanner is implemented by *sql.Row and *sql.Rows
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc reads a row into a model value
type ScanFunc[T any] func(Scanner) (T, error)

// Model describes how to find rows of a table
type Model[T any] struct {
	Table    string
	Columns  []string
	SearchBy string
	NotFound string
	Name     string
	scan     ScanFunc[T]
}

// ModelOption configures a model
type ModelOption func(*modelConfig)

type modelConfig struct {
	searchBy string
	notFound string
	name     string
}

// SearchBy sets the column finders search with, it defaults to id
func SearchBy(column string) ModelOption {
	return func(m *modelConfig) { m.searchBy = column }
}

// NotFoundMessage replaces the "<Name> not found" message
func NotFoundMessage(msg string) ModelOption {
	return func(m *modelConfig) { m.notFound = msg }
}

// Named sets the name the result key and messages derive from, it defaults to the
// singular of the table name
func Named(name string) ModelOption {
	return func(m *modelConfig) { m.name = name }
}

// NewModel for the table, columns are selected in the order the scan function reads them
func NewModel[T any](table string, scan ScanFunc[T], columns []string, opts ...ModelOption) *Model[T] {
	if scan == nil {
		panic("sqlmodels: scan function not provided")
	}
	cfg := &modelConfig{searchBy: "id", name: singular(table)}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.notFound == "" {
		cfg.notFound = fault.Humanize(cfg.name) + " not found"
	}
	return &Model[T]{
		Table:    table,
		Columns:  columns,
		SearchBy: cfg.searchBy,
		NotFound: cfg.notFound,
		Name:     cfg.name,
		scan:     scan,
	}
}

// ResultKey is the state key fetched models are stored at, operation.ResultAt(m.ResultKey())
// makes it the result of the operation
func (m *Model[T]) ResultKey() string {
	return strings.ToLower(m.Name)
}

// Find the first row where the search column equals the key
func (m *Model[T]) Find(ctx context.Context, q Querier, key any) (T, bool, error) {
	return m.FindBy(ctx, q, m.SearchBy, key)
}

// FindBy finds the first row where the column equals the key
func (m *Model[T]) FindBy(ctx context.Context, q Querier, column string, key any) (T, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1", strings.Join(m.Columns, ", "), m.Table, column)
	v, err := m.scan(q.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

// FindWith wraps what FindBy returns in a result, absent rows fail with kind not_found
func (m *Model[T]) FindWith(ctx context.Context, q Querier, column string, key any, message string) result.Result[any] {
	v, found, err := m.FindBy(ctx, q, column, key)
	if err != nil {
		return result.Failure[any](err)
	}
	if !found {
		return result.Failure[any](fault.New(fault.NotFound, fault.Message(message)))
	}
	return result.Success[any](v)
}

// FetchOption configures FetchModel
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	using     string
	searchBy  string
	to        string
	overwrite bool
	message   string
}

// Using reads the key from this input field, it defaults to the search column
func Using(field string) FetchOption {
	return func(c *fetchConfig) { c.using = field }
}

// By searches this column instead of the one of the model
func By(column string) FetchOption {
	return func(c *fetchConfig) { c.searchBy = column }
}

// To stores the model at this state key instead of the result key
func To(key string) FetchOption {
	return func(c *fetchConfig) { c.to = key }
}

// Overwrite fetches even when the state already holds a value at the target key
func Overwrite() FetchOption {
	return func(c *fetchConfig) { c.overwrite = true }
}

// ErrorMessage replaces the not found message of the model
func ErrorMessage(msg string) FetchOption {
	return func(c *fetchConfig) { c.message = msg }
}

// FetchModel creates a step that finds the row matching a field of the input and stores
// it on the state. When the state already holds a value at the target key nothing is
// fetched, unless Overwrite is given. A value only reaches the state through the context
// when the operation keeps that key, see operation.Optional.
func FetchModel[O Connected, T any](m *Model[T], opts ...FetchOption) flow.Step[O] {
	cfg := &fetchConfig{searchBy: m.SearchBy, message: m.NotFound}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.using == "" {
		cfg.using = cfg.searchBy
	}

	return flow.Map(flow.Named("fetch_"+m.ResultKey(), flow.Fn(func(op O, ctx context.Context, st *flow.State) (any, error) {
		to := cfg.to
		if to == "" {
			to = st.ResultKey()
		}
		if st.Get(to) != nil && !cfg.overwrite {
			return st, nil
		}

		input, err := inputFields(st.Input())
		if err != nil {
			return nil, err
		}
		key, ok := input[cfg.using]
		if !ok || key == nil {
			return result.Failure[any](fault.New(fault.NotFound, fault.Message(cfg.message))), nil
		}

		q := QuerierFor(ctx, op.DB())
		return result.Map(m.FindWith(ctx, q, cfg.searchBy, key, cfg.message), func(v any) *flow.State {
			return st.Set(to, v)
		}), nil
	})))
}

func inputFields(input any) (map[string]any, error) {
	switch in := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return in, nil
	}
	var out map[string]any
	if err := mapstructure.Decode(input, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func singular(table string) string {
	switch {
	case strings.HasSuffix(table, "ies"):
		return strings.TrimSuffix(table, "ies") + "y"
	case strings.HasSuffix(table, "sses"):
		return strings.TrimSuffix(table, "es")
	case strings.HasSuffix(table, "s") && !strings.HasSuffix(table, "ss"):
		return strings.TrimSuffix(table, "s")
	}
	return table
}
