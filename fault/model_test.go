package fault_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/casualjim/railway/fault"
	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToModel(t *testing.T) {
	err := fault.Wrap(fault.NotFound, errors.New("sql: no rows in result set"), fault.Message("User not found"))

	m := fault.ToModel(err, "https://docs.example.com/errors/")
	require.NotNil(t, m)
	assert.Equal(t, fault.NotFound, m.Kind)
	assert.Equal(t, "User not found", m.Message)
	assert.Equal(t, strfmt.URI("https://docs.example.com/errors/not_found"), m.HelpURL)
	assert.Nil(t, m.Details)
	require.NotNil(t, m.Cause)
	assert.Equal(t, fault.Kind("error"), m.Cause.Kind)
	assert.Equal(t, err.Error(), m.Error())
	assert.NoError(t, m.Validate(strfmt.Default))

	b, jerr := json.Marshal(m)
	require.NoError(t, jerr)
	assert.JSONEq(t, `{
		"kind": "not_found",
		"message": "User not found",
		"helpUrl": "https://docs.example.com/errors/not_found",
		"cause": {"kind": "error", "message": "sql: no rows in result set"}
	}`, string(b))
}

func TestToModel_Details(t *testing.T) {
	err := fault.New(fault.Validation, fault.Details(map[string][]string{"name": {"is missing"}}))
	m := fault.ToModel(err, "")
	assert.Equal(t, map[string][]string{"name": {"is missing"}}, m.Details)
	assert.Empty(t, m.HelpURL)
	assert.Nil(t, fault.ToModel(nil, ""))
}

func TestModel_Validate(t *testing.T) {
	assert.Error(t, (&fault.Model{Message: "x"}).Validate(strfmt.Default))
	assert.Error(t, (&fault.Model{Kind: "x"}).Validate(strfmt.Default))
	assert.Error(t, (&fault.Model{Kind: "x", Message: "x", HelpURL: "not a uri"}).Validate(strfmt.Default))
	assert.Error(t, (&fault.Model{Kind: "x", Message: "x", Cause: &fault.Model{Kind: "y"}}).Validate(strfmt.Default))
}
