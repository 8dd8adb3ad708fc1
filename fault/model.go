package fault

import (
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
)

// Model is the wire representation of an error, for the response body of an API.
//
// swagger:model error
type Model struct {

	// cause
	Cause *Model `json:"cause,omitempty"`

	// The error kind
	// Required: true
	Kind Kind `json:"kind"`

	// link to help page explaining the error in more detail
	HelpURL strfmt.URI `json:"helpUrl,omitempty"`

	// The error message
	// Required: true
	Message string `json:"message"`

	// field errors or any other detail about the failure
	Details any `json:"details,omitempty"`
}

func (m *Model) Error() string {
	if m.Cause != nil {
		return m.Message + ": " + m.Cause.Error()
	}
	return m.Message
}

// Validate the model, the help url has to be a uri
func (m *Model) Validate(formats strfmt.Registry) error {
	if m.Kind == "" {
		return fmt.Errorf("kind in body is required")
	}
	if m.Message == "" {
		return fmt.Errorf("message in body is required")
	}
	if m.HelpURL != "" && !formats.Validates("uri", m.HelpURL.String()) {
		return fmt.Errorf("helpUrl in body must be of type uri: %q", m.HelpURL)
	}
	if m.Cause != nil {
		return m.Cause.Validate(formats)
	}
	return nil
}

// ToModel converts an error into its wire representation. Errors that carry no *Error
// are reported with kind "error". When helpBase is given the help url is the kind
// appended to it.
func ToModel(err error, helpBase string) *Model {
	if err == nil {
		return nil
	}
	fe, ok := From(err)
	if !ok {
		return &Model{Kind: "error", Message: err.Error()}
	}

	m := &Model{Kind: fe.Kind, Message: fe.Message}
	if details, isMap := fe.FieldErrors(); !isMap || len(details) > 0 {
		m.Details = fe.Details
	}
	if helpBase != "" {
		m.HelpURL = strfmt.URI(strings.TrimSuffix(helpBase, "/") + "/" + string(fe.Kind))
	}
	if fe.Cause != nil {
		m.Cause = ToModel(fe.Cause, helpBase)
	}
	return m
}
