package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCANotConfigured is returned when no smart proxy carries the Puppet CA
	// feature. Every mutating operation fails with it before touching the store.
	ErrCANotConfigured = errors.New("you must configure a `Puppet CA` smart proxy to use the registration API")

	// ErrInvalidCertname is returned by the CA client when asked to operate on
	// an empty certname.
	ErrInvalidCertname = errors.New("certname must not be empty")

	// ErrForbidden is returned by the access gate.
	ErrForbidden = errors.New("forbidden")

	// ErrNodeNotFound is returned by operations that require an existing node.
	ErrNodeNotFound = errors.New("node not found")
)

// ValidationError is returned when a request lacks one or more required
// parameters. Params holds the filtered subset that was present.
type ValidationError struct {
	Missing []string
	Params  map[string]any
	Reason  string // set when a present value is malformed
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return "invalid parameter: " + e.Reason
	}
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("you did not specify a required parameter: missing [%s], got [%s]",
		strings.Join(e.Missing, ", "), strings.Join(keys, ", "))
}

// CAOperationError is returned when the CA proxy answers with a status outside
// the accepted vocabulary, or cannot be reached at all.
type CAOperationError struct {
	Op         string // "revoke" or "query"
	Certname   string
	StatusCode int    // 0 when no response was received
	Status     string // proxy status text
	Err        error
}

func (e *CAOperationError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("CA %s of `%s` failed: %v", e.Op, e.Certname, e.Err)
	}
	return fmt.Sprintf("error: response was '%s' while trying to %s `%s`", e.Status, e.Op, e.Certname)
}

func (e *CAOperationError) Unwrap() error { return e.Err }

// PersistenceError wraps a node store rejection with the operation that
// failed ("create", "update" or "destroy").
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("could not %s record: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
