// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package middleware

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker/v2"
)

// Kind labels an error classification.
type Kind string

// Classification kinds, ordered roughly by how loudly they should be
// handled: validation is routine, system pages someone.
const (
	KindValidation      Kind = "validation"
	KindAuthorization   Kind = "authorization"
	KindNotFound        Kind = "not_found"
	KindTimeout         Kind = "timeout"
	KindExternalService Kind = "external_service"
	KindDatabase        Kind = "database"
	KindSystem          Kind = "system"
)

// Severity levels attached to classifications.
const (
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Sentinel errors. Handlers wrap these with %w (or panic with a wrapped
// one) to steer classification without the middleware knowing their
// domain types.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
	ErrExternal      = errors.New("external service failed")
	ErrDatabase      = errors.New("database failure")
)

// Classification describes how an error should be reported: log severity,
// response status, the message safe to show a caller, and whether the
// failure should page someone.
type Classification struct {
	Kind     Kind
	Severity string
	Status   int
	Message  string
	Alert    bool
}

// Classify maps an error to its classification. Unknown errors come back
// as system failures, the loudest class, so nothing gets silently
// downgraded by falling through the rules.
func Classify(err error) Classification {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, ErrValidation), errors.As(err, &validationErrs):
		return Classification{
			Kind:     KindValidation,
			Severity: SeverityWarning,
			Status:   http.StatusBadRequest,
			Message:  "The request is invalid.",
		}
	case errors.Is(err, ErrAuthorization):
		return Classification{
			Kind:     KindAuthorization,
			Severity: SeverityWarning,
			Status:   http.StatusForbidden,
			Message:  "You are not authorized to perform this action.",
		}
	case errors.Is(err, ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return Classification{
			Kind:     KindNotFound,
			Severity: SeverityWarning,
			Status:   http.StatusNotFound,
			Message:  "The requested resource was not found.",
		}
	case errors.Is(err, context.DeadlineExceeded), isNetTimeout(err):
		return Classification{
			Kind:     KindTimeout,
			Severity: SeverityError,
			Status:   http.StatusGatewayTimeout,
			Message:  "The operation timed out.",
		}
	case errors.Is(err, ErrExternal),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return Classification{
			Kind:     KindExternalService,
			Severity: SeverityError,
			Status:   http.StatusBadGateway,
			Message:  "An upstream service is unavailable.",
			Alert:    true,
		}
	case errors.Is(err, ErrDatabase),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, sql.ErrTxDone):
		return Classification{
			Kind:     KindDatabase,
			Severity: SeverityCritical,
			Status:   http.StatusInternalServerError,
			Message:  "A storage error occurred.",
			Alert:    true,
		}
	default:
		return Classification{
			Kind:     KindSystem,
			Severity: SeverityCritical,
			Status:   http.StatusInternalServerError,
			Message:  "An internal error occurred.",
			Alert:    true,
		}
	}
}

// isNetTimeout reports whether err is a network-level timeout.
func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
