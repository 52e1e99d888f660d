// Package errs defines the shared error taxonomy used across the governance
// engine. Every public operation in the engine returns either a value or an
// *Error carrying one of these kinds, so middleware can translate a failure
// into the right status code without string-matching messages.
package errs

import "fmt"

// Kind identifies the category of a domain error. Kinds are grouped the way
// the engine's error taxonomy groups them: parse, identity, temporal, trust,
// authorization, spawn, policy graph, operational.
type Kind string

const (
	// Parse errors.
	BadFormat       Kind = "BadFormat"
	BadTimestamp    Kind = "BadTimestamp"
	SchemaViolation Kind = "SchemaViolation"

	// Identity errors.
	HashMismatch     Kind = "HashMismatch"
	SignerUnavailable Kind = "SignerUnavailable"

	// Temporal errors.
	ClockSkew          Kind = "ClockSkew"
	TokenExpired       Kind = "TokenExpired"
	CertificateExpired Kind = "CertificateExpired"

	// Trust errors.
	InvalidSignature          Kind = "InvalidSignature"
	UntrustedIssuer           Kind = "UntrustedIssuer"
	CertificateRevoked        Kind = "CertificateRevoked"
	CertificateStatusUnknown  Kind = "CertificateStatusUnknown"

	// Authorization errors.
	InsufficientLevel Kind = "InsufficientLevel"
	MissingCompliance Kind = "MissingCompliance"
	PolicyViolation   Kind = "PolicyViolation"
	HealthCheckFailed Kind = "HealthCheckFailed"

	// Spawn errors.
	PrivilegeEscalation Kind = "PrivilegeEscalation"
	BudgetEscalation    Kind = "BudgetEscalation"
	DepthExceeded       Kind = "DepthExceeded"

	// Policy graph errors.
	CircularInheritance Kind = "CircularInheritance"
	MaxDepthExceeded    Kind = "MaxDepthExceeded"
	PolicyNotFound      Kind = "PolicyNotFound"

	// Operational errors.
	Cancelled      Kind = "Cancelled"
	Timeout        Kind = "Timeout"
	CAUnavailable  Kind = "CAUnavailable"
	NotCertifiable Kind = "NotCertifiable"
)

// Error is the structured error every public operation returns on failure.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an *Error with no details.
func New(kind Kind, message string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(message, args...)}
}

// WithDetails attaches structured details to an error and returns it, so
// call sites can build the message and details in one expression.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Is reports whether err is an *Error of the given kind. It lets callers
// write errs.Is(err, errs.TokenExpired) instead of type-asserting.
func Is(err error, kind Kind) bool {
	de, ok := err.(*Error)
	return ok && de != nil && de.Kind == kind
}

// HTTPStatus maps an error kind to the status code the A2A middleware
// contract (spec §4.7) assigns it. Kinds with no explicit mapping default to
// 500, which the middleware should treat as an internal error.
func HTTPStatus(kind Kind) int {
	switch kind {
	case BadFormat, SchemaViolation, BadTimestamp:
		return 400
	case TokenExpired, CertificateExpired, InvalidSignature, CertificateRevoked, CertificateStatusUnknown:
		return 401
	case UntrustedIssuer, InsufficientLevel, MissingCompliance, PolicyViolation, HealthCheckFailed:
		return 403
	case CAUnavailable, Cancelled, Timeout:
		return 503
	default:
		return 500
	}
}
