package tenant

import (
	"errors"
	"fmt"
)

// ErrNoScope is returned when a data-access call is made without a bound Scope.
var ErrNoScope = errors.New("tenant scope is not bound")

// AccessErrorCode categorizes isolation and authentication failures.
type AccessErrorCode string

const (
	// ErrCodeAuthentication indicates no valid actor could be established.
	ErrCodeAuthentication AccessErrorCode = "AUTHENTICATION"

	// ErrCodeAuthorization indicates the actor or tenant may not perform the operation.
	ErrCodeAuthorization AccessErrorCode = "AUTHORIZATION"

	// ErrCodeCrossTenant indicates a read or write targeted a row outside the scope.
	ErrCodeCrossTenant AccessErrorCode = "CROSS_TENANT"

	// ErrCodeNotFound indicates the row does not exist inside the scope.
	ErrCodeNotFound AccessErrorCode = "NOT_FOUND"
)

// AccessError is a typed isolation failure.
//
// The detail fields exist for internal security logging only. Callers that
// build external responses must go through service.Classify, which collapses
// CROSS_TENANT, AUTHORIZATION and NOT_FOUND for data access into one outcome.
type AccessError struct {
	Code    AccessErrorCode
	Message string

	// TenantID is the scope that attempted the access.
	TenantID string

	// ActorID is the actor that attempted the access.
	ActorID string

	// Entity and EntityID identify the row involved, if any.
	Entity   string
	EntityID string

	Err error
}

func (e *AccessError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Entity != "" {
		msg += fmt.Sprintf(" (%s=%s)", e.Entity, e.EntityID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// NewAuthenticationError creates an AccessError for an invalid or expired token.
func NewAuthenticationError(message string) *AccessError {
	return &AccessError{Code: ErrCodeAuthentication, Message: message}
}

// NewAuthorizationError creates an AccessError for an inactive or unprivileged actor.
func NewAuthorizationError(message, tenantID, actorID string) *AccessError {
	return &AccessError{
		Code:     ErrCodeAuthorization,
		Message:  message,
		TenantID: tenantID,
		ActorID:  actorID,
	}
}

// NewCrossTenantError creates an AccessError for a write outside the scope.
func NewCrossTenantError(scope Scope, entity, entityID string, err error) *AccessError {
	return &AccessError{
		Code:     ErrCodeCrossTenant,
		Message:  "row is outside the active tenant scope",
		TenantID: scope.tenantID,
		ActorID:  scope.actor.ID,
		Entity:   entity,
		EntityID: entityID,
		Err:      err,
	}
}

// NewNotFoundError creates an AccessError for a row absent from the scope.
func NewNotFoundError(scope Scope, entity, entityID string) *AccessError {
	return &AccessError{
		Code:     ErrCodeNotFound,
		Message:  "row not found in tenant scope",
		TenantID: scope.tenantID,
		ActorID:  scope.actor.ID,
		Entity:   entity,
		EntityID: entityID,
	}
}

func hasCode(err error, code AccessErrorCode) bool {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool { return hasCode(err, ErrCodeAuthentication) }

// IsAuthorization reports whether err is an authorization failure.
func IsAuthorization(err error) bool { return hasCode(err, ErrCodeAuthorization) }

// IsCrossTenant reports whether err is a cross-tenant violation.
func IsCrossTenant(err error) bool { return hasCode(err, ErrCodeCrossTenant) }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }
