// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes client errors for handling. Adapters map upstream
// HTTP/SDK failures into exactly one of these at the adapter boundary; the
// engine forwards them unchanged (no retries, no downgrades).
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota

	// ErrTypeInvalidProvider means the provider name is not registered.
	ErrTypeInvalidProvider

	// ErrTypeInvalidModel means the model is unknown to the provider.
	ErrTypeInvalidModel

	// ErrTypeAuthentication means credentials are missing or rejected.
	ErrTypeAuthentication

	// ErrTypeRateLimit means the provider throttled the request.
	ErrTypeRateLimit

	// ErrTypeProviderAPI is any other upstream failure (5xx, malformed
	// payload, transport exhaustion).
	ErrTypeProviderAPI

	// ErrTypeBudgetExceeded means a configured cost ceiling was hit.
	// Reported before dispatch, never silently capped.
	ErrTypeBudgetExceeded

	// ErrTypeValidation means the request violated the unified schema.
	ErrTypeValidation

	// ErrTypeNoEligibleModel means routing constraints left zero candidates.
	ErrTypeNoEligibleModel
)

// String returns a stable name for logs and JSON error payloads.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeInvalidProvider:
		return "invalid_provider"
	case ErrTypeInvalidModel:
		return "invalid_model"
	case ErrTypeAuthentication:
		return "authentication"
	case ErrTypeRateLimit:
		return "rate_limit"
	case ErrTypeProviderAPI:
		return "provider_api"
	case ErrTypeBudgetExceeded:
		return "budget_exceeded"
	case ErrTypeValidation:
		return "validation"
	case ErrTypeNoEligibleModel:
		return "no_eligible_model"
	default:
		return "unknown"
	}
}

// ClientError is the typed error carried across every layer of the engine.
type ClientError struct {
	Type     ErrorType
	Provider string // provider name when known, "" otherwise
	Message  string
	Status   int // upstream HTTP status when applicable
	Cause    error
}

func (e *ClientError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewInvalidProviderError reports an unregistered provider name.
func NewInvalidProviderError(provider string) *ClientError {
	return &ClientError{
		Type:    ErrTypeInvalidProvider,
		Message: fmt.Sprintf("unknown provider %q", provider),
	}
}

// NewInvalidModelError reports a model the provider does not serve.
func NewInvalidModelError(provider, model string) *ClientError {
	return &ClientError{
		Type:     ErrTypeInvalidModel,
		Provider: provider,
		Message:  fmt.Sprintf("unknown model %q", model),
	}
}

// NewAuthenticationError reports missing or rejected credentials.
func NewAuthenticationError(provider, message string) *ClientError {
	return &ClientError{
		Type:     ErrTypeAuthentication,
		Provider: provider,
		Message:  message,
	}
}

// NewRateLimitError reports upstream throttling.
func NewRateLimitError(provider, message string) *ClientError {
	return &ClientError{
		Type:     ErrTypeRateLimit,
		Provider: provider,
		Message:  message,
		Status:   429,
	}
}

// NewProviderAPIError reports any other upstream failure.
func NewProviderAPIError(provider string, status int, message string, cause error) *ClientError {
	return &ClientError{
		Type:     ErrTypeProviderAPI,
		Provider: provider,
		Message:  message,
		Status:   status,
		Cause:    cause,
	}
}

// NewBudgetExceededError reports a cost ceiling violation.
func NewBudgetExceededError(message string) *ClientError {
	return &ClientError{
		Type:    ErrTypeBudgetExceeded,
		Message: message,
	}
}

// NewValidationError reports a malformed request.
func NewValidationError(message string) *ClientError {
	return &ClientError{
		Type:    ErrTypeValidation,
		Message: message,
	}
}

// NewNoEligibleModelError reports that routing constraints left zero
// candidates. Detail names the filtering stage that emptied the set.
func NewNoEligibleModelError(detail string) *ClientError {
	return &ClientError{
		Type:    ErrTypeNoEligibleModel,
		Message: "no eligible model: " + detail,
	}
}

// =============================================================================
// PREDICATES
// =============================================================================

// typeOf extracts the ErrorType from anywhere in the chain.
func typeOf(err error) (ErrorType, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type, true
	}
	return ErrTypeUnknown, false
}

// IsInvalidProvider reports whether err is an unknown-provider error.
func IsInvalidProvider(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrTypeInvalidProvider
}

// IsInvalidModel reports whether err is an unknown-model error.
func IsInvalidModel(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrTypeInvalidModel
}

// IsAuthentication reports whether err is a credential failure.
func IsAuthentication(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrTypeAuthentication
}

// IsRateLimit reports whether err is upstream throttling.
func IsRateLimit(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrTypeRateLimit
}

// IsProviderAPI reports whether err is a generic upstream failure.
func IsProviderAPI(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrTypeProviderAPI
}

// IsBudgetExceeded reports whether err is a budget ceiling violation.
func IsBudgetExceeded(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrTypeBudgetExceeded
}

// IsValidation reports whether err is a request schema violation.
func IsValidation(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrTypeValidation
}

// IsNoEligibleModel reports whether err means routing found no candidate.
func IsNoEligibleModel(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrTypeNoEligibleModel
}
