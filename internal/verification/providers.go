package verification

import (
	"context"
	"errors"
	"fmt"

	"vkyc/pkg/domain"
)

// ErrorCategory is the normalized failure taxonomy for external providers.
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider took too long to respond.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the provider returned malformed data.
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates credential or permission issues.
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorProviderOutage indicates the provider is unavailable.
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorRateLimited indicates too many requests.
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorInternal indicates an unexpected internal error.
	ErrorInternal ErrorCategory = "internal"
)

// ProviderError wraps OCR and registry failures with normalized
// categorization so the pipeline can make retry decisions without knowing
// each provider's wire protocol.
type ProviderError struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError builds a normalized provider error. Retryability follows
// from the category: only transient categories are worth retrying.
func NewProviderError(category ErrorCategory, providerID, message string, underlying error) *ProviderError {
	retryable := category == ErrorTimeout ||
		category == ErrorProviderOutage ||
		category == ErrorRateLimited

	return &ProviderError{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable reports whether an error is worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// OCRClient extracts structured fields from a captured document frame.
type OCRClient interface {
	Extract(ctx context.Context, doc domain.DocumentType, image []byte) (Extraction, error)
}

// RegistryClient checks extracted fields against the issuing registry.
// Implementations return ProviderError for transport failures so the
// pipeline's retry policy sees the normalized taxonomy.
type RegistryClient interface {
	Verify(ctx context.Context, doc domain.DocumentType, fields map[string]string) (Decision, error)
}
