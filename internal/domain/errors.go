package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeInvalidOperation  = "INVALID_OPERATION"
	ErrCodeEnrichmentFailure = "ENRICHMENT_FAILURE"
	ErrCodeEmbeddingMissing  = "EMBEDDING_MISSING"
	ErrCodeRelationshipCycle = "RELATIONSHIP_CYCLE"
	ErrCodeClusterUnassigned = "CLUSTER_UNASSIGNED"
	ErrCodeScopeViolation    = "SCOPE_VIOLATION"
	ErrCodeConsolidationBusy = "CONSOLIDATION_BUSY"
)

// Validation errors
var (
	ErrInvalidQueryType     = NewDomainError(ErrCodeValidation, "invalid query type")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrScoreOutOfRange      = NewDomainError(ErrCodeValidation, "quality score out of range")
)

// Not found errors
var (
	ErrUnitNotFound    = NewDomainError(ErrCodeNotFound, "content unit not found")
	ErrClusterNotFound = NewDomainError(ErrCodeNotFound, "cluster not found")
	ErrJobNotFound     = NewDomainError(ErrCodeNotFound, "enrichment job not found")
)

// Recoverable enrichment/lifecycle conditions. These are recorded as unit
// state (needs_review, null fields), not propagated to callers.
var (
	ErrEnrichmentFailed  = NewDomainError(ErrCodeEnrichmentFailure, "generative enrichment pass exhausted retries")
	ErrEmbeddingMissing  = NewDomainError(ErrCodeEmbeddingMissing, "unit has no embedding for this signal")
	ErrRelationshipCycle = NewDomainError(ErrCodeRelationshipCycle, "prerequisite cycle detected and broken")
	ErrClusterUnassigned = NewDomainError(ErrCodeClusterUnassigned, "unit has no cluster assignment")
)

// Query errors
var (
	ErrScopeViolation = NewDomainError(ErrCodeScopeViolation, "query scope does not match any unit scope")
)

// Operation errors
var (
	ErrConsolidationRunning = NewDomainError(ErrCodeConsolidationBusy, "a consolidation run is already active")
	ErrCannotDeleteUnit     = NewDomainError(ErrCodeInvalidOperation, "units are deactivated, never hard-deleted")
)
