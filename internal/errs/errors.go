package errs

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable failure class surfaced to callers.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindFormat           Kind = "format"
	KindMergeIntegrity   Kind = "merge_integrity"
	KindCacheConsistency Kind = "cache_consistency"
	KindExternalService  Kind = "external_service"
)

// ValidationError reports a template or timing structural violation.
// Always caller-fixable; never retried.
type ValidationError struct {
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Rule == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

func (e *ValidationError) Kind() Kind { return KindValidation }

func Validation(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// FormatError reports a fragment that fails the audio contract.
// Fatal for that fragment; the fix is regeneration, not repair-by-copy.
type FormatError struct {
	Path   string
	Detail string
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Detail)
}

func (e *FormatError) Kind() Kind { return KindFormat }

func Format(path, format string, args ...any) *FormatError {
	return &FormatError{Path: path, Detail: fmt.Sprintf(format, args...)}
}

// MergeIntegrityError reports NaN/Inf or clipping detected after a merge.
// The artifact is discarded and never written to its final path.
type MergeIntegrityError struct {
	Detail string
}

func (e *MergeIntegrityError) Error() string { return e.Detail }

func (e *MergeIntegrityError) Kind() Kind { return KindMergeIntegrity }

func MergeIntegrity(format string, args ...any) *MergeIntegrityError {
	return &MergeIntegrityError{Detail: fmt.Sprintf(format, args...)}
}

// CacheConsistencyError reports a signature mismatch or an identifier
// missing on both sides. Carries a recovery hint for the caller.
type CacheConsistencyError struct {
	ID     string
	Detail string
	Hint   string
}

func (e *CacheConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.ID, e.Detail)
}

func (e *CacheConsistencyError) Kind() Kind { return KindCacheConsistency }

func CacheConsistency(id, detail string) *CacheConsistencyError {
	return &CacheConsistencyError{
		ID:     id,
		Detail: detail,
		Hint:   fmt.Sprintf("run repair for identifier %s", id),
	}
}

// ExternalServiceError reports a synthesis or object-store failure.
// Transient failures may be retried with bounded backoff; the rest surface.
type ExternalServiceError struct {
	Service   string
	Detail    string
	Transient bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Detail)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Kind() Kind { return KindExternalService }

func External(service, detail string, transient bool, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Detail: detail, Transient: transient, Err: err}
}

// IsTransient reports whether err is an external failure worth retrying.
func IsTransient(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext) && ext.Transient
}

type kinder interface{ Kind() Kind }

// KindOf extracts the failure class from err, or "" for untyped errors.
func KindOf(err error) Kind {
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}

// HintOf returns the recovery hint attached to err, if any.
func HintOf(err error) string {
	var cc *CacheConsistencyError
	if errors.As(err, &cc) {
		return cc.Hint
	}
	return ""
}
