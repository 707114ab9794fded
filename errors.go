package metaeditor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeReference    ErrorType = "reference"
	ErrorTypeGeneration   ErrorType = "generation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeRemote       ErrorType = "remote"
	ErrorTypeInternal     ErrorType = "internal"
)

// Error codes
const (
	// Registry errors
	ErrCodeSchemaNotFound      = "SCHEMA_NOT_FOUND"
	ErrCodeSchemaInvalid       = "SCHEMA_INVALID"
	ErrCodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	ErrCodeReferenceCycle      = "REFERENCE_CYCLE"
	ErrCodeFetchFailed         = "FETCH_FAILED"

	// Generator errors
	ErrCodeGenerationFailed = "GENERATION_FAILED"

	// Record errors
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInvalidJSON      = "INVALID_JSON"

	// Editor API errors
	ErrCodeInvalidBaseURL      = "INVALID_BASE_URL"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeProjectAccessDenied = "PROJECT_ACCESS_DENIED"
	ErrCodePageNotFound        = "PAGE_NOT_FOUND"
	ErrCodeAPIRequestFailed    = "API_REQUEST_FAILED"
	ErrCodeDeleteNotApplied    = "DELETE_NOT_APPLIED"

	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Constraint names reported in FieldViolation.Constraint.
const (
	ConstraintRequired   = "required"
	ConstraintType       = "type"
	ConstraintEnum       = "enum"
	ConstraintConst      = "const"
	ConstraintFormat     = "format"
	ConstraintPattern    = "pattern"
	ConstraintMinLength  = "min_length"
	ConstraintMaxLength  = "max_length"
	ConstraintMinimum    = "minimum"
	ConstraintMaximum    = "maximum"
	ConstraintMinItems   = "min_items"
	ConstraintMaxItems   = "max_items"
	ConstraintAdditional = "additional_properties"
	ConstraintSchema     = "schema"
)

// FieldViolation identifies one field that breaks one schema constraint.
type FieldViolation struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
	Value      any    `json:"value,omitempty"`
}

func (v FieldViolation) String() string {
	field := v.Field
	if field == "" {
		field = "(root)"
	}
	return v.Constraint + ": " + field + " " + v.Message
}

// MetaEditorError is the single error type returned across the module.
type MetaEditorError struct {
	Type       ErrorType        `json:"type"`
	Code       string           `json:"code"`
	Message    string           `json:"message"`
	Schema     string           `json:"schema,omitempty"`
	Field      string           `json:"field,omitempty"`
	Violations []FieldViolation `json:"violations,omitempty"`
	Details    map[string]any   `json:"details,omitempty"`
	Cause      error            `json:"-"`
}

func (e *MetaEditorError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] ", e.Type, e.Code)
	switch {
	case e.Schema != "" && e.Field != "":
		fmt.Fprintf(&b, "schema '%s' at '%s': ", e.Schema, e.Field)
	case e.Schema != "":
		fmt.Fprintf(&b, "schema '%s': ", e.Schema)
	case e.Field != "":
		fmt.Fprintf(&b, "field '%s': ", e.Field)
	}
	b.WriteString(e.Message)
	for _, v := range e.Violations {
		b.WriteString("\n")
		b.WriteString(v.String())
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *MetaEditorError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single detail to the error
func (e *MetaEditorError) WithDetail(key string, value any) *MetaEditorError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to the error
func (e *MetaEditorError) WithCause(cause error) *MetaEditorError {
	e.Cause = cause
	return e
}

// WithField adds field context to the error
func (e *MetaEditorError) WithField(field string) *MetaEditorError {
	e.Field = field
	return e
}

// WithSchema adds schema context to the error
func (e *MetaEditorError) WithSchema(schema string) *MetaEditorError {
	e.Schema = schema
	return e
}

// NewMetaEditorError creates a new MetaEditorError
func NewMetaEditorError(errorType ErrorType, code, message string) *MetaEditorError {
	return &MetaEditorError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewSchemaNotFoundError reports a name that is not part of the registry.
func NewSchemaNotFoundError(schemaName string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeSchemaNotFound,
		Message: "schema is not registered",
		Schema:  schemaName,
		Details: make(map[string]any),
	}
}

// NewSchemaInvalidError reports a schema document that cannot be used, with the
// file and key path where the problem was found.
func NewSchemaInvalidError(schemaName, file, keyPath, message string) *MetaEditorError {
	e := &MetaEditorError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeSchemaInvalid,
		Message: message,
		Schema:  schemaName,
		Field:   keyPath,
		Details: map[string]any{},
	}
	if file != "" {
		e.Details["file"] = file
		e.Message = file + ": " + message
	}
	return e
}

// NewUnresolvedReferenceError names both the referencing document and the
// document (or pointer) that could not be found.
func NewUnresolvedReferenceError(referencing, missing, ref, keyPath string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeReference,
		Code:    ErrCodeUnresolvedReference,
		Message: fmt.Sprintf("$ref %q in '%s' points to '%s' which is not available locally", ref, referencing, missing),
		Schema:  referencing,
		Field:   keyPath,
		Details: map[string]any{
			"referencing": referencing,
			"missing":     missing,
			"ref":         ref,
		},
	}
}

// NewReferenceCycleError reports a chain of $ref that loops back on itself.
func NewReferenceCycleError(schemaName string, chain []string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeReference,
		Code:    ErrCodeReferenceCycle,
		Message: "reference cycle: " + strings.Join(chain, " -> "),
		Schema:  schemaName,
		Details: map[string]any{"chain": chain},
	}
}

// NewFetchError wraps a failure to retrieve a schema from its source.
func NewFetchError(schemaName, source string, cause error) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeRemote,
		Code:    ErrCodeFetchFailed,
		Message: "failed to fetch " + source,
		Schema:  schemaName,
		Details: map[string]any{"source": source},
		Cause:   cause,
	}
}

// NewGenerationError reports a generator failure for a schema file and key path.
func NewGenerationError(schemaName, file, keyPath, message string) *MetaEditorError {
	msg := message
	if file != "" {
		msg = file + ": " + message
	}
	return &MetaEditorError{
		Type:    ErrorTypeGeneration,
		Code:    ErrCodeGenerationFailed,
		Message: msg,
		Schema:  schemaName,
		Field:   keyPath,
		Details: map[string]any{"file": file},
	}
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, message string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: message,
		Field:   field,
		Details: make(map[string]any),
	}
}

// NewRecordValidationError collects every violation found for one record.
func NewRecordValidationError(schemaName string, violations []FieldViolation) *MetaEditorError {
	return &MetaEditorError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    fmt.Sprintf("record violates %d constraint(s)", len(violations)),
		Schema:     schemaName,
		Violations: violations,
		Details:    make(map[string]any),
	}
}

// NewInvalidJSONError reports input that is not parseable JSON.
func NewInvalidJSONError(cause error) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidJSON,
		Message: "input is not valid JSON",
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewDeleteNotAppliedError reports a delete request that the editor accepted but did not apply.
func NewDeleteNotAppliedError(projectID string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeRemote,
		Code:    ErrCodeDeleteNotApplied,
		Message: fmt.Sprintf("project '%s' still exists after the delete request", projectID),
		Details: map[string]any{"project_id": projectID},
	}
}

// NewInvalidBaseURLError rejects an editor URL that is not https.
func NewInvalidBaseURLError(baseURL string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidBaseURL,
		Message: "URL scheme should be 'https'",
		Details: map[string]any{"base_url": baseURL},
	}
}

// NewAccessDeniedError reports a 403 from the editor.
func NewAccessDeniedError(url string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeUnauthorized,
		Code:    ErrCodeAccessDenied,
		Message: "Access to that URL is denied. Check that the API key is correct",
		Details: map[string]any{"url": url, "status": 403},
	}
}

// NewProjectAccessDeniedError reports a project the API key cannot read.
func NewProjectAccessDeniedError(projectID string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeUnauthorized,
		Code:    ErrCodeProjectAccessDenied,
		Message: fmt.Sprintf("Access to this id is denied. Check that the id '%s' is correct", projectID),
		Details: map[string]any{"project_id": projectID, "status": 400},
	}
}

// NewPageNotFoundError reports a 404 from the editor.
func NewPageNotFoundError(url string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodePageNotFound,
		Message: "Page not found. Check that the URL is correct",
		Details: map[string]any{"url": url, "status": 404},
	}
}

// NewAPIRequestError reports any other unsuccessful editor response.
func NewAPIRequestError(method, url string, status int, body string) *MetaEditorError {
	return &MetaEditorError{
		Type:    ErrorTypeRemote,
		Code:    ErrCodeAPIRequestFailed,
		Message: fmt.Sprintf("%s %s failed with status %d", method, url, status),
		Details: map[string]any{"method": method, "url": url, "status": status, "body": body},
	}
}

// ============================================================================
// Error Type Checking Functions
// ============================================================================

func hasType(err error, t ErrorType) bool {
	var e *MetaEditorError
	return errors.As(err, &e) && e.Type == t
}

// HasCode reports whether err is a MetaEditorError with the given code.
func HasCode(err error, code string) bool {
	var e *MetaEditorError
	return errors.As(err, &e) && e.Code == code
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsReferenceError checks if an error is a reference error
func IsReferenceError(err error) bool {
	return hasType(err, ErrorTypeReference)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsUnauthorizedError checks if an error is an access error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsDeleteNotAppliedError checks if a delete was acknowledged but not applied
func IsDeleteNotAppliedError(err error) bool {
	return HasCode(err, ErrCodeDeleteNotApplied)
}

// Violations returns the field violations carried by err, if any.
func Violations(err error) []FieldViolation {
	var e *MetaEditorError
	if errors.As(err, &e) {
		return e.Violations
	}
	return nil
}

// UnresolvedReference extracts the referencing and missing documents from an
// UNRESOLVED_REFERENCE error.
func UnresolvedReference(err error) (referencing, missing string, ok bool) {
	var e *MetaEditorError
	if !errors.As(err, &e) || e.Code != ErrCodeUnresolvedReference {
		return "", "", false
	}
	referencing, _ = e.Details["referencing"].(string)
	missing, _ = e.Details["missing"].(string)
	return referencing, missing, true
}
