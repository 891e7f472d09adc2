// Package errors provides structured error types for gridbase.
// All errors include a category, code, message, and retryable flag so that
// the collaborator layer can map them onto client responses.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by how the caller should react.
type ErrorCategory string

const (
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryOrdering   ErrorCategory = "ORDERING"
	ErrCategoryConflict   ErrorCategory = "CONFLICT"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategorySync       ErrorCategory = "SYNC"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Not found codes
	CodeWorkspaceDoesNotExist    = "WORKSPACE_DOES_NOT_EXIST"
	CodeApplicationDoesNotExist  = "APPLICATION_DOES_NOT_EXIST"
	CodeTableDoesNotExist        = "TABLE_DOES_NOT_EXIST"
	CodeFieldDoesNotExist        = "FIELD_DOES_NOT_EXIST"
	CodeRowDoesNotExist          = "ROW_DOES_NOT_EXIST"
	CodeViewDoesNotExist         = "VIEW_DOES_NOT_EXIST"
	CodeTrashItemDoesNotExist    = "TRASH_ITEM_DOES_NOT_EXIST"
	CodeDataSyncDoesNotExist     = "DATA_SYNC_DOES_NOT_EXIST"
	CodeFieldTypeDoesNotExist    = "FIELD_TYPE_DOES_NOT_EXIST"
	CodeTrashTypeDoesNotExist    = "TRASH_TYPE_DOES_NOT_EXIST"
	CodeDataSyncTypeDoesNotExist = "DATA_SYNC_TYPE_DOES_NOT_EXIST"
	CodeDataProviderDoesNotExist = "DATA_PROVIDER_DOES_NOT_EXIST"
	CodeUserFileDoesNotExist     = "USER_FILE_DOES_NOT_EXIST"
	CodeBackupDoesNotExist       = "BACKUP_DOES_NOT_EXIST"

	// Validation codes
	CodeInvalidValue                 = "INVALID_VALUE"
	CodeInvalidFieldParams           = "INVALID_FIELD_PARAMS"
	CodeFieldWithSameNameExists      = "FIELD_WITH_SAME_NAME_EXISTS"
	CodeFieldReadOnly                = "FIELD_READ_ONLY"
	CodeCannotDeletePrimaryField     = "CANNOT_DELETE_PRIMARY_FIELD"
	CodeApplicationNotInWorkspace    = "APPLICATION_NOT_IN_WORKSPACE"
	CodeIncompatibleApplication      = "INCOMPATIBLE_APPLICATION"
	CodeInvalidFormula               = "INVALID_FORMULA"
	CodePropertyNotFound             = "PROPERTY_NOT_FOUND"
	CodeUniquePrimaryPropertyMissing = "UNIQUE_PRIMARY_PROPERTY_NOT_FOUND"
	CodeTypeAlreadyRegistered        = "TYPE_ALREADY_REGISTERED"
	CodeInvalidName                  = "INVALID_NAME"

	// Ordering codes
	CodeCannotRestoreChildBeforeParent = "CANNOT_RESTORE_CHILD_BEFORE_PARENT"
	CodeParentIDMustBeSpecified        = "PARENT_ID_MUST_BE_SPECIFIED"
	CodeParentIDMustNotBeSpecified     = "PARENT_ID_MUST_NOT_BE_SPECIFIED"

	// Conflict codes
	CodeAlreadyTrashed   = "ALREADY_TRASHED"
	CodeDatabaseLocked   = "DATABASE_LOCKED"
	CodeSyncInProgress   = "SYNC_IN_PROGRESS"
	CodeConcurrentChange = "CONCURRENT_CHANGE"

	// Storage codes
	CodeUploadFailed     = "UPLOAD_FAILED"
	CodeDownloadFailed   = "DOWNLOAD_FAILED"
	CodeObjectNotFound   = "OBJECT_NOT_FOUND"
	CodeConversionFailed = "CONVERSION_FAILED"
	CodeSchemaFailed     = "SCHEMA_CHANGE_FAILED"

	// Sync codes
	CodeSyncFailed = "SYNC_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// GridError is the structured error type used throughout the system.
type GridError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *GridError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *GridError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *GridError) Is(target error) bool {
	var t *GridError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new GridError.
func New(category ErrorCategory, code, message string) *GridError {
	return &GridError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new GridError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *GridError {
	return &GridError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *GridError) WithDetails(details map[string]interface{}) *GridError {
	cp := *e
	cp.Details = details
	return &cp
}

// Field returns the offending field name recorded on a validation error.
func (e *GridError) Field() string {
	if e.Details == nil {
		return ""
	}
	name, _ := e.Details["field"].(string)
	return name
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ge *GridError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a GridError.
func GetCategory(err error) ErrorCategory {
	var ge *GridError
	if errors.As(err, &ge) {
		return ge.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a GridError.
func GetCode(err error) string {
	var ge *GridError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryConflict && code == CodeDatabaseLocked:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewNotFoundError(code, message string) *GridError {
	return New(ErrCategoryNotFound, code, message)
}

// NewValidationError creates a validation error naming the offending field.
// An empty field name is omitted from the details.
func NewValidationError(code, field, message string) *GridError {
	err := New(ErrCategoryValidation, code, message)
	if field != "" {
		err.Details = map[string]interface{}{"field": field}
	}
	return err
}

func NewOrderingError(code, message string) *GridError {
	return New(ErrCategoryOrdering, code, message)
}

func NewConflictError(code, message string) *GridError {
	return New(ErrCategoryConflict, code, message)
}

func NewStorageError(code, message string, cause error) *GridError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewSyncError(message string, cause error) *GridError {
	return Wrap(ErrCategorySync, CodeSyncFailed, message, cause)
}

func NewInternalError(message string, cause error) *GridError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// Sentinels for errors.Is matching. Only category and code are compared.
var (
	ErrWorkspaceDoesNotExist   = NewNotFoundError(CodeWorkspaceDoesNotExist, "workspace does not exist")
	ErrApplicationDoesNotExist = NewNotFoundError(CodeApplicationDoesNotExist, "application does not exist")
	ErrTableDoesNotExist       = NewNotFoundError(CodeTableDoesNotExist, "table does not exist")
	ErrFieldDoesNotExist       = NewNotFoundError(CodeFieldDoesNotExist, "field does not exist")
	ErrRowDoesNotExist         = NewNotFoundError(CodeRowDoesNotExist, "row does not exist")
	ErrViewDoesNotExist        = NewNotFoundError(CodeViewDoesNotExist, "view does not exist")
	ErrTrashItemDoesNotExist   = NewNotFoundError(CodeTrashItemDoesNotExist, "trash item does not exist")
	ErrDataSyncDoesNotExist    = NewNotFoundError(CodeDataSyncDoesNotExist, "data sync does not exist")
	ErrUserFileDoesNotExist    = NewNotFoundError(CodeUserFileDoesNotExist, "user file does not exist")
	ErrBackupDoesNotExist      = NewNotFoundError(CodeBackupDoesNotExist, "no backup exists")

	ErrCannotRestoreChildBeforeParent = NewOrderingError(CodeCannotRestoreChildBeforeParent,
		"cannot restore a trashed item while its parent is trashed")
	ErrParentIDMustBeSpecified = NewOrderingError(CodeParentIDMustBeSpecified,
		"a parent id must be specified for this trash item type")
	ErrParentIDMustNotBeSpecified = NewOrderingError(CodeParentIDMustNotBeSpecified,
		"a parent id must not be specified for this trash item type")

	ErrAlreadyTrashed = NewConflictError(CodeAlreadyTrashed, "item is already trashed")
)
