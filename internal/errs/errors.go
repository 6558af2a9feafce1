// Package errs defines the structured error taxonomy shared by every
// component: a small set of categories that the session kernel uses to
// decide whether a turn aborts, reports inline, or keeps running.
package errs

import "fmt"

// Category is one of the six error categories used by the turn-boundary
// error policy: User, Model, Provider, ContextSize, System (internal errors)
// and Validation. SessionExit is a separate sentinel, not a Category.
// GitUnavailable/GitInvocationFailed fold into CategoryUser and
// CategorySystem respectively.
type Category int

const (
	CategoryUser Category = iota
	CategoryModel
	CategoryProvider
	CategoryContextSize
	CategorySystem
	CategoryValidation
)

func (c Category) String() string {
	switch c {
	case CategoryUser:
		return "user"
	case CategoryModel:
		return "model"
	case CategoryProvider:
		return "provider"
	case CategoryContextSize:
		return "context_size"
	case CategorySystem:
		return "internal"
	case CategoryValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a structured error carrying a category, a stable code, and an
// optional root cause, so the kernel can branch on Category without string
// matching.
type Error struct {
	Code      string
	Message   string
	Category  Category
	Resource  string
	RootCause error
}

func (e *Error) Error() string {
	if e.RootCause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.RootCause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.RootCause }

func new_(code, msg string, cat Category, resource string, cause error) *Error {
	return &Error{Code: code, Message: msg, Category: cat, Resource: resource, RootCause: cause}
}

func NewUserError(message string, cause error) *Error {
	return new_("USER_ERROR", message, CategoryUser, "", cause)
}

func NewModelError(message string, cause error) *Error {
	return new_("MODEL_ERROR", message, CategoryModel, "", cause)
}

func NewProviderError(op string, cause error) *Error {
	return new_("PROVIDER_ERROR", fmt.Sprintf("provider error during %s", op), CategoryProvider, "", cause)
}

func NewContextSizeError(message string) *Error {
	return new_("CONTEXT_TOO_LARGE", message, CategoryContextSize, "", nil)
}

func NewInternalError(op string, cause error) *Error {
	return new_("INTERNAL_ERROR", fmt.Sprintf("internal error during %s", op), CategorySystem, "", cause)
}

func NewValidationError(resource, reason string) *Error {
	return new_("VALIDATION_ERROR", reason, CategoryValidation, resource, nil)
}

// NameCollision is raised when a rename targets a path that already exists
// (spec Open Question (b)): it is a validation error (CategoryValidation),
// reported at the turn boundary like any other non-fatal error.
func NameCollision(path string) *Error {
	return NewValidationError(path, fmt.Sprintf("rename target %q already exists", path))
}

// GitUnavailable means the working directory is not inside a git repository.
func GitUnavailable(cause error) *Error {
	return new_("GIT_UNAVAILABLE", "not a git repository", CategoryUser, "", cause)
}

// GitInvocationFailed means the git binary ran but exited non-zero.
func GitInvocationFailed(op string, cause error) *Error {
	return new_("GIT_INVOCATION_FAILED", fmt.Sprintf("git %s failed", op), CategorySystem, "", cause)
}

// SessionExit is the sentinel that unwinds the turn loop on a literal "q"
// or normal termination; it is never wrapped in *Error so errors.Is(err,
// SessionExit) works without unwrapping a category.
var SessionExit = fmt.Errorf("session exit")

// CategoryOf extracts the Category from err if it is (or wraps) an *Error,
// defaulting to CategorySystem for anything else.
func CategoryOf(err error) Category {
	var e *Error
	if as(err, &e) {
		return e.Category
	}
	return CategorySystem
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
