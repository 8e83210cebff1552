package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseConfig  Phase = "config"  // settings loading
	PhaseLoad    Phase = "load"    // manifest and archive loading
	PhaseBind    Phase = "bind"    // entry point resolution
	PhaseEncode  Phase = "encode"  // Go to guest
	PhaseDecode  Phase = "decode"  // guest to Go
	PhaseCall    Phase = "call"    // guest invocation
	PhaseRuntime Phase = "runtime" // runtime operations
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidManifest   Kind = "invalid_manifest"
	KindInvalidArchive    Kind = "invalid_archive"
	KindInvalidConfig     Kind = "invalid_config"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindInstantiation     Kind = "instantiation"
	KindGuestTrap         Kind = "guest_trap"
	KindAllocation        Kind = "allocation"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidUTF8       Kind = "invalid_utf8"
	KindOverflow          Kind = "overflow"
	KindInvalidInput      Kind = "invalid_input"
	KindLengthMismatch    Kind = "length_mismatch"
	KindNotInitialized    Kind = "not_initialized"
	KindClosed            Kind = "closed"
	KindFatal             Kind = "fatal"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Class  string
	Method string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Class != "" || e.Method != "" {
		b.WriteString(": ")
		switch {
		case e.Class != "" && e.Method != "":
			b.WriteString("method ")
			b.WriteString(e.Method)
			b.WriteString(" of class '")
			b.WriteString(e.Class)
			b.WriteByte('\'')
		case e.Class != "":
			b.WriteString("class '")
			b.WriteString(e.Class)
			b.WriteByte('\'')
		default:
			b.WriteString("method ")
			b.WriteString(e.Method)
		}
	}

	if e.Detail != "" {
		if e.Class != "" || e.Method != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Fatal reports whether the error leaves the slave unusable.
// Only host-side input validation failures are recoverable.
func (e *Error) Fatal() bool {
	return e.Kind != KindInvalidInput
}

// IsFatal reports whether err is an unrecoverable bridge condition.
// Errors that did not originate in the bridge are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Fatal()
	}
	return true
}

// As is errors.As re-exported so callers need a single errors import.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Class sets the guest class name
func (b *Builder) Class(name string) *Builder {
	b.err.Class = name
	return b
}

// Method sets the guest method name
func (b *Builder) Method(name string) *Builder {
	b.err.Method = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// ClassNotFound reports a class missing from a namespace
func ClassNotFound(class string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindNotFound,
		Class:  class,
		Detail: fmt.Sprintf("unable to find class '%s'", class),
	}
}

// MethodNotFound reports a required entry point missing from a class
func MethodNotFound(class, method string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindNotFound,
		Class:  class,
		Method: method,
		Detail: "export not found",
	}
}

// SignatureMismatch reports an entry point whose core signature differs
func SignatureMismatch(class, method, want, got string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindSignatureMismatch,
		Class:  class,
		Method: method,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// InvalidManifest creates a manifest error
func InvalidManifest(path, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidManifest,
		Path:   []string{path},
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidArchive creates an error for a guest archive that does not compile
func InvalidArchive(digest string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidArchive,
		Path:   []string{digest},
		Detail: "unable to compile archive",
		Cause:  cause,
	}
}

// GuestTrap wraps an error raised while the guest executed a method
func GuestTrap(class, method string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindGuestTrap,
		Class:  class,
		Method: method,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(class string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Class:  class,
		Detail: fmt.Sprintf("unable to instantiate a new instance of '%s'", class),
		Cause:  cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// OutOfBounds creates a guest memory bounds error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("memory access out of bounds: offset=%d, length=%d", offset, length),
		Value:  offset,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Closed reports use of a released resource
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s already released", component),
	}
}

// Fatal wraps an unrecoverable runtime condition
func Fatal(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindFatal,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
