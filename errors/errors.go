package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEngine   Phase = "engine"   // engine construction
	PhaseInstall  Phase = "install"  // OS-capability installation
	PhaseLinking  Phase = "linking"  // provider registration and import resolution
	PhaseLoad     Phase = "load"     // artifact loading
	PhaseRuntime  Phase = "runtime"  // runtime operations
	PhaseHost     Phase = "host"     // host function execution
	PhaseGuest    Phase = "guest"    // guest execution
	PhaseResource Phase = "resource" // resource table access
	PhaseEncode   Phase = "encode"   // Go to WASM
	PhaseDecode   Phase = "decode"   // WASM to Go
	PhaseParse    Phase = "parse"    // WIT parsing
)

// Kind categorizes the error
type Kind string

const (
	KindEngineConfig       Kind = "engine_config"
	KindCapabilityInstall  Kind = "capability_install"
	KindLinkDuplicate      Kind = "link_duplicate"
	KindLinkFrozen         Kind = "link_frozen"
	KindInstantiation      Kind = "instantiation"
	KindMissingImport      Kind = "missing_import"
	KindSignatureMismatch  Kind = "signature_mismatch"
	KindResourceNotFound   Kind = "resource_not_found"
	KindGuestTrap          Kind = "guest_trap"
	KindHostCall           Kind = "host_call"
	KindCanceled           Kind = "canceled"
	KindTypeMismatch       Kind = "type_mismatch"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindInvalidData        Kind = "invalid_data"
	KindUnsupported        Kind = "unsupported"
	KindAllocation         Kind = "allocation"
	KindInvalidUTF8        Kind = "invalid_utf8"
	KindNotFound           Kind = "not_found"
	KindNotInitialized     Kind = "not_initialized"
	KindInvalidInput       Kind = "invalid_input"
	KindRegistration       Kind = "registration"
	KindInvocationInFlight Kind = "invocation_in_flight"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	GoType  string
	WitType string
	Detail  string
	Path    []string
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

	if e.GoType != "" || e.WitType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.WitType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", WIT type ")
			b.WriteString(e.WitType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("WIT type ")
			b.WriteString(e.WitType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.WitType != "" {
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

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
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

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WitType sets the WIT type name
func (b *Builder) WitType(t string) *Builder {
	b.err.WitType = t
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

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
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

// Construction-time errors

// EngineConfig reports an engine that could not be configured.
func EngineConfig(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindEngineConfig,
		Detail: detail,
		Cause:  cause,
	}
}

// CapabilityInstall reports a failure installing the OS-capability layer.
func CapabilityInstall(namespace string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstall,
		Kind:   KindCapabilityInstall,
		Detail: fmt.Sprintf("install %s", namespace),
		Cause:  cause,
	}
}

// Duplicate reports a binding whose key is already claimed.
func Duplicate(namespace, name, owner string) *Error {
	detail := fmt.Sprintf("%s#%s already defined", namespace, name)
	if name == "" {
		detail = fmt.Sprintf("namespace %s already defined", namespace)
	}
	if owner != "" {
		detail += " by " + owner
	}
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindLinkDuplicate,
		Detail: detail,
	}
}

// Frozen reports a definition attempted after the linker was frozen.
func Frozen(namespace, name string) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindLinkFrozen,
		Detail: fmt.Sprintf("define %s#%s: linker is frozen", namespace, name),
	}
}

// Registration creates a registration error
func Registration(phase Phase, namespace, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// Per-call errors

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// SignatureMismatch reports an import whose core signature differs from the binding.
func SignatureMismatch(namespace, name, want, got string) *Error {
	return &Error{
		Phase:  PhaseLinking,
		Kind:   KindSignatureMismatch,
		Detail: fmt.Sprintf("%s#%s: host defines %s, guest imports %s", namespace, name, want, got),
	}
}

// ResourceNotFound reports a handle that is invalid or already released.
func ResourceNotFound(handle uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindResourceNotFound,
		Detail: fmt.Sprintf("handle %d", handle),
		Value:  handle,
		Cause:  cause,
	}
}

// GuestTrap reports a fault raised by guest code during an invocation.
func GuestTrap(function string, cause error) *Error {
	return &Error{
		Phase:  PhaseGuest,
		Kind:   KindGuestTrap,
		Detail: fmt.Sprintf("call %s", function),
		Cause:  cause,
	}
}

// HostCall reports a failure returned by a host binding.
func HostCall(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindHostCall,
		Detail: fmt.Sprintf("%s#%s", namespace, name),
		Cause:  cause,
	}
}

// Canceled reports an invocation abandoned through its context.
func Canceled(function string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindCanceled,
		Detail: fmt.Sprintf("call %s", function),
		Cause:  cause,
	}
}

// Value conversion errors

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, witType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Path:    path,
		GoType:  goType,
		WitType: witType,
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

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("memory access out of bounds: offset=%d, length=%d", offset, length),
		Value:  offset,
	}
}

// NotInitialized creates a not-initialized error for missing module/instance
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "wasi:http/types@0.2.0"
	Function  string // e.g., "new-fields"
}

// MissingImportsError is returned when instantiation fails due to missing host functions
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "namespace#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn := parseImportKey(imp)
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func parseImportKey(key string) (namespace, function string) {
	ns, fn, found := strings.Cut(key, "#")
	if found {
		return ns, fn
	}
	return key, ""
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[linking] missing_import: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("missing %d host function(s):\n", len(e.Imports)))

	// Group by namespace for cleaner output
	byNS := make(map[string][]string)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp.Function)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, fn := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	switch t := target.(type) {
	case *MissingImportsError:
		return true
	case *Error:
		return t.Kind == KindMissingImport
	}
	return false
}
