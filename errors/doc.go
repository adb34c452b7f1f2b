// Package errors provides the structured error taxonomy of the embedding layer.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Construction-time kinds are fatal to runtime.New:
//
//	KindEngineConfig       engine could not be configured
//	KindCapabilityInstall  OS-capability layer failed to install
//	KindLinkDuplicate      a binding key or reserved namespace is already claimed
//
// Per-call kinds are returned to the immediate caller and never abort the Runtime:
//
//	KindInstantiation      imports unsatisfied or mismatched
//	KindResourceNotFound   handle invalid or already released
//	KindGuestTrap          guest faulted during an invocation
//	KindHostCall           a host binding returned an error
//	KindCanceled           invocation abandoned through its context
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEncode, errors.KindTypeMismatch).
//		Path("user", "age").
//		GoType("string").
//		WitType("u32").
//		Detail("cannot convert string to integer").
//		Build()
//
// Match by kind regardless of phase with IsKind:
//
//	if errors.IsKind(err, errors.KindGuestTrap) { ... }
package errors
