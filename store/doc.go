// Package store holds the execution context of a runtime and runs guest
// invocations against it.
//
// A Store serializes invocations: one runs at a time, and a host binding
// called from the guest gets a Caller with exclusive access to the store
// data for the duration of that call. Calls made back into the guest from
// inside a host binding reuse the active caller.
//
//	inst := store.NewInstance(st, mod, w)
//	greeting, err := store.Invoke[string](ctx, inst, "hello-world")
//
// # Failures
//
// A failed call reports, in order of precedence: the error recorded by a
// failing host binding, cancellation of the call context (KindCanceled),
// or a guest trap (KindGuestTrap). Traps and cancellations poison the
// store; further calls fail until Reset.
//
// Handles inserted through Caller.Scope are removed when the invocation
// ends on every path, including traps and cancellation.
package store
