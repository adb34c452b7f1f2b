// Package resource implements the host-side resource table.
//
// A Table maps guest-visible handles to host values for one execution
// context. Handles are opaque uint32 values; 0 is never issued.
//
//	table := resource.NewTable()
//
//	h, err := table.Insert(conn)
//	v, err := table.Get(h)       // conn
//	v, err = table.Remove(h)     // ownership back to the host
//	_, err = table.Get(h)        // resource.ErrNotFound
//
// # Handle Reuse
//
// Each handle carries a slot index and a generation. Freed slots are reissued
// oldest first with a bumped generation, and a slot whose generation would wrap
// is retired, so a handle that has been removed never resolves again in the
// same table.
//
// # Ownership Transfer
//
// Take and Transfer move a value to a fresh handle. The old handle fails with
// ErrTransferred (which also matches ErrNotFound) and no Dropper runs for it.
//
// # Typed References
//
// Resource[R] is an own or borrow reference to an entry holding an R:
//
//	r, err := resource.Push(table, &File{})
//	f, err := resource.Get(table, r)
//	f, err = resource.Delete(table, r) // fails with ErrBorrowed on a borrow
//
// # Scopes
//
// A Scope ties handles to one call. Scope.Release removes whatever is still
// live, including on error and cancellation paths.
//
// # Observers
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("%s %s", e.Type, e.Handle)
//	}))
//
// Clear and Close run Dropper on every remaining value. Remove does not:
// the value is returned to the caller, who decides.
package resource
