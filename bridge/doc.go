// Package bridge marshals co-simulation calls into a guest object.
//
// An Object owns one guest resource handle inside a namespace. Every
// operation runs inside engine.Invoke: arguments are lowered into guest
// memory through the guest allocator, the bound export is called, and list
// results are lifted back into caller-provided buffers element by element
// before the guest's post-return hook runs.
//
// Strings read from the guest are returned as Go copies. NUL-terminated
// copies are also kept, in order, in the object's arena for C callers; those
// stay valid until the next string or bulk access, close or destruction.
//
// Failures are fatal except in DoStep, where a guest trap is reported as
// a false result.
package bridge
