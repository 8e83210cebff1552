// Package fmi2 adapts slaves to the FMI 2.0 co-simulation calling
// conventions: status codes, 32-bit value references, integer booleans and
// the host logger callback.
//
// Instances are created with Instantiate and addressed across the C ABI
// through a Registry of small integer handles. Bridge log entries reach the
// host callback through a zap core: errors are always forwarded, other
// levels only while debug logging is on for their category.
//
// Once an operation has returned Fatal, every later call on the instance
// returns Fatal without reaching the guest.
package fmi2
