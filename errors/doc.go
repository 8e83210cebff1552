// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the guest class and method involved, a field path, and a
// cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBind, errors.KindNotFound).
//		Class("example:echo/model#echo-slave").
//		Method("do-step").
//		Detail("export not found").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.ClassNotFound(name)
//	err := errors.GuestTrap(class, "get-real", cause)
//
// Every error is fatal for the slave except invalid host input; IsFatal classifies.
// All errors implement the standard error interface and support errors.Is/As.
package errors
