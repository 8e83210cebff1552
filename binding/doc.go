// Package binding resolves and validates the entry points of a slave class.
//
// Every lifecycle method and scalar accessor is required and must match its
// canonical core signature exactly. The bulk entry points (get-all, set-all
// and the bulk-read accessors) are optional: they are bound only when the
// guest exports all of them.
//
// Validation results are cached per slave type, keyed by archive digest and
// class name, so additional instances of a type only look up their exports.
package binding
