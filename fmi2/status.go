package fmi2

import (
	"github.com/wippyai/wasm-fmu/errors"
)

// Version and TypesPlatform are returned by fmi2GetVersion and
// fmi2GetTypesPlatform.
const (
	Version       = "2.0"
	TypesPlatform = "default"
)

// Status is an fmi2Status value.
type Status int32

const (
	OK Status = iota
	Warning
	Discard
	Error
	Fatal
	Pending
)

func (s Status) String() string {
	switch s {
	case OK:
		return "fmi2OK"
	case Warning:
		return "fmi2Warning"
	case Discard:
		return "fmi2Discard"
	case Error:
		return "fmi2Error"
	case Fatal:
		return "fmi2Fatal"
	case Pending:
		return "fmi2Pending"
	}
	return "fmi2Unknown"
}

// StatusOf maps a bridge error to the status returned to the host.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return OK
	case errors.IsFatal(err):
		return Fatal
	default:
		return Error
	}
}

// StepStatus maps a step result to its status.
func StepStatus(ok bool) Status {
	if ok {
		return OK
	}
	return Discard
}

// Type is an fmi2Type value.
type Type int32

const (
	ModelExchange Type = iota
	CoSimulation
)

func (t Type) String() string {
	if t == CoSimulation {
		return "fmi2CoSimulation"
	}
	return "fmi2ModelExchange"
}

// Boolean values as passed through the C ABI.
const (
	False int32 = 0
	True  int32 = 1
)
