// Command fmu-bridge is built as a C shared library exposing the FMI 2.0
// co-simulation interface for a slave implemented as a WebAssembly guest:
//
//	go build -buildmode=c-shared -o binaries/linux64/model.so ./cmd/fmu-bridge
//
// The guest archive and its manifest are read from the FMU resources
// directory passed to fmi2Instantiate.
package main

/*
#include <stdlib.h>
#include <string.h>
#include "fmi2.h"
*/
import "C"

import (
	"context"
	"os"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-fmu/bridge"
	"github.com/wippyai/wasm-fmu/config"
	"github.com/wippyai/wasm-fmu/engine"
	"github.com/wippyai/wasm-fmu/fmi2"
	"github.com/wippyai/wasm-fmu/slave"
)

func main() {}

var (
	cVersion       = C.CString(fmi2.Version)
	cTypesPlatform = C.CString(fmi2.TypesPlatform)
)

var (
	instances = fmi2.NewRegistry()

	setupOnce sync.Once
	settings  config.Settings

	callbacksMu sync.Mutex
	callbacks   = make(map[fmi2.Handle]*C.fmi2CallbackFunctions)
)

// setup loads the process settings and installs the process logger.
func setup() {
	setupOnce.Do(func() {
		s, err := config.Process()
		if err != nil {
			s = config.Default()
		}
		log := newLogger(s.Level())
		if err != nil {
			log.Error("invalid bridge settings, using defaults", zap.Error(err))
		}
		settings = s
		engine.Configure(s.Engine())

		engine.SetLogger(log)
		bridge.SetLogger(log)
		slave.SetLogger(log)
		fmi2.SetLogger(log)
	})
}

func newLogger(level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log.With(zap.Int("pid", os.Getpid()))
}

func lookup(c C.fmi2Component) (*fmi2.Instance, bool) {
	return instances.Get(fmi2.Handle(C.bridge_handle(c)))
}

func status(s fmi2.Status) C.fmi2Status {
	return C.fmi2Status(s)
}

func boolean(b C.fmi2Boolean) bool {
	return b != 0
}

func refs(vr *C.fmi2ValueReference, n C.size_t) []uint32 {
	if n == 0 || vr == nil {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(vr)), int(n))
}

func integers(p *C.fmi2Integer, n C.size_t) []int32 {
	if n == 0 || p == nil {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(p)), int(n))
}

func reals(p *C.fmi2Real, n C.size_t) []float64 {
	if n == 0 || p == nil {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(p)), int(n))
}

func cstrings(p *C.fmi2String, n C.size_t) []C.fmi2String {
	if n == 0 || p == nil {
		return nil
	}
	return unsafe.Slice(p, int(n))
}

func goStrings(p *C.fmi2String, n C.size_t) []string {
	in := cstrings(p, n)
	out := make([]string, len(in))
	for i, s := range in {
		if s != nil {
			out[i] = C.GoString(s)
		}
	}
	return out
}

// exportStrings points out at the arena copies of the strings returned by
// the last read, which stored them in the same order.
func exportStrings(inst *fmi2.Instance, out []C.fmi2String) {
	strs := inst.Slave().Object().Strings()
	for i := range out {
		out[i] = C.fmi2String(strs.Entry(i))
	}
}

// hostLogger forwards messages to the logger in cb, or returns nil when the
// host supplied none.
func hostLogger(cb *C.fmi2CallbackFunctions) fmi2.LogFunc {
	if cb == nil || cb.logger == nil {
		return nil
	}
	return func(instance string, st fmi2.Status, category, message string) {
		ci := C.CString(instance)
		cc := C.CString(category)
		cm := C.CString(message)
		defer C.free(unsafe.Pointer(ci))
		defer C.free(unsafe.Pointer(cc))
		defer C.free(unsafe.Pointer(cm))
		C.bridge_log(cb, ci, status(st), cc, cm)
	}
}

//export fmi2GetVersion
func fmi2GetVersion() C.fmi2String {
	return cVersion
}

//export fmi2GetTypesPlatform
func fmi2GetTypesPlatform() C.fmi2String {
	return cTypesPlatform
}

//export fmi2Instantiate
func fmi2Instantiate(instanceName C.fmi2String, fmuType C.fmi2Type, guid C.fmi2String,
	resourceLocation C.fmi2String, functions *C.fmi2CallbackFunctions,
	visible C.fmi2Boolean, loggingOn C.fmi2Boolean) C.fmi2Component {
	setup()

	// the host may release its callback struct after this call
	var cb *C.fmi2CallbackFunctions
	if functions != nil {
		cb = (*C.fmi2CallbackFunctions)(C.malloc(C.size_t(unsafe.Sizeof(*functions))))
		C.memcpy(unsafe.Pointer(cb), unsafe.Pointer(functions), C.size_t(unsafe.Sizeof(*functions)))
	}

	s := settings
	inst, err := fmi2.Instantiate(context.Background(), fmi2.Params{
		Strings:          &cSlab{},
		Log:              hostLogger(cb),
		Settings:         &s,
		InstanceName:     C.GoString(instanceName),
		GUID:             C.GoString(guid),
		ResourceLocation: C.GoString(resourceLocation),
		Type:             fmi2.Type(fmuType),
		Visible:          boolean(visible),
		LoggingOn:        boolean(loggingOn),
	})
	if err != nil {
		C.free(unsafe.Pointer(cb))
		return nil
	}

	h := instances.Insert(inst)
	callbacksMu.Lock()
	callbacks[h] = cb
	callbacksMu.Unlock()
	fmi2.Logger().Debug("instance registered",
		zap.String("instance", inst.Name()),
		zap.Uint32("handle", uint32(h)),
		zap.Int("live", instances.Len()))
	return C.bridge_component(C.uintptr_t(h))
}

//export fmi2FreeInstance
func fmi2FreeInstance(c C.fmi2Component) {
	h := fmi2.Handle(C.bridge_handle(c))
	inst, ok := instances.Remove(h)
	if !ok {
		return
	}
	inst.Free(context.Background())

	callbacksMu.Lock()
	cb := callbacks[h]
	delete(callbacks, h)
	callbacksMu.Unlock()
	C.free(unsafe.Pointer(cb))
	fmi2.Logger().Debug("instance freed",
		zap.Uint32("handle", uint32(h)),
		zap.Int("live", instances.Len()))
}

//export fmi2SetDebugLogging
func fmi2SetDebugLogging(c C.fmi2Component, loggingOn C.fmi2Boolean, nCategories C.size_t, categories *C.fmi2String) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.SetDebugLogging(boolean(loggingOn), goStrings(categories, nCategories)))
}

//export fmi2SetupExperiment
func fmi2SetupExperiment(c C.fmi2Component, toleranceDefined C.fmi2Boolean, tolerance C.fmi2Real,
	startTime C.fmi2Real, stopTimeDefined C.fmi2Boolean, stopTime C.fmi2Real) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.SetupExperiment(context.Background(),
		boolean(toleranceDefined), float64(tolerance), float64(startTime),
		boolean(stopTimeDefined), float64(stopTime)))
}

//export fmi2EnterInitializationMode
func fmi2EnterInitializationMode(c C.fmi2Component) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.EnterInitializationMode(context.Background()))
}

//export fmi2ExitInitializationMode
func fmi2ExitInitializationMode(c C.fmi2Component) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.ExitInitializationMode(context.Background()))
}

//export fmi2Terminate
func fmi2Terminate(c C.fmi2Component) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.Terminate(context.Background()))
}

//export fmi2Reset
func fmi2Reset(c C.fmi2Component) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.Reset(context.Background()))
}

//export fmi2DoStep
func fmi2DoStep(c C.fmi2Component, currentCommunicationPoint, communicationStepSize C.fmi2Real,
	noSetFMUStatePriorToCurrentPoint C.fmi2Boolean) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.DoStep(context.Background(),
		float64(currentCommunicationPoint), float64(communicationStepSize),
		boolean(noSetFMUStatePriorToCurrentPoint)))
}

//export fmi2GetReal
func fmi2GetReal(c C.fmi2Component, vr *C.fmi2ValueReference, nvr C.size_t, value *C.fmi2Real) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.GetReal(context.Background(), refs(vr, nvr), reals(value, nvr)))
}

//export fmi2GetInteger
func fmi2GetInteger(c C.fmi2Component, vr *C.fmi2ValueReference, nvr C.size_t, value *C.fmi2Integer) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.GetInteger(context.Background(), refs(vr, nvr), integers(value, nvr)))
}

//export fmi2GetBoolean
func fmi2GetBoolean(c C.fmi2Component, vr *C.fmi2ValueReference, nvr C.size_t, value *C.fmi2Boolean) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.GetBoolean(context.Background(), refs(vr, nvr), integers((*C.fmi2Integer)(value), nvr)))
}

//export fmi2GetString
func fmi2GetString(c C.fmi2Component, vr *C.fmi2ValueReference, nvr C.size_t, value *C.fmi2String) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	vals := make([]string, int(nvr))
	st := inst.GetString(context.Background(), refs(vr, nvr), vals)
	if st == fmi2.OK {
		exportStrings(inst, cstrings(value, nvr))
	}
	return status(st)
}

//export fmi2SetReal
func fmi2SetReal(c C.fmi2Component, vr *C.fmi2ValueReference, nvr C.size_t, value *C.fmi2Real) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.SetReal(context.Background(), refs(vr, nvr), reals(value, nvr)))
}

//export fmi2SetInteger
func fmi2SetInteger(c C.fmi2Component, vr *C.fmi2ValueReference, nvr C.size_t, value *C.fmi2Integer) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.SetInteger(context.Background(), refs(vr, nvr), integers(value, nvr)))
}

//export fmi2SetBoolean
func fmi2SetBoolean(c C.fmi2Component, vr *C.fmi2ValueReference, nvr C.size_t, value *C.fmi2Boolean) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.SetBoolean(context.Background(), refs(vr, nvr), integers((*C.fmi2Integer)(value), nvr)))
}

//export fmi2SetString
func fmi2SetString(c C.fmi2Component, vr *C.fmi2ValueReference, nvr C.size_t, value *C.fmi2String) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.SetString(context.Background(), refs(vr, nvr), goStrings(value, nvr)))
}

//export fmi4jGetAll
func fmi4jGetAll(c C.fmi2Component,
	intVr *C.fmi2ValueReference, nInt C.size_t, intValue *C.fmi2Integer,
	realVr *C.fmi2ValueReference, nReal C.size_t, realValue *C.fmi2Real,
	boolVr *C.fmi2ValueReference, nBool C.size_t, boolValue *C.fmi2Boolean,
	strVr *C.fmi2ValueReference, nStr C.size_t, strValue *C.fmi2String) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	dst := fmi2.BulkValues{
		Integer: integers(intValue, nInt),
		Real:    reals(realValue, nReal),
		Boolean: integers((*C.fmi2Integer)(boolValue), nBool),
		String:  make([]string, int(nStr)),
	}
	st := inst.GetAll(context.Background(), fmi2.BulkRefs{
		Integer: refs(intVr, nInt),
		Real:    refs(realVr, nReal),
		Boolean: refs(boolVr, nBool),
		String:  refs(strVr, nStr),
	}, dst)
	if st == fmi2.OK {
		exportStrings(inst, cstrings(strValue, nStr))
	}
	return status(st)
}

//export fmi4jSetAll
func fmi4jSetAll(c C.fmi2Component,
	intVr *C.fmi2ValueReference, nInt C.size_t, intValue *C.fmi2Integer,
	realVr *C.fmi2ValueReference, nReal C.size_t, realValue *C.fmi2Real,
	boolVr *C.fmi2ValueReference, nBool C.size_t, boolValue *C.fmi2Boolean,
	strVr *C.fmi2ValueReference, nStr C.size_t, strValue *C.fmi2String) C.fmi2Status {
	inst, ok := lookup(c)
	if !ok {
		return status(fmi2.Error)
	}
	return status(inst.SetAll(context.Background(), fmi2.BulkRefs{
		Integer: refs(intVr, nInt),
		Real:    refs(realVr, nReal),
		Boolean: refs(boolVr, nBool),
		String:  refs(strVr, nStr),
	}, fmi2.BulkValues{
		Integer: integers(intValue, nInt),
		Real:    reals(realValue, nReal),
		Boolean: integers((*C.fmi2Integer)(boolValue), nBool),
		String:  goStrings(strValue, nStr),
	}))
}
