// Package loader reads a slave's resource directory and loads its archive
// into an isolated namespace.
//
// A resource directory holds two files:
//
//	mainclass.txt   first line is the qualified class name
//	model.wasm      core module implementing the class and its dependencies
//
// Qualified class names follow the component model's interface naming:
//
//	<namespace>:<package>/<interface>#<resource>
//
// for example "example:echo/model#echo-slave". The class's entry points are
// the module exports
//
//	example:echo/model#[constructor]echo-slave
//	example:echo/model#[method]echo-slave.<method>
//	example:echo/model#[dtor]echo-slave
//
// Every Load creates a fresh anonymous module instance, so slaves never share
// guest state even when they load the same archive. Compiled code is shared
// per archive digest.
package loader
