// Package slave implements the co-simulation slave surface on top of a
// guest object.
//
// Instantiate reads the resource directory named by a file URI, loads the
// archive into a private namespace, binds the class named by the manifest
// and constructs the guest object with the instanceName and resourceLocation
// configuration entries. Every other method forwards to the bridge.
//
// Free always releases the guest object and its namespace, even when the
// guest close call fails.
package slave
