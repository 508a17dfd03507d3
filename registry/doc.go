// Package registry routes canonical events to the durable function registered
// for their event type and exposes the registered set to the scheduler serve
// endpoint.
package registry
