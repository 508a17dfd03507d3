// Package functions defines the durable functions that handle identity
// provider user lifecycle events.
//
// Every function verifies the webhook as its first step. Persistence and
// downstream fan-out steps only run once verification has been recorded.
package functions
