// Package core contains the canonical webhook pipeline contracts: envelopes,
// canonical events, durable run and step records, the error taxonomy with its
// retry classification, and configuration. Adapters depend on this package;
// core does not depend on transport or storage adapters.
package core
