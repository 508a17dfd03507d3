// Package webhooks verifies identity-provider webhook signatures.
//
// Signatures follow the Svix scheme: HMAC-SHA256 over "<id>.<timestamp>.<body>"
// with the base64 key carried after the "whsec_" prefix. Every failure is
// deterministic for the same bytes and is classified non-retriable by core.
//
// Burst control suppresses repeated deliveries of one message id inside a
// short window before they reach the run store. Only accepted deliveries open
// a window.
package webhooks
