// Package inbound turns raw webhook requests into canonical events.
//
// The normalizer keeps the received body bytes untouched next to the parsed
// view and folds transport headers into a single lowercase lookup.
package inbound
