// Package sqlstore persists durable runs, their step history and the users
// table with bun. Schemas live in the migrations package; the same stores
// run against postgres and sqlite.
package sqlstore
