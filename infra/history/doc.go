// Package history persists entity state changes and answers range queries
// over them. Records are keyed by the entity unique id so that a renamed
// entity keeps its history.
package history
