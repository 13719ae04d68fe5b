// Package stores persists forj state in SQLite: the resources of the local
// provider and the boot history of forges. Schema changes are embedded
// golang-migrate migrations applied by Migrate.
package stores
