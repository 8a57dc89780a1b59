// Package store provides storage abstractions for the job board.
// It defines the domain records shared by every backend, the Store interface
// the board rules are written against, and the applicant normalization applied
// at every read boundary. Implementations live in sub-packages: kvstore keeps
// JSON documents in a key/value capability (memory or BadgerDB), sqlstore maps
// the relational tables with sqlx on SQLite or PostgreSQL, and supabase talks to
// the same tables through the Supabase REST API.
package store
