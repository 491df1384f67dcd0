// Package history persists the jobs a user submitted in a small SQLite
// database under the state directory, so `reelgrab history` can list past
// downloads after the session that ran them has exited.
package history
