// Package session wires the preview fetcher, the push channel, the job
// coordinator, artifact delivery, history, and notifications into the unit a
// front end drives.
//
// A Session holds an exclusive lock in the state directory so two front ends
// never track jobs against the same history database. Front ends feed URL
// edits through SetURL, read ActionState to decide what the primary action
// shows, and subscribe to job and connection changes with Subscribe.
package session
