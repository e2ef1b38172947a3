// Package sweep runs the engine's periodic maintenance on two
// independent cadences: a frequent presence sweep that flips stale
// machines and instances out of their live states, and an infrequent
// cleanup sweep that garbage-collects expired lock rows and old
// session output chunks.
//
// Nothing here bears on correctness. Lock expiry is logical at access
// time and presence flips are guarded, so a missed or delayed sweep
// only delays observation and storage reclamation.
package sweep
