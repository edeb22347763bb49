// Package runtime is the core execution engine. It drives a plan run
// through Planning, Validating and Executing, persisting every status
// transition before advancing so a crash between transitions leaves the
// store consistent with the last completed one. On failure or abort it
// unwinds completed steps via their compensations in reverse completion
// order.
package runtime
