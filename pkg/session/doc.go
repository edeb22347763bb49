/*
Package session serializes access to plan execution records.

It provides per-plan locking over a state store so that at most one caller
mutates a run at a time, integrating in-process reference-counted mutexes
with optional distributed locking for multi-replica deployments.
*/
package session
