// Package ports defines the driven-side interfaces of the engine:
// persistence of execution records and distributed locking. Adapters
// (memory, file, redis) implement these contracts; the exported contract
// test suite verifies each implementation the same way.
package ports
