// Package domain contains the pure types of the Espalier engine: plans,
// steps, execution records and lifecycle events.
//
// The package has no dependencies on the runtime or on any adapter. Types
// here are the contract shared between the engine core, the persistence
// ports and the host application. A Plan is immutable once parsed; all
// mutable run state lives in the ExecutionRecord.
package domain
