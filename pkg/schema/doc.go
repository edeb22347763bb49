// Package schema validates opaque step parameter maps against a declared
// shape before any step produces a side effect.
//
// Step parameters are opaque to the engine, but a capability handler may
// declare the shape it expects by implementing capability.ParamValidator.
// During the validating phase the engine checks every step's params against
// that schema, so malformed plans fail before execution starts.
//
//	params := schema.Schema{
//	    "branch":  schema.String(),
//	    "retries": schema.Int(),
//	    "labels":  schema.Slice(schema.String()),
//	}
package schema
