// Package compiler turns a plan document (YAML or JSON) into a validated,
// immutable domain.Plan. Validation rejects duplicate or empty step IDs,
// unresolvable dependsOn references and dependency cycles before the plan
// ever reaches the runtime. Unknown top-level fields are ignored for
// forward compatibility.
package compiler
