// Package graph computes the execution order of a plan: a layered
// topological sort over the step dependency edges, with cycle and unknown
// reference detection. Ordering is deterministic (stable sort by step ID
// inside each layer) so runs are reproducible.
package graph
