// Package capability maps (skill, action) pairs to executable handlers.
//
// The registry is the only boundary between the engine and the outside
// world: Jira bindings, git operations or any other collaborator is
// registered here and invoked through the Handler contract. The registry
// performs no execution logic itself, so new skills can be added without
// touching the engine.
package capability
