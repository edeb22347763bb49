/*
Package espalier is a durable workflow orchestration engine for declarative
plans of interdependent steps.

A plan is a YAML or JSON document listing steps, each naming a capability
(skill/action pair) and the steps it depends on. The engine compiles the
plan into dependency layers, validates every capability before any side
effect, gates execution behind an explicit approval, and persists each
status transition so an interrupted run resumes exactly where it stopped.
On failure or abort, completed steps are compensated in reverse completion
order (the saga pattern).

# Concept

Espalier separates the plan (what to do, declared by the operator) from the
capabilities (how to do it, registered by the host) and from the run state
(what happened, owned by the store). This hexagonal layout lets the engine
be embedded anywhere: CLI, HTTP server, or another Go program.

# Key Features

  - Deterministic ordering: steps run in dependency layers computed up front.
  - Durable execution: every transition is persisted before the next step.
  - Approval gate: no step executes until the plan is explicitly approved.
  - Compensating rollback: failures unwind completed work, newest first.

# Usage

Register capabilities, create the engine, then drive a plan through its
phases.

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/espalier"
		"github.com/aretw0/espalier/pkg/capability"
	)

	func main() {
		reg := capability.NewRegistry()
		reg.RegisterFunc("git", "create-branch", func(ctx context.Context, params map[string]any) (any, error) {
			// ... call git ...
			return "created", nil
		})

		eng, err := espalier.New(reg)
		if err != nil {
			log.Fatal(err)
		}

		ctx := context.Background()
		doc := []byte(`
	id: release-1
	steps:
	  - id: branch
	    skill: git
	    action: create-branch
	`)

		preview, err := eng.Plan(ctx, doc)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("plan %s: %d layers", preview.PlanID, len(preview.Layers))

		if err := eng.Approve(ctx, "release-1"); err != nil {
			log.Fatal(err)
		}

		report, err := eng.Execute(ctx, "release-1")
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("finished: %s", report.Status)
	}
*/
package espalier
