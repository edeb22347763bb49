package domain

import "errors"

// ErrRunNotFound is returned when a plan ID has no persisted run in the store.
var ErrRunNotFound = errors.New("run not found")

// ErrPlanTerminal is returned when an operation is attempted on a run whose
// status is terminal.
var ErrPlanTerminal = errors.New("plan run is in a terminal status")

// ErrNotApproved is returned when execution is attempted before the explicit
// approval signal. Approval is a hard gate, not a default.
var ErrNotApproved = errors.New("plan has not been approved")

// ErrAlreadyExists is returned when registering a plan ID that already has a
// persisted run.
var ErrAlreadyExists = errors.New("plan run already exists")
