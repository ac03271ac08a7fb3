package updater

import (
	"github.com/oshokin/agent-updater/internal/domain/artifact"
)

// State is the position of an artifact in its update state machine.
type State uint8

// Artifact update states.
const (
	// StateUpToDate means the remote version is not newer than the local one.
	StateUpToDate State = iota
	// StateBusy means the artifact lock is held elsewhere; retried next cycle.
	StateBusy
	// StateDownloading means the archive is being fetched.
	StateDownloading
	// StateVerifying means the archive digest is being checked.
	StateVerifying
	// StateInstalling means the service is stopped and the payload swapped in.
	StateInstalling
	// StateApplied means the remote entry is installed.
	StateApplied
	// StateFailed means the update stopped on an unrecoverable error.
	StateFailed
)

var stateNames = [...]string{
	StateUpToDate:    "up-to-date",
	StateBusy:        "busy",
	StateDownloading: "downloading",
	StateVerifying:   "verifying",
	StateInstalling:  "installing",
	StateApplied:     "applied",
	StateFailed:      "failed",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return "unknown"
}

// Outcome is the result of one artifact task.
type Outcome struct {
	// Name is the artifact name in the remote manifest.
	Name string
	// State is the terminal state reached.
	State State
	// Artifact is the entry to record in the new local manifest,
	// nil when nothing should be recorded (failed fresh install).
	Artifact *artifact.Artifact
	// Err is set for StateFailed.
	Err error
}
