// Package gate computes step locking from the completion of the preceding
// step's required tasks. It is a pure computation: persistence loads the
// inputs and the engine decides what to do with lock transitions.
package gate

import (
	"fmt"

	"auditflow/internal/domain"
)

// TaskState is the per-task input to the gate.
type TaskState struct {
	Required   bool
	Completion string
}

// StepInput is one step in project order with its tasks.
type StepInput struct {
	ID    string
	Tasks []TaskState
}

// Progress counts the required tasks of the preceding step.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Percentage int `json:"percentage"`
}

// StepState is the gate verdict for one step.
type StepState struct {
	ID        string   `json:"id"`
	Locked    bool     `json:"locked"`
	CanAccess bool     `json:"can_access"`
	Progress  Progress `json:"required_progress"`
}

// Compute evaluates the gate for every step, in order. The first step is
// never locked; step k is locked unless all required tasks of step k-1 are
// completed. A predecessor with no required tasks unlocks its successor
// trivially. Administrator read access to locked steps is an authorization
// concern outside this computation.
func Compute(steps []StepInput) []StepState {
	out := make([]StepState, 0, len(steps))
	for i, s := range steps {
		var p Progress
		if i > 0 {
			p = progressOf(steps[i-1])
		}
		locked := i > 0 && p.Completed < p.Total
		if i == 0 {
			p.Percentage = 100
		}
		out = append(out, StepState{
			ID:        s.ID,
			Locked:    locked,
			CanAccess: !locked,
			Progress:  p,
		})
	}
	return out
}

func progressOf(s StepInput) Progress {
	var p Progress
	for _, t := range s.Tasks {
		if !t.Required {
			continue
		}
		switch t.Completion {
		case domain.CompletionPending, domain.CompletionInProgress, domain.CompletionCompleted:
		default:
			panic(fmt.Sprintf("gate: task in step %s has invalid completion status %q", s.ID, t.Completion))
		}
		p.Total++
		if t.Completion == domain.CompletionCompleted {
			p.Completed++
		}
	}
	if p.Total == 0 {
		p.Percentage = 100
		return p
	}
	p.Percentage = p.Completed * 100 / p.Total
	return p
}
