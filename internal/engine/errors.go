package engine

import (
	"fmt"
	"sort"
	"strings"
)

// RunErrorKind classifies a failed run for exit codes and HTTP mapping.
type RunErrorKind string

const (
	ErrorAllCandidatesFailed RunErrorKind = "all_candidates_failed"
	ErrorCancelled           RunErrorKind = "cancelled"
	ErrorTimeout             RunErrorKind = "timeout"
	ErrorConfiguration       RunErrorKind = "configuration"
)

// RunError is a run that produced no usable response. Planning failures keep
// their own type (planner.PlanError); everything after planning lands here.
type RunError struct {
	Kind         RunErrorKind
	Message      string
	TaskFailures map[string]string // task id -> reason, when tasks are to blame
	Err          error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("run failed (%s): %s", e.Kind, e.Message)
	if len(e.TaskFailures) > 0 {
		ids := make([]string, 0, len(e.TaskFailures))
		for id := range e.TaskFailures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, id+": "+e.TaskFailures[id])
		}
		msg += " [" + strings.Join(parts, "; ") + "]"
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }
