package specstore

import (
	"regexp"

	"github.com/lodestar-dev/lodestar/internal/dag"
	"github.com/lodestar-dev/lodestar/internal/engineerr"
	"github.com/lodestar-dev/lodestar/internal/types"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// Validate enforces every invariant from spec.md §3.1: unique IDs (by
// construction of the map), no cycles, every dep resolvable, valid
// status, non-empty/size-bounded titles.
func Validate(spec *types.Spec) *engineerr.Error {
	for id, task := range spec.Tasks {
		if id != task.ID {
			return engineerr.Newf(engineerr.SpecInvariantViolation, "task key %q does not match task.id %q", id, task.ID).
				WithDetails(map[string]any{"reason": string(engineerr.ReasonDuplicateID)})
		}
		if !taskIDPattern.MatchString(id) {
			return engineerr.Newf(engineerr.InvalidInput, "task id %q must be 1-64 letters, digits, or hyphens", id).
				WithDetails(map[string]any{"field": "id"})
		}
		if task.Title == "" || len(task.Title) > 200 {
			return engineerr.Newf(engineerr.InvalidInput, "task %q title must be non-empty and at most 200 characters", id).
				WithDetails(map[string]any{"field": "title"})
		}
		if !task.Status.Valid() {
			return engineerr.Newf(engineerr.SpecInvariantViolation, "task %q has invalid status %q", id, task.Status).
				WithDetails(map[string]any{"reason": string(engineerr.ReasonBadStatus)})
		}
	}

	if missing := dag.MissingDeps(spec); len(missing) > 0 {
		details := make([]map[string]string, len(missing))
		for i, m := range missing {
			details[i] = map[string]string{"task_id": m.TaskID, "dep_id": m.DepID}
		}
		return engineerr.New(engineerr.SpecInvariantViolation, "one or more depends_on references are unresolvable or point at a deleted task").
			WithDetails(map[string]any{"reason": string(engineerr.ReasonMissingDep), "missing": details})
	}

	if cyc := dag.DetectCycle(spec); cyc != nil {
		return engineerr.New(engineerr.SpecInvariantViolation, "depends_on graph contains a cycle").
			WithDetails(map[string]any{"reason": string(engineerr.ReasonCycle), "cycle": []string(cyc)})
	}

	return nil
}
