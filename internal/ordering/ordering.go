// Package ordering renumbers and relocates ordered workflow items from
// client-submitted snapshots. Planning is pure: callers load the current
// state, plan, then persist the result in one transaction.
package ordering

import (
	"sort"

	"auditflow/internal/domain"
)

// Item is one entry of a step reorder snapshot.
type Item struct {
	ID       string
	Position int
}

// TaskItem is one entry of a task reorder snapshot. StepID names the step
// the task should end up in, which may differ from its current step.
type TaskItem struct {
	ID       string
	Position int
	StepID   string
}

// PlanSteps computes dense 1..N positions for a project's steps from a
// submitted snapshot. Submitted positions may carry gaps or duplicates;
// only their relative order matters. The snapshot must cover exactly the
// current set of steps: unknown ids are a referential-integrity error and
// a missing or empty snapshot (against a non-empty project) is treated as
// a client desync and rejected rather than silently truncating.
func PlanSteps(current, submitted []Item) ([]Item, error) {
	known := make(map[string]bool, len(current))
	for _, s := range current {
		known[s.ID] = true
	}
	if len(submitted) == 0 {
		if len(current) == 0 {
			return nil, nil
		}
		return nil, domain.ValidationError{Msg: "empty reorder snapshot for non-empty project"}
	}
	seen := make(map[string]bool, len(submitted))
	for _, s := range submitted {
		if !known[s.ID] {
			return nil, domain.ReferentialIntegrityError{Entity: "step", ID: s.ID}
		}
		if seen[s.ID] {
			return nil, domain.ValidationError{Msg: "duplicate step in reorder snapshot: " + s.ID}
		}
		seen[s.ID] = true
	}
	if len(submitted) != len(current) {
		return nil, domain.ValidationError{Msg: "reorder snapshot does not cover all steps"}
	}
	target := make([]Item, len(submitted))
	copy(target, submitted)
	sort.SliceStable(target, func(i, j int) bool { return target[i].Position < target[j].Position })
	for i := range target {
		target[i].Position = i + 1
	}
	return target, nil
}

// PlanTasks computes dense per-step 1..N positions for all of a project's
// tasks from a submitted snapshot. A task whose submitted StepID differs
// from its current step is moved: the source step's remainder and the
// target step's sequence are both renumbered densely. The snapshot spans
// the whole project so a single request can move tasks between steps.
func PlanTasks(current, submitted []TaskItem, steps map[string]bool) ([]TaskItem, error) {
	known := make(map[string]bool, len(current))
	for _, t := range current {
		known[t.ID] = true
	}
	if len(submitted) == 0 {
		if len(current) == 0 {
			return nil, nil
		}
		return nil, domain.ValidationError{Msg: "empty reorder snapshot for non-empty project"}
	}
	seen := make(map[string]bool, len(submitted))
	for _, t := range submitted {
		if !known[t.ID] {
			return nil, domain.ReferentialIntegrityError{Entity: "task", ID: t.ID}
		}
		if !steps[t.StepID] {
			return nil, domain.ReferentialIntegrityError{Entity: "step", ID: t.StepID}
		}
		if seen[t.ID] {
			return nil, domain.ValidationError{Msg: "duplicate task in reorder snapshot: " + t.ID}
		}
		seen[t.ID] = true
	}
	if len(submitted) != len(current) {
		return nil, domain.ValidationError{Msg: "reorder snapshot does not cover all tasks"}
	}
	target := make([]TaskItem, len(submitted))
	copy(target, submitted)
	sort.SliceStable(target, func(i, j int) bool { return target[i].Position < target[j].Position })
	next := make(map[string]int, len(steps))
	for i := range target {
		next[target[i].StepID]++
		target[i].Position = next[target[i].StepID]
	}
	return target, nil
}

// Diff filters a plan down to the items whose position or step actually
// changed, so persistence can skip untouched rows. Resubmitting an
// already-applied snapshot therefore produces an empty diff.
func Diff(current, plan []TaskItem) []TaskItem {
	cur := make(map[string]TaskItem, len(current))
	for _, t := range current {
		cur[t.ID] = t
	}
	var changed []TaskItem
	for _, t := range plan {
		if c, ok := cur[t.ID]; !ok || c.Position != t.Position || c.StepID != t.StepID {
			changed = append(changed, t)
		}
	}
	return changed
}

// DiffSteps is Diff for step snapshots.
func DiffSteps(current, plan []Item) []Item {
	cur := make(map[string]int, len(current))
	for _, s := range current {
		cur[s.ID] = s.Position
	}
	var changed []Item
	for _, s := range plan {
		if p, ok := cur[s.ID]; !ok || p != s.Position {
			changed = append(changed, s)
		}
	}
	return changed
}

// Compact renumbers the remaining items of one collection densely after a
// deletion, preserving relative order.
func Compact(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}
