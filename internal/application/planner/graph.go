package planner

import (
	"sort"
	"time"

	"github.com/aescanero/fulfillment/pkg/domain"
)

// Analyze computes the diagnostic plan metadata of a validated template.
// Ties are broken by template order so the result is deterministic.
func Analyze(tmpl domain.WorkflowTemplate) domain.PlanMetadata {
	order := topoOrder(tmpl.Steps)
	index := make(map[string]int, len(tmpl.Steps))
	byID := make(map[string]domain.StepDefinition, len(tmpl.Steps))
	for i, s := range tmpl.Steps {
		index[s.ID] = i
		byID[s.ID] = s
	}

	// longest path ending at each step
	dist := make(map[string]time.Duration, len(order))
	prev := make(map[string]string, len(order))
	depth := make(map[string]int, len(order))
	ancestors := make(map[string]map[string]bool, len(order))

	for _, id := range order {
		s := byID[id]
		best, bestDep := time.Duration(-1), ""
		anc := make(map[string]bool)
		for _, dep := range sortedByIndex(s.DependsOn, index) {
			if dist[dep] > best {
				best, bestDep = dist[dep], dep
			}
			if depth[dep]+1 > depth[id] {
				depth[id] = depth[dep] + 1
			}
			anc[dep] = true
			for a := range ancestors[dep] {
				anc[a] = true
			}
		}
		if best < 0 {
			best = 0
		}
		dist[id] = best + s.EstimatedDuration
		prev[id] = bestDep
		ancestors[id] = anc
	}

	var meta domain.PlanMetadata

	end := ""
	for _, s := range tmpl.Steps {
		if end == "" || dist[s.ID] > dist[end] {
			end = s.ID
		}
	}
	if end != "" {
		meta.CriticalPathDuration = dist[end]
		for id := end; id != ""; id = prev[id] {
			meta.CriticalPath = append([]string{id}, meta.CriticalPath...)
		}
	}

	maxDepth := -1
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	if len(tmpl.Steps) > 0 {
		meta.ParallelGroups = make([][]string, maxDepth+1)
		for _, s := range tmpl.Steps {
			d := depth[s.ID]
			meta.ParallelGroups[d] = append(meta.ParallelGroups[d], s.ID)
		}
	}

	for i, a := range tmpl.Steps {
		for j, b := range tmpl.Steps {
			if i == j {
				continue
			}
			if !ancestors[a.ID][b.ID] && !ancestors[b.ID][a.ID] {
				meta.ParallelizableSteps = append(meta.ParallelizableSteps, a.ID)
				break
			}
		}
	}

	return meta
}

// topoOrder returns step ids so that dependencies come first. Among ready
// steps the earliest in template order goes first.
func topoOrder(steps []domain.StepDefinition) []string {
	remaining := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		remaining[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	done := make(map[string]bool, len(steps))
	order := make([]string, 0, len(steps))
	for len(order) < len(steps) {
		progressed := false
		for _, s := range steps {
			if done[s.ID] || remaining[s.ID] > 0 {
				continue
			}
			done[s.ID] = true
			order = append(order, s.ID)
			for _, d := range dependents[s.ID] {
				remaining[d]--
			}
			progressed = true
			break
		}
		if !progressed {
			// cyclic input; validated templates never get here
			break
		}
	}
	return order
}

func sortedByIndex(ids []string, index map[string]int) []string {
	out := append([]string(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return index[out[i]] < index[out[j]] })
	return out
}
