package collector

import (
	"strings"

	v1 "github.com/tradewatch/tradewatch/pkg/api/v1"
)

// agentRoles are the team roles the dashboard attributes work to, in render
// order.
var agentRoles = []string{"pm", "tl", "architect", "coder_a", "coder_b"}

// ParseTaskTable extracts task signals from the markdown task table. Rows are
// pipe-delimited; after splitting, column 1 is the task id, 2 the status,
// 3 the owner, 4 the description and 6 the ownership tag.
func ParseTaskTable(content string) v1.TaskSignals {
	signals := emptyTaskSignals()
	inProgress := map[string]bool{}

	for _, line := range strings.Split(content, "\n") {
		if !strings.Contains(line, "|") {
			continue
		}
		cols := strings.Split(line, "|")
		// A real task row has ten split segments; shorter pipe lines are
		// prose or partial tables.
		if len(cols) < 10 {
			continue
		}
		task := v1.TaskSignal{
			TaskID:      strings.TrimSpace(cols[1]),
			Status:      strings.TrimSpace(cols[2]),
			Owner:       strings.TrimSpace(cols[3]),
			Description: strings.TrimSpace(cols[4]),
			Ownership:   strings.TrimSpace(cols[6]),
		}
		if !isTaskRow(task) {
			continue
		}
		signals.Tasks = append(signals.Tasks, task)

		if !strings.EqualFold(task.Status, "IN_PROGRESS") {
			continue
		}
		for _, role := range rolesForTask(task) {
			inProgress[role] = true
			// The last in-progress row claiming a role wins.
			signals.AgentWork[role] = v1.AgentWork{
				TaskID:      task.TaskID,
				Description: task.Description,
				Status:      task.Status,
			}
		}
	}

	for _, role := range agentRoles {
		if inProgress[role] {
			signals.InProgressWorkers = append(signals.InProgressWorkers, role)
		}
	}
	return signals
}

// isTaskRow filters out the header and divider rows of a markdown table.
func isTaskRow(task v1.TaskSignal) bool {
	if task.TaskID == "" {
		return false
	}
	if strings.HasPrefix(task.TaskID, "-") || strings.HasPrefix(task.TaskID, ":") {
		return false
	}
	if strings.EqualFold(task.TaskID, "task") || strings.EqualFold(task.TaskID, "taskid") || strings.EqualFold(task.TaskID, "id") {
		return false
	}
	return true
}

// rolesForTask maps a task row to the team roles it occupies. Owner matching
// is by substring, so decorated owner names like "pm-lead" or "tl (review)"
// still land in their role bucket; the coders are additionally matched
// through an "a:" or "b:" ownership tag.
func rolesForTask(task v1.TaskSignal) []string {
	owner := strings.ToLower(task.Owner)
	ownership := strings.ToLower(task.Ownership)

	var roles []string
	for _, role := range agentRoles {
		switch role {
		case "coder_a":
			if strings.Contains(owner, role) || strings.Contains(ownership, "a:") {
				roles = append(roles, role)
			}
		case "coder_b":
			if strings.Contains(owner, role) || strings.Contains(ownership, "b:") {
				roles = append(roles, role)
			}
		default:
			if strings.Contains(owner, role) {
				roles = append(roles, role)
			}
		}
	}
	return roles
}

func emptyTaskSignals() v1.TaskSignals {
	return v1.TaskSignals{
		InProgressWorkers: []string{},
		Tasks:             []v1.TaskSignal{},
		AgentWork:         map[string]v1.AgentWork{},
	}
}
