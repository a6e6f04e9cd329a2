// Package visibility decides which tasks a viewer may select for timing.
// Pure functions over the task collection; nothing here persists state.
package visibility

import (
	"sort"
	"strings"

	"github.com/daylog/daylog/internal/models"
)

// VisibleTasks returns the subset of tasks the viewer may time, applying
// the rules in order: terminal tasks are out; global-sentinel tasks are in
// for everyone; tasks assigned to the viewer are in; unassigned tasks are
// in when they belong to one of the viewer's teams; everything else is out.
func VisibleTasks(tasks []models.Task, viewer models.Viewer) []models.Task {
	var visible []models.Task
	for _, task := range tasks {
		if task.Terminal() {
			continue
		}
		switch {
		case task.IsGlobal():
			visible = append(visible, task)
		case task.AssigneeEmail != nil && *task.AssigneeEmail == viewer.Email:
			visible = append(visible, task)
		case task.AssigneeEmail == nil && task.TeamID != nil && viewer.MemberOf(*task.TeamID):
			visible = append(visible, task)
		}
	}
	return visible
}

// AdminTasks is the wider administrative view: everything, including
// terminal and unassigned tasks, for triage and assignment. It is a
// distinct view, not a relaxation of VisibleTasks.
func AdminTasks(tasks []models.Task) []models.Task {
	out := make([]models.Task, len(tasks))
	copy(out, tasks)
	return out
}

// Group is a labelled set of tasks for the selection dropdown.
type Group struct {
	Label string        `json:"label"`
	Tasks []models.Task `json:"tasks"`
}

const teamLabelPrefix = "Team: "

// GroupByTeam buckets tasks under team labels. Tasks on a team get a
// "Team: <key>" label from their identifier prefix; global tasks use their
// identifier as a free-text label. Team groups sort alphabetically and come
// before the non-team groups, which also sort alphabetically.
func GroupByTeam(tasks []models.Task) []Group {
	buckets := make(map[string][]models.Task)
	for _, task := range tasks {
		label := groupLabel(task)
		buckets[label] = append(buckets[label], task)
	}

	labels := make([]string, 0, len(buckets))
	for label := range buckets {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		ti := strings.HasPrefix(labels[i], teamLabelPrefix)
		tj := strings.HasPrefix(labels[j], teamLabelPrefix)
		if ti != tj {
			return ti
		}
		return labels[i] < labels[j]
	})

	groups := make([]Group, 0, len(labels))
	for _, label := range labels {
		bucket := buckets[label]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Name < bucket[j].Name })
		groups = append(groups, Group{Label: label, Tasks: bucket})
	}
	return groups
}

func groupLabel(task models.Task) string {
	if task.TeamID == nil && task.IsGlobal() {
		if task.Identifier != "" {
			return task.Identifier
		}
		return "その他"
	}
	if task.TeamID != nil {
		key := task.Identifier
		if i := strings.IndexByte(key, '-'); i > 0 {
			key = key[:i]
		}
		if key == "" {
			key = "Unknown"
		}
		return teamLabelPrefix + key
	}
	return "その他"
}
