package visibility_test

import (
	"testing"

	"github.com/daylog/daylog/internal/models"
	"github.com/daylog/daylog/internal/visibility"
)

func strptr(s string) *string { return &s }

func sampleTasks() []models.Task {
	return []models.Task{
		{ID: "t1", Name: "Global chore", AssigneeEmail: strptr(models.GlobalAssigneeEmail), Identifier: "全社共通"},
		{ID: "t2", Name: "Mine", AssigneeEmail: strptr("alice@example.com"), TeamID: strptr("team-a"), Identifier: "ENG-12"},
		{ID: "t3", Name: "Someone else's", AssigneeEmail: strptr("bob@example.com"), TeamID: strptr("team-a"), Identifier: "ENG-13"},
		{ID: "t4", Name: "Team pool", AssigneeEmail: nil, TeamID: strptr("team-a"), Identifier: "ENG-14"},
		{ID: "t5", Name: "Other team pool", AssigneeEmail: nil, TeamID: strptr("team-b"), Identifier: "OPS-1"},
		{ID: "t6", Name: "Done", AssigneeEmail: strptr("alice@example.com"), TeamID: strptr("team-a"), Identifier: "ENG-15", StateType: "completed"},
		{ID: "t7", Name: "Dropped global", AssigneeEmail: strptr(models.GlobalAssigneeEmail), Identifier: "全社共通", StateType: "canceled"},
	}
}

func idsOf(tasks []models.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func TestVisibleTasks(t *testing.T) {
	tests := []struct {
		name   string
		viewer models.Viewer
		want   []string
	}{
		{
			name:   "team member sees own, global and team pool",
			viewer: models.Viewer{Email: "alice@example.com", TeamIDs: []string{"team-a"}},
			want:   []string{"t1", "t2", "t4"},
		},
		{
			name:   "outsider sees only global",
			viewer: models.Viewer{Email: "carol@example.com"},
			want:   []string{"t1"},
		},
		{
			name:   "assignee outside the team still sees the task",
			viewer: models.Viewer{Email: "bob@example.com"},
			want:   []string{"t1", "t3"},
		},
		{
			name:   "multi-team viewer sees both pools",
			viewer: models.Viewer{Email: "carol@example.com", TeamIDs: []string{"team-a", "team-b"}},
			want:   []string{"t1", "t4", "t5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idsOf(visibility.VisibleTasks(sampleTasks(), tt.viewer))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestVisibleTasksExcludesTerminalEvenForAssignee(t *testing.T) {
	viewer := models.Viewer{Email: "alice@example.com", TeamIDs: []string{"team-a"}}
	for _, task := range visibility.VisibleTasks(sampleTasks(), viewer) {
		if task.ID == "t6" || task.ID == "t7" {
			t.Errorf("terminal task %s leaked into visible set", task.ID)
		}
	}
}

func TestAdminTasksReturnsEverything(t *testing.T) {
	tasks := sampleTasks()
	got := visibility.AdminTasks(tasks)
	if len(got) != len(tasks) {
		t.Fatalf("AdminTasks returned %d tasks, want %d", len(got), len(tasks))
	}

	// The admin view is a copy; mutating it must not touch the input.
	got[0].Name = "mutated"
	if tasks[0].Name == "mutated" {
		t.Error("AdminTasks aliases the input slice")
	}
}

func TestGroupByTeam(t *testing.T) {
	tasks := []models.Task{
		{ID: "a", Name: "Zeta", TeamID: strptr("team-a"), Identifier: "ENG-2"},
		{ID: "b", Name: "Alpha", TeamID: strptr("team-a"), Identifier: "ENG-1"},
		{ID: "c", Name: "Ops thing", TeamID: strptr("team-b"), Identifier: "OPS-9"},
		{ID: "d", Name: "All hands", AssigneeEmail: strptr(models.GlobalAssigneeEmail), Identifier: "全社共通"},
	}

	groups := visibility.GroupByTeam(tasks)
	wantLabels := []string{"Team: ENG", "Team: OPS", "全社共通"}
	if len(groups) != len(wantLabels) {
		t.Fatalf("got %d groups, want %d", len(groups), len(wantLabels))
	}
	for i, g := range groups {
		if g.Label != wantLabels[i] {
			t.Errorf("group[%d].Label = %q, want %q", i, g.Label, wantLabels[i])
		}
	}

	// Tasks inside a group sort by name.
	eng := groups[0].Tasks
	if eng[0].Name != "Alpha" || eng[1].Name != "Zeta" {
		t.Errorf("ENG group order = %q, %q; want Alpha, Zeta", eng[0].Name, eng[1].Name)
	}
}

func TestGroupByTeamFallbackLabel(t *testing.T) {
	tasks := []models.Task{{ID: "x", Name: "Loose end"}}
	groups := visibility.GroupByTeam(tasks)
	if len(groups) != 1 || groups[0].Label != "その他" {
		t.Fatalf("got %+v, want single その他 group", groups)
	}
}
