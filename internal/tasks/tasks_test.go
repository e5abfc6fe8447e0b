package tasks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func intp(n int) *int { return &n }

func writeTask(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Task
	}{
		{
			name: "full frontmatter",
			raw:  "---\ntitle: \"Add jq\"\norder: 3\nstatus: open\nphase: Phase 1\ncategory: tooling\n---\n\nInstall jq.\n",
			want: Task{Title: "Add jq", Order: intp(3), Status: "open", Phase: "Phase 1", Category: "tooling", Content: "Install jq."},
		},
		{
			name: "no frontmatter",
			raw:  "# Just text",
			want: Task{Title: "t.md", Status: "unknown", Content: "# Just text"},
		},
		{
			name: "unterminated frontmatter",
			raw:  "---\ntitle: x\nbody",
			want: Task{Title: "t.md", Status: "unknown", Content: "---\ntitle: x\nbody"},
		},
		{
			name: "invalid yaml",
			raw:  "---\ntitle: [oops\n---\nbody",
			want: Task{Title: "t.md", Status: "unknown", Content: "body"},
		},
		{
			name: "crlf",
			raw:  "---\r\ntitle: Windows\r\nstatus: completed\r\n---\r\nbody\r\n",
			want: Task{Title: "Windows", Status: "completed", Content: "body"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse("t.md", tt.raw)
			tt.want.Filename = "t.md"
			if got.Title != tt.want.Title || got.Status != tt.want.Status || got.Phase != tt.want.Phase ||
				got.Category != tt.want.Category || got.Content != tt.want.Content || got.Filename != tt.want.Filename {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
			if (got.Order == nil) != (tt.want.Order == nil) || (got.Order != nil && *got.Order != *tt.want.Order) {
				t.Errorf("Order = %v, want %v", got.Order, tt.want.Order)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "b.md", "---\ntitle: B\nstatus: open\n---\nbee")
	writeTask(t, dir, "a.md", "---\ntitle: A\nstatus: completed\n---\nay")
	writeTask(t, dir, "notes.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "sub.md"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := NewLoader(dir).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(got) != 2 || got[0].Title != "A" || got[1].Title != "B" {
		t.Fatalf("Load() = %+v", got)
	}
	if open := Uncompleted(got); len(open) != 1 || open[0].Title != "B" {
		t.Errorf("Uncompleted() = %+v", open)
	}

	missing, err := NewLoader(filepath.Join(dir, "nope")).Load()
	if err != nil || missing != nil {
		t.Errorf("Load(missing) = %v, %v", missing, err)
	}
}

func TestSort(t *testing.T) {
	in := []Task{
		{Title: "z-none", Filename: "z.md"},
		{Title: "two", Order: intp(2), Filename: "x.md"},
		{Title: "a-none", Filename: "a.md"},
		{Title: "one", Order: intp(1), Filename: "y.md"},
	}
	got := Sort(in)
	var titles []string
	for _, t := range got {
		titles = append(titles, t.Title)
	}
	if strings.Join(titles, ",") != "one,two,a-none,z-none" {
		t.Errorf("Sort() = %v", titles)
	}
	if in[0].Title != "z-none" {
		t.Error("Sort() modified its input")
	}
}

func TestAssembleMarkdown(t *testing.T) {
	if got := AssembleMarkdown(nil); got != "# Tasks\n\n✅ All tasks are completed! Great work!" {
		t.Errorf("AssembleMarkdown(nil) = %q", got)
	}

	single := AssembleMarkdown([]Task{{Title: "Only", Status: "open", Content: "body", Filename: "o.md"}})
	want := "# Tasks (Uncompleted)\n\n### Only\n\n**Status:** open\n\nbody\n\n---"
	if single != want {
		t.Errorf("single phase:\n%q\nwant\n%q", single, want)
	}

	multi := AssembleMarkdown([]Task{
		{Title: "Later", Status: "open", Phase: "Phase 2", Order: intp(2), Filename: "b.md"},
		{Title: "First", Status: "open", Phase: "Phase 1", Category: "infra", Order: intp(1), Filename: "a.md"},
		{Title: "Loose", Status: "open", Filename: "c.md"},
	})
	for _, s := range []string{"## Phase 1", "## Phase 2", "## Other", "**Category:** infra"} {
		if !strings.Contains(multi, s) {
			t.Errorf("missing %q in:\n%s", s, multi)
		}
	}
	if strings.Index(multi, "## Phase 1") > strings.Index(multi, "## Phase 2") {
		t.Error("phases not in task order")
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Task{
		{Status: "open", Phase: "P1", Category: "dev", Order: intp(1)},
		{Status: "open", Phase: "P1", Order: intp(7)},
		{Status: "in-progress", Phase: "P2", Category: "dev"},
		{Status: "completed", Phase: "P1", Order: intp(3)},
	})
	if s.Open != 3 || s.Completed != 1 {
		t.Errorf("Open, Completed = %d, %d", s.Open, s.Completed)
	}
	wantPhase := []Count{{"P1", 2}, {"P2", 1}}
	if len(s.ByPhase) != 2 || s.ByPhase[0] != wantPhase[0] || s.ByPhase[1] != wantPhase[1] {
		t.Errorf("ByPhase = %+v", s.ByPhase)
	}
	wantCat := []Count{{"Other", 1}, {"dev", 2}}
	if len(s.ByCategory) != 2 || s.ByCategory[0] != wantCat[0] || s.ByCategory[1] != wantCat[1] {
		t.Errorf("ByCategory = %+v", s.ByCategory)
	}
	if len(s.Recent) != 3 || *s.Recent[0].Order != 7 {
		t.Errorf("Recent = %+v", s.Recent)
	}
}

func TestSearch(t *testing.T) {
	all := []Task{
		{Title: "Add JQ", Status: "open", Content: "json tool", Phase: "P1"},
		{Title: "Hugo site", Status: "completed", Content: "static JSON export"},
		{Title: "Server", Status: "in-progress", Content: "http", Category: "dev"},
	}
	tests := []struct {
		name   string
		query  string
		filter Filter
		want   int
	}{
		{"title case-insensitive", "jq", Filter{}, 1},
		{"content", "json", Filter{}, 2},
		{"status filter", "json", Filter{Status: []string{"open", "in-progress"}}, 1},
		{"empty query", "", Filter{Status: []string{"open", "in-progress"}}, 2},
		{"category", "", Filter{Category: []string{"dev"}}, 1},
		{"phase", "", Filter{Phase: []string{"P1"}}, 1},
		{"no match", "kubernetes", Filter{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Search(all, tt.query, tt.filter); len(got) != tt.want {
				t.Errorf("Search() returned %d tasks, want %d", len(got), tt.want)
			}
		})
	}
}
