package tasks

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

const otherGroup = "Other"

// Sort orders tasks by their order field, tasks without one last, and
// ties by filename. The input is not modified.
func Sort(tasks []Task) []Task {
	out := slices.Clone(tasks)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Order != nil && b.Order != nil:
			if *a.Order != *b.Order {
				return *a.Order < *b.Order
			}
		case a.Order != nil:
			return true
		case b.Order != nil:
			return false
		}
		return a.Filename < b.Filename
	})
	return out
}

// AssembleMarkdown renders tasks as one markdown document grouped by
// phase. Phase headings are only shown when there is more than one
// phase.
func AssembleMarkdown(tasks []Task) string {
	if len(tasks) == 0 {
		return "# Tasks\n\n✅ All tasks are completed! Great work!"
	}

	sorted := Sort(tasks)
	var phases []string
	groups := make(map[string][]Task)
	for _, t := range sorted {
		p := groupName(t.Phase)
		if _, ok := groups[p]; !ok {
			phases = append(phases, p)
		}
		groups[p] = append(groups[p], t)
	}

	var b strings.Builder
	b.WriteString("# Tasks (Uncompleted)\n\n")
	for _, p := range phases {
		if len(phases) > 1 {
			fmt.Fprintf(&b, "## %s\n\n", p)
		}
		for _, t := range groups[p] {
			fmt.Fprintf(&b, "### %s\n\n", t.Title)
			fmt.Fprintf(&b, "**Status:** %s\n", t.Status)
			if t.Category != "" {
				fmt.Fprintf(&b, "**Category:** %s\n", t.Category)
			}
			fmt.Fprintf(&b, "\n%s\n\n---\n\n", t.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

// Count is a group name with the number of tasks in it.
type Count struct {
	Name  string
	Count int
}

// Summary holds task statistics. Phase and category counts cover open
// tasks only and are sorted by name.
type Summary struct {
	Open       int
	Completed  int
	ByPhase    []Count
	ByCategory []Count
	// Recent lists up to five tasks with the highest order numbers.
	Recent []Task
}

// Summarize computes statistics over tasks.
func Summarize(tasks []Task) Summary {
	open := Uncompleted(tasks)
	s := Summary{
		Open:       len(open),
		Completed:  len(tasks) - len(open),
		ByPhase:    countBy(open, func(t Task) string { return t.Phase }),
		ByCategory: countBy(open, func(t Task) string { return t.Category }),
	}

	var ordered []Task
	for _, t := range tasks {
		if t.Order != nil {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return *ordered[i].Order > *ordered[j].Order })
	if len(ordered) > 5 {
		ordered = ordered[:5]
	}
	s.Recent = ordered
	return s
}

func countBy(tasks []Task, key func(Task) string) []Count {
	m := make(map[string]int)
	for _, t := range tasks {
		m[groupName(key(t))]++
	}
	out := make([]Count, 0, len(m))
	for name, n := range m {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func groupName(s string) string {
	if s == "" {
		return otherGroup
	}
	return s
}

// Filter restricts a search. An empty field matches everything.
type Filter struct {
	Status   []string
	Phase    []string
	Category []string
}

// Search returns the tasks whose title or body contains query
// (case-insensitively) and that pass filter.
func Search(tasks []Task, query string, filter Filter) []Task {
	q := strings.ToLower(query)
	var out []Task
	for _, t := range tasks {
		if q != "" && !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Content), q) {
			continue
		}
		if !matches(filter.Status, t.Status) || !matches(filter.Phase, t.Phase) || !matches(filter.Category, t.Category) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matches(allowed []string, v string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, v)
}
