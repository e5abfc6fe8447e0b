// Package tasks reads the project's task files: markdown documents in
// docs/_tasks with YAML frontmatter giving title, status, phase,
// category and display order.
package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// StatusCompleted marks a finished task.
const StatusCompleted = "completed"

// Task is one parsed task file.
type Task struct {
	Title    string
	Order    *int // nil when the file sets no order
	Status   string
	Phase    string
	Category string
	Content  string // Markdown body (frontmatter stripped)
	Filename string
}

type frontmatter struct {
	Title    string `yaml:"title"`
	Order    *int   `yaml:"order"`
	Status   string `yaml:"status"`
	Phase    string `yaml:"phase"`
	Category string `yaml:"category"`
}

// Loader reads task files from a directory.
type Loader struct {
	dir string
}

// NewLoader creates a loader for dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the task directory.
func (l *Loader) Dir() string { return l.dir }

// Load reads and parses every .md file in the directory, in filename
// order. A missing directory yields no tasks.
func (l *Loader) Load() ([]Task, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	tasks := make([]Task, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(l.dir, f))
		if err != nil {
			return nil, fmt.Errorf("read task %s: %w", f, err)
		}
		tasks = append(tasks, Parse(f, string(data)))
	}
	return tasks, nil
}

// Parse builds a Task from a file's name and contents. The title
// defaults to the filename and the status to "unknown". Frontmatter that
// is not valid YAML is ignored.
func Parse(filename, raw string) Task {
	fm, body := splitFrontmatter(raw)

	var meta frontmatter
	if fm != "" {
		if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
			meta = frontmatter{}
		}
	}

	t := Task{
		Title:    meta.Title,
		Order:    meta.Order,
		Status:   meta.Status,
		Phase:    meta.Phase,
		Category: meta.Category,
		Content:  strings.TrimSpace(body),
		Filename: filename,
	}
	if t.Title == "" {
		t.Title = filename
	}
	if t.Status == "" {
		t.Status = "unknown"
	}
	return t
}

// splitFrontmatter separates a leading block delimited by "---" lines
// from the body. Without a complete block the whole input is the body.
func splitFrontmatter(raw string) (string, string) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	rest, ok := strings.CutPrefix(raw, "---\n")
	if !ok {
		return "", raw
	}
	if strings.HasPrefix(rest, "---\n") || rest == "---" {
		return "", strings.TrimPrefix(strings.TrimPrefix(rest, "---"), "\n")
	}
	closeIdx := strings.Index(rest, "\n---")
	if closeIdx < 0 {
		return "", raw
	}
	after := rest[closeIdx+4:]
	if after != "" && after[0] != '\n' {
		return "", raw
	}
	return rest[:closeIdx], after
}

// Uncompleted returns the tasks whose status is not completed.
func Uncompleted(tasks []Task) []Task {
	var out []Task
	for _, t := range tasks {
		if t.Status != StatusCompleted {
			out = append(out, t)
		}
	}
	return out
}
