// Package templates provides starter roadmaps a user can pick before
// dictating a brain dump.
//
// Templates are YAML documents. The built-in set is embedded in the binary;
// an optional directory adds to it or overrides built-ins by slug. Loaded
// catalogs are held in a TTL Cache, and a Watcher invalidates the cache when
// the directory changes.
package templates

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/braindump/roadmap"
)

// ErrNotFound is returned for an unknown slug.
var ErrNotFound = errors.New("template not found")

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Task is a default task suggested by a template.
type Task struct {
	ID           string   `yaml:"id" json:"id"`
	Title        string   `yaml:"title" json:"title"`
	Description  string   `yaml:"description" json:"description"`
	Priority     int      `yaml:"priority" json:"priority"`
	Dependencies []string `yaml:"dependencies" json:"dependencies"`
}

// NodeID implements roadmap.Node.
func (t Task) NodeID() string { return t.ID }

// Deps implements roadmap.Node.
func (t Task) Deps() []string { return t.Dependencies }

// Template is a full starter template.
type Template struct {
	Slug         string   `yaml:"slug" json:"slug"`
	Title        string   `yaml:"title" json:"title"`
	Description  string   `yaml:"description" json:"description"`
	Icon         string   `yaml:"icon" json:"icon"`
	Examples     []string `yaml:"examples" json:"examples"`
	DefaultTasks []Task   `yaml:"default_tasks" json:"defaultTasks"`
}

// Summary is a template without its default tasks.
type Summary struct {
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Examples    []string `json:"examples"`
}

// Summary returns the list view of t.
func (t Template) Summary() Summary {
	return Summary{
		Slug:        t.Slug,
		Title:       t.Title,
		Description: t.Description,
		Icon:        t.Icon,
		Examples:    t.Examples,
	}
}

// Validate checks required fields and that default tasks form a DAG over
// their own ids.
func (t *Template) Validate() error {
	var problems []string
	if !slugPattern.MatchString(t.Slug) {
		problems = append(problems, fmt.Sprintf("slug %q must be lowercase words joined by hyphens", t.Slug))
	}
	if strings.TrimSpace(t.Title) == "" {
		problems = append(problems, "title is required")
	}

	ids := make(map[string]bool, len(t.DefaultTasks))
	for i, task := range t.DefaultTasks {
		if task.ID == "" {
			problems = append(problems, fmt.Sprintf("default_tasks[%d]: id is required", i))
			continue
		}
		if ids[task.ID] {
			problems = append(problems, fmt.Sprintf("default_tasks[%d]: duplicate id %q", i, task.ID))
		}
		ids[task.ID] = true
	}
	for i, task := range t.DefaultTasks {
		for _, dep := range task.Dependencies {
			if !ids[dep] {
				problems = append(problems, fmt.Sprintf("default_tasks[%d]: unknown dependency %q", i, dep))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("template %q: %s", t.Slug, strings.Join(problems, "; "))
	}

	if err := roadmap.CheckCycles(t.DefaultTasks); err != nil {
		return fmt.Errorf("template %q: %w", t.Slug, err)
	}
	return nil
}

func (t *Template) normalize() {
	if t.Examples == nil {
		t.Examples = []string{}
	}
	if t.DefaultTasks == nil {
		t.DefaultTasks = []Task{}
	}
	for i := range t.DefaultTasks {
		if t.DefaultTasks[i].Dependencies == nil {
			t.DefaultTasks[i].Dependencies = []string{}
		}
	}
}

// Catalog is an immutable set of templates keyed by slug.
type Catalog struct {
	ordered []Template
	bySlug  map[string]int
}

// NewCatalog builds a catalog. Later templates replace earlier ones with the
// same slug in place.
func NewCatalog(list []Template) *Catalog {
	c := &Catalog{bySlug: make(map[string]int, len(list))}
	for _, t := range list {
		if i, ok := c.bySlug[t.Slug]; ok {
			c.ordered[i] = t
			continue
		}
		c.bySlug[t.Slug] = len(c.ordered)
		c.ordered = append(c.ordered, t)
	}
	return c
}

// Summaries lists every template without default tasks.
func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, 0, len(c.ordered))
	for _, t := range c.ordered {
		out = append(out, t.Summary())
	}
	return out
}

// Get returns the template with slug.
func (c *Catalog) Get(slug string) (Template, error) {
	i, ok := c.bySlug[slug]
	if !ok {
		return Template{}, ErrNotFound
	}
	return c.ordered[i], nil
}

// Len returns the number of templates.
func (c *Catalog) Len() int { return len(c.ordered) }
