package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

//go:embed catalog.yaml
var defaultData []byte

type file struct {
	Stages []stageEntry `yaml:"stages"`
}

type stageEntry struct {
	Stage string      `yaml:"stage"`
	Tasks []todo.Task `yaml:"tasks"`
}

// Catalog is the read-only default checklist for every stage.
type Catalog struct {
	order  []stage.Stage
	byStep map[stage.Stage][]todo.Task
}

func Default() (*Catalog, error) {
	return Parse(defaultData)
}

// Load reads a catalog override from path. An empty path returns Default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c := &Catalog{byStep: map[stage.Stage][]todo.Task{}}
	seen := map[string]struct{}{}
	for _, entry := range f.Stages {
		st, ok := stage.Parse(entry.Stage)
		if !ok {
			return nil, fmt.Errorf("catalog: unknown stage %q", entry.Stage)
		}
		if _, dup := c.byStep[st]; dup {
			return nil, fmt.Errorf("catalog: stage %q listed twice", entry.Stage)
		}
		tasks := make([]todo.Task, 0, len(entry.Tasks))
		for _, t := range entry.Tasks {
			if strings.TrimSpace(t.Text) == "" {
				return nil, fmt.Errorf("catalog: task %q in %q has no text", t.ID, entry.Stage)
			}
			if t.ID == "" {
				return nil, errors.New("catalog: task without id")
			}
			if _, dup := seen[t.ID]; dup {
				return nil, fmt.Errorf("catalog: duplicate task id %q", t.ID)
			}
			seen[t.ID] = struct{}{}
			t.Stage = string(st)
			t.Done = false
			t.Memo = ""
			t.Normalize()
			tasks = append(tasks, t)
		}
		c.order = append(c.order, st)
		c.byStep[st] = tasks
	}
	return c, nil
}

// For returns a fresh copy of the seed tasks of s. Unknown stages yield an
// empty list.
func (c *Catalog) For(s stage.Stage) []todo.Task {
	return todo.Clone(c.byStep[s])
}

// All returns every seed task across stages in file order.
func (c *Catalog) All() []todo.Task {
	var out []todo.Task
	for _, s := range c.order {
		out = append(out, c.byStep[s]...)
	}
	return todo.Clone(out)
}

func (c *Catalog) Stages() []stage.Stage {
	out := make([]stage.Stage, len(c.order))
	copy(out, c.order)
	return out
}
