package todo

import (
	"encoding/json"
	"strings"
)

const OtherCategory = "Other"

type Importance string

const (
	High   Importance = "High"
	Medium Importance = "Medium"
	Low    Importance = "Low"
)

func ParseImportance(v string) Importance {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "high":
		return High
	case "low":
		return Low
	default:
		return Medium
	}
}

func (i *Importance) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*i = ParseImportance(s)
	return nil
}

func (i *Importance) UnmarshalText(b []byte) error {
	*i = ParseImportance(string(b))
	return nil
}

type Task struct {
	ID         string     `json:"id" yaml:"id"`
	Stage      string     `json:"stage" yaml:"stage"`
	Category   string     `json:"category" yaml:"category"`
	Group      string     `json:"group,omitempty" yaml:"group,omitempty"`
	Text       string     `json:"task" yaml:"task"`
	Importance Importance `json:"importance" yaml:"importance"`
	Done       bool       `json:"done" yaml:"done"`
	Memo       string     `json:"memo" yaml:"memo,omitempty"`
	Reason     string     `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Normalize fills the defaults a persisted or seeded task may be missing.
func (t *Task) Normalize() {
	if strings.TrimSpace(t.Category) == "" {
		t.Category = OtherCategory
	}
	if t.Importance == "" {
		t.Importance = Medium
	}
}

func Clone(tasks []Task) []Task {
	if tasks == nil {
		return []Task{}
	}
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

func IndexOf(tasks []Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func HasID(tasks []Task, id string) bool {
	return IndexOf(tasks, id) >= 0
}
