package checklist

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

// Store owns the task list of the displayed stage. Every change is written
// through the adapter first and only reflected in memory once the write
// succeeded.
type Store struct {
	mu      sync.Mutex
	adapter Adapter
	catalog Catalog
	newID   func() string
	log     *slog.Logger

	stage  stage.Stage
	loaded bool
	tasks  []todo.Task
}

type Option func(*Store)

// WithIDs replaces the id generator used by AddTask.
func WithIDs(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func New(adapter Adapter, cat Catalog, opts ...Option) *Store {
	s := &Store{
		adapter: adapter,
		catalog: cat,
		newID:   TimestampIDs(time.Now),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TimestampIDs issues millisecond timestamps, bumped so that two ids from
// the same generator never repeat.
func TimestampIDs(clock stage.Clock) func() string {
	var mu sync.Mutex
	var last int64
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		v := clock().UnixMilli()
		if v <= last {
			v = last + 1
		}
		last = v
		return strconv.FormatInt(v, 10)
	}
}

func (s *Store) Stage() (stage.Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage, s.loaded
}

func (s *Store) Tasks() []todo.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return todo.Clone(s.tasks)
}

// Grouped is recomputed from the flat list on every call.
func (s *Store) Grouped() []todo.CategoryView {
	return todo.Group(s.Tasks())
}

// LoadStage replaces the list with the persisted list of st, or with the
// catalog defaults on a first visit, and writes the result back so the
// defaults become the durable baseline.
func (s *Store) LoadStage(ctx context.Context, st stage.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, ok, err := s.adapter.Read(ctx, st)
	if err != nil {
		return fmt.Errorf("load %q: %w", st, err)
	}
	if !ok {
		tasks = s.catalog.For(st)
		s.log.Debug("seeding stage from catalog", "stage", st, "tasks", len(tasks))
	}
	tasks = normalize(tasks)

	s.stage = st
	s.loaded = true
	s.tasks = tasks

	if err := s.adapter.Write(ctx, st, todo.Clone(tasks)); err != nil {
		s.log.Warn("baseline write failed", "stage", st, "err", err)
		return &PersistError{Stage: st, Err: err}
	}
	return nil
}

func (s *Store) AddTask(ctx context.Context, text, category, group string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.mutate(ctx, "add", func(tasks []todo.Task) ([]todo.Task, bool) {
		id := s.newID()
		for todo.HasID(tasks, id) {
			id = s.newID()
		}
		t := todo.Task{
			ID:         id,
			Stage:      string(s.stage),
			Category:   strings.TrimSpace(category),
			Group:      strings.TrimSpace(group),
			Text:       text,
			Importance: todo.Medium,
		}
		t.Normalize()
		return append([]todo.Task{t}, tasks...), true
	})
}

func (s *Store) ToggleTask(ctx context.Context, id string) error {
	return s.mutate(ctx, "toggle", func(tasks []todo.Task) ([]todo.Task, bool) {
		i := todo.IndexOf(tasks, id)
		if i < 0 {
			return nil, false
		}
		tasks[i].Done = !tasks[i].Done
		return tasks, true
	})
}

// ToggleGroup completes every listed task unless all of them are already
// done, in which case it reopens all of them. Ids missing from the list are
// ignored.
func (s *Store) ToggleGroup(ctx context.Context, ids []string) error {
	return s.mutate(ctx, "toggle group", func(tasks []todo.Task) ([]todo.Task, bool) {
		members := map[string]struct{}{}
		allDone := true
		for _, id := range ids {
			i := todo.IndexOf(tasks, id)
			if i < 0 {
				continue
			}
			members[id] = struct{}{}
			allDone = allDone && tasks[i].Done
		}
		if len(members) == 0 {
			return nil, false
		}
		for i := range tasks {
			if _, ok := members[tasks[i].ID]; ok {
				tasks[i].Done = !allDone
			}
		}
		return tasks, true
	})
}

func (s *Store) EditTaskText(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.mutate(ctx, "edit text", func(tasks []todo.Task) ([]todo.Task, bool) {
		i := todo.IndexOf(tasks, id)
		if i < 0 {
			return nil, false
		}
		tasks[i].Text = text
		return tasks, true
	})
}

// EditMemo stores memo trimmed. An empty memo clears the annotation.
func (s *Store) EditMemo(ctx context.Context, id, memo string) error {
	return s.mutate(ctx, "edit memo", func(tasks []todo.Task) ([]todo.Task, bool) {
		i := todo.IndexOf(tasks, id)
		if i < 0 {
			return nil, false
		}
		tasks[i].Memo = strings.TrimSpace(memo)
		return tasks, true
	})
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete", func(tasks []todo.Task) ([]todo.Task, bool) {
		i := todo.IndexOf(tasks, id)
		if i < 0 {
			return nil, false
		}
		return append(tasks[:i], tasks[i+1:]...), true
	})
}

// ApplySnapshot replaces the list with a pushed copy when the snapshot
// carries the displayed stage. It reports whether the view changed.
func (s *Store) ApplySnapshot(snap Snapshot) bool {
	if snap.Err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return false
	}
	tasks, ok := snap.Lists[s.stage]
	if !ok {
		return false
	}
	s.tasks = normalize(tasks)
	return true
}

func (s *Store) mutate(ctx context.Context, op string, fn func([]todo.Task) ([]todo.Task, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil
	}
	next, changed := fn(todo.Clone(s.tasks))
	if !changed {
		return nil
	}
	if err := s.adapter.Write(ctx, s.stage, todo.Clone(next)); err != nil {
		s.log.Warn("write failed", "op", op, "stage", s.stage, "err", err)
		return &PersistError{Stage: s.stage, Err: err}
	}
	s.tasks = next
	s.log.Debug("task list updated", "op", op, "stage", s.stage, "tasks", len(next))
	return nil
}

func normalize(tasks []todo.Task) []todo.Task {
	out := todo.Clone(tasks)
	for i := range out {
		out[i].Normalize()
	}
	return out
}
