package remote

import (
	"context"
	"slices"

	"github.com/keiwa-murasawa/stepbaby/internal/checklist"
	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

// Adapter exposes one shared document as per-stage task lists.
type Adapter struct {
	client *Client
	id     string
}

func (c *Client) List(id string) *Adapter {
	return &Adapter{client: c, id: id}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) Read(ctx context.Context, st stage.Stage) ([]todo.Task, bool, error) {
	doc, err := a.client.Get(ctx, a.id)
	if err != nil {
		return nil, false, err
	}
	if !slices.Contains(doc.Seeded, string(st)) {
		return nil, false, nil
	}
	return tasksOf(doc.Todos, st), true, nil
}

// Write splices tasks into the freshest todos array in place of the stage's
// previous entries and sends the whole array back.
func (a *Adapter) Write(ctx context.Context, st stage.Stage, tasks []todo.Task) error {
	doc, err := a.client.Get(ctx, a.id)
	if err != nil {
		return err
	}
	seeded := doc.Seeded
	if !slices.Contains(seeded, string(st)) {
		seeded = append(seeded, string(st))
	}
	return a.client.UpdateTodos(ctx, a.id, replaceStage(doc.Todos, st, tasks), seeded)
}

func (a *Adapter) SetBirthDate(ctx context.Context, birthDate string) error {
	return a.client.UpdateBirthDate(ctx, a.id, birthDate)
}

func (a *Adapter) Subscribe(ctx context.Context, fn func(checklist.Snapshot)) (func(), error) {
	return a.client.Watch(ctx, a.id, func(doc Document, err error) {
		if err != nil {
			fn(checklist.Snapshot{Err: err})
			return
		}
		fn(SnapshotOf(doc))
	})
}

// SnapshotOf splits a document into the per-stage lists of its seeded stages.
func SnapshotOf(doc Document) checklist.Snapshot {
	snap := checklist.Snapshot{
		BirthDate: doc.BirthDate,
		UpdatedAt: doc.UpdatedAt,
		Lists:     map[stage.Stage][]todo.Task{},
	}
	for _, label := range doc.Seeded {
		st := stage.Stage(label)
		snap.Lists[st] = tasksOf(doc.Todos, st)
	}
	return snap
}

func tasksOf(all []todo.Task, st stage.Stage) []todo.Task {
	out := []todo.Task{}
	for _, t := range all {
		if t.Stage == string(st) {
			out = append(out, t)
		}
	}
	return out
}

// replaceStage keeps the tasks of other stages in place and puts the new
// list where the stage's first task used to be, or at the end.
func replaceStage(all []todo.Task, st stage.Stage, tasks []todo.Task) []todo.Task {
	out := make([]todo.Task, 0, len(all)+len(tasks))
	inserted := false
	for _, t := range all {
		if t.Stage != string(st) {
			out = append(out, t)
			continue
		}
		if !inserted {
			out = append(out, withStage(tasks, st)...)
			inserted = true
		}
	}
	if !inserted {
		out = append(out, withStage(tasks, st)...)
	}
	return out
}

func withStage(tasks []todo.Task, st stage.Stage) []todo.Task {
	out := todo.Clone(tasks)
	for i := range out {
		out[i].Stage = string(st)
	}
	return out
}

// StageCatalog supplies default tasks for the stages it knows about.
type StageCatalog interface {
	Stages() []stage.Stage
	For(s stage.Stage) []todo.Task
}

// SeedFromCatalog marks only the catalog's own stages as seeded. Stages the
// catalog lacks stay absent and fall back to catalog defaults on first load.
func SeedFromCatalog(title, nickname, birthDate string, cat StageCatalog) Document {
	seeds := map[stage.Stage][]todo.Task{}
	for _, st := range cat.Stages() {
		seeds[st] = cat.For(st)
	}
	return Seed(title, nickname, birthDate, seeds)
}

// Seed builds a new document holding the default tasks of every stage.
func Seed(title, nickname, birthDate string, seeds map[stage.Stage][]todo.Task) Document {
	doc := Document{
		Title:     title,
		Nickname:  nickname,
		BirthDate: birthDate,
		Todos:     []todo.Task{},
		Seeded:    []string{},
	}
	for _, st := range stage.All() {
		tasks, ok := seeds[st]
		if !ok {
			continue
		}
		doc.Todos = append(doc.Todos, withStage(tasks, st)...)
		doc.Seeded = append(doc.Seeded, string(st))
	}
	return doc
}
