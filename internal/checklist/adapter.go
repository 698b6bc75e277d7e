package checklist

import (
	"context"
	"errors"
	"fmt"

	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

// Adapter persists one task list per stage. Read reports false when nothing
// was ever written for the stage.
type Adapter interface {
	Read(ctx context.Context, s stage.Stage) ([]todo.Task, bool, error)
	Write(ctx context.Context, s stage.Stage, tasks []todo.Task) error
}

// Snapshot is a pushed copy of a shared list. Lists holds only the stages
// that have been written at least once.
type Snapshot struct {
	BirthDate string
	UpdatedAt string
	Lists     map[stage.Stage][]todo.Task
	Err       error
}

// Subscriber is implemented by adapters that push changes made by other
// writers. The returned func stops the subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, fn func(Snapshot)) (func(), error)
}

type Catalog interface {
	For(s stage.Stage) []todo.Task
}

var ErrPersist = errors.New("persist task list")

// PersistError reports a failed write. The store keeps the last confirmed
// list when it is returned.
type PersistError struct {
	Stage stage.Stage
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("save %q: %v", e.Stage, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func (e *PersistError) Is(target error) bool { return target == ErrPersist }
