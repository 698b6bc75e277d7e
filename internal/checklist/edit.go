package checklist

import "context"

type Field int

const (
	FieldText Field = iota
	FieldMemo
)

func (f Field) String() string {
	if f == FieldMemo {
		return "memo"
	}
	return "task"
}

// Edit is an inline edit of one task field. It is either idle or holds a
// pending buffer that Commit writes through the store and Cancel discards.
type Edit struct {
	TaskID string
	Field  Field
	Buffer string
	active bool
}

func (e *Edit) Begin(taskID string, f Field, current string) {
	e.TaskID = taskID
	e.Field = f
	e.Buffer = current
	e.active = true
}

func (e *Edit) Active() bool { return e.active }

func (e *Edit) Cancel() {
	*e = Edit{}
}

// Commit applies the buffer. A blank task text is discarded by the store,
// a blank memo clears the memo. The edit stays open when the write fails so
// the user can retry or cancel.
func (e *Edit) Commit(ctx context.Context, s *Store) error {
	if !e.active {
		return nil
	}
	var err error
	switch e.Field {
	case FieldMemo:
		err = s.EditMemo(ctx, e.TaskID, e.Buffer)
	default:
		err = s.EditTaskText(ctx, e.TaskID, e.Buffer)
	}
	if err != nil {
		return err
	}
	e.Cancel()
	return nil
}
