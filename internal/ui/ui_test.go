package ui

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiwa-murasawa/stepbaby/internal/checklist"
	"github.com/keiwa-murasawa/stepbaby/internal/config"
	"github.com/keiwa-murasawa/stepbaby/internal/remote"
	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/storage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

type fixedCatalog map[stage.Stage][]todo.Task

func (c fixedCatalog) For(s stage.Stage) []todo.Task { return todo.Clone(c[s]) }

func testCatalog() fixedCatalog {
	return fixedCatalog{
		stage.Newborn: {
			{ID: "1", Category: "Paperwork", Text: "Register birth", Importance: todo.High, Reason: "Within 14 days"},
			{ID: "5", Category: "Errands", Group: "Hospital", Text: "Settle bill", Importance: todo.Medium},
			{ID: "6", Category: "Errands", Group: "Hospital", Text: "Book checkup", Importance: todo.Low},
		},
		stage.MidInfancy: {
			{ID: "401", Category: "Health", Text: "Six month checkup", Importance: todo.High},
		},
	}
}

// flakyAdapter fails every write while err is set.
type flakyAdapter struct {
	checklist.Adapter
	err error
}

func (a *flakyAdapter) Write(ctx context.Context, s stage.Stage, tasks []todo.Task) error {
	if a.err != nil {
		return a.err
	}
	return a.Adapter.Write(ctx, s, tasks)
}

type fakeSubscriber struct {
	fn func(checklist.Snapshot)
}

func (f *fakeSubscriber) Subscribe(_ context.Context, fn func(checklist.Snapshot)) (func(), error) {
	f.fn = fn
	return func() {}, nil
}

func newbornNow() time.Time { return time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC) }

type fixture struct {
	db      *storage.Store
	adapter *flakyAdapter
	store   *checklist.Store
	opts    Options
}

func newFixture(t *testing.T, birthDate string) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "stepbaby.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg, err := config.LoadOrCreate(filepath.Join(t.TempDir(), config.DefaultConfigFileName))
	require.NoError(t, err)

	n := 1000
	ids := func() string {
		n++
		return strconv.Itoa(n)
	}
	ad := &flakyAdapter{Adapter: db}
	store := checklist.New(ad, testCatalog(), checklist.WithIDs(ids))
	return &fixture{
		db:      db,
		adapter: ad,
		store:   store,
		opts: Options{
			Store:     store,
			Keys:      cfg.Keys,
			Nickname:  "Hana",
			BirthDate: birthDate,
			Dates:     db,
			Profiles:  db,
			Now:       newbornNow,
		},
	}
}

func (f *fixture) model(t *testing.T) Model {
	t.Helper()
	m := New(f.opts)
	m.clip = func(string) error { return nil }
	if m.shown != "" {
		m, _ = update(t, m, m.load(m.shown)())
	}
	return m
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

// press sends a key and feeds the resulting commands back into the model.
func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	m, cmd := update(t, m, keyMsg(k))
	for i := 0; cmd != nil && i < 5; i++ {
		msg := cmd()
		if msg == nil {
			break
		}
		if _, ok := msg.(tea.QuitMsg); ok {
			break
		}
		m, cmd = update(t, m, msg)
	}
	return m
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func taskByID(t *testing.T, s *checklist.Store, id string) todo.Task {
	t.Helper()
	tasks := s.Tasks()
	i := todo.IndexOf(tasks, id)
	require.GreaterOrEqual(t, i, 0, "task %s", id)
	return tasks[i]
}

func TestNew_ClassifiesDate(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := f.model(t)

	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, stage.Newborn, m.shown)
	assert.Equal(t, stage.Newborn, m.current)
	require.Len(t, m.rows, 4)
	assert.Equal(t, "1", m.rows[0].task.ID)
	assert.True(t, m.rows[1].header)
	assert.Equal(t, []string{"5", "6"}, m.rows[1].ids)

	view := m.View()
	assert.Contains(t, view, "(current)")
	assert.Contains(t, view, "Register birth")
	assert.Contains(t, view, "Hospital")
}

func TestToggleTask_Persists(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), " ")

	assert.Equal(t, "Toggled task", m.status)
	assert.True(t, taskByID(t, f.store, "1").Done)

	saved, ok, err := f.db.Read(context.Background(), stage.Newborn)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, saved[todo.IndexOf(saved, "1")].Done)
}

func TestToggleGroupHeader(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "j")
	require.True(t, m.rows[m.cursor].header)

	m = press(t, m, " ")
	assert.True(t, taskByID(t, f.store, "5").Done)
	assert.True(t, taskByID(t, f.store, "6").Done)
	assert.True(t, m.rows[1].allDone)

	m = press(t, m, " ")
	assert.False(t, taskByID(t, f.store, "5").Done)
	assert.False(t, taskByID(t, f.store, "6").Done)
}

func TestAddTask_WithCategoryChoice(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "a")
	require.Equal(t, modeAdd, m.mode)

	m = typeText(t, m, "Buy diapers")
	m = press(t, m, "enter")
	require.Equal(t, addCategory, m.add.step)
	assert.Equal(t, []string{todo.OtherCategory, "Paperwork", "Errands"}, m.add.choices)

	m = press(t, m, "tab")
	m = press(t, m, "tab")
	assert.Equal(t, "Paperwork", m.input.Value())

	m = press(t, m, "enter")
	require.Equal(t, addGroup, m.add.step)
	m = press(t, m, "enter")

	assert.Equal(t, modeList, m.mode)
	tasks := f.store.Tasks()
	require.Len(t, tasks, 4)
	assert.Equal(t, "1001", tasks[0].ID)
	assert.Equal(t, "Buy diapers", tasks[0].Text)
	assert.Equal(t, "Paperwork", tasks[0].Category)
	assert.Empty(t, tasks[0].Group)
	assert.Equal(t, todo.Medium, tasks[0].Importance)
}

func TestAddTask_GroupInCategory(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "a")
	m = typeText(t, m, "Return slippers")
	m = press(t, m, "enter")
	m = typeText(t, m, "Errands")
	m = press(t, m, "enter")
	assert.Equal(t, []string{"Hospital"}, m.add.choices)
	m = press(t, m, "tab")
	m = press(t, m, "enter")

	added := taskByID(t, f.store, "1001")
	assert.Equal(t, "Errands", added.Category)
	assert.Equal(t, "Hospital", added.Group)
	assert.Len(t, m.rows, 5)
}

func TestAddTask_OtherSkipsGroup(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "a")
	m = typeText(t, m, "Call grandma")
	m = press(t, m, "enter")
	m = press(t, m, "enter")

	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, todo.OtherCategory, taskByID(t, f.store, "1001").Category)
}

func TestAddTask_BlankAndCancel(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "a")
	m = press(t, m, "enter")
	assert.Equal(t, modeAdd, m.mode)
	assert.Equal(t, "Task cannot be empty", m.status)

	m = press(t, m, "esc")
	assert.Equal(t, modeList, m.mode)
	assert.Len(t, f.store.Tasks(), 3)
}

func TestEditMemo(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "m")
	require.Equal(t, modeEdit, m.mode)
	assert.True(t, m.edit.Active())
	assert.Equal(t, checklist.FieldMemo, m.edit.Field)

	m = typeText(t, m, "bring ID card")
	m = press(t, m, "enter")

	assert.Equal(t, modeList, m.mode)
	assert.False(t, m.edit.Active())
	assert.Equal(t, "bring ID card", taskByID(t, f.store, "1").Memo)
	assert.Contains(t, m.View(), "bring ID card")
}

func TestEditText_Cancel(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "e")
	assert.Equal(t, "Register birth", m.input.Value())
	m = typeText(t, m, " now")
	m = press(t, m, "esc")

	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, "Register birth", taskByID(t, f.store, "1").Text)
}

func TestEditOnGroupHeaderIsIgnored(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "j")
	m = press(t, m, "e")
	assert.Equal(t, modeList, m.mode)
	m = press(t, m, "d")
	assert.Equal(t, modeList, m.mode)
}

func TestDeleteConfirm(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "d")
	require.Equal(t, modeConfirmDelete, m.mode)
	assert.Contains(t, m.status, "Register birth")

	m = press(t, m, "n")
	assert.Equal(t, modeList, m.mode)
	assert.Len(t, f.store.Tasks(), 3)

	m = press(t, m, "d")
	m = press(t, m, "y")
	assert.Equal(t, "Deleted task", m.status)
	assert.False(t, todo.HasID(f.store.Tasks(), "1"))
	assert.Len(t, m.rows, 3)
}

func TestWriteFailure_KeepsList(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := f.model(t)
	f.adapter.err = errors.New("disk full")

	m = press(t, m, " ")
	assert.Equal(t, "save failed: disk full", m.status)
	assert.False(t, taskByID(t, f.store, "1").Done)
	assert.Contains(t, m.View(), "[ ]")
}

func TestStageTabs(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "tab")
	assert.Equal(t, stage.EarlyInfancy, m.shown)
	assert.Empty(t, m.rows)
	assert.NotContains(t, m.View(), "(current)")

	m = press(t, m, "shift+tab")
	m = press(t, m, "shift+tab")
	assert.Equal(t, stage.LatePregnancy, m.shown)

	m = press(t, m, "c")
	assert.Equal(t, stage.Newborn, m.shown)
	assert.Len(t, m.rows, 4)
}

func TestStageTabs_Wrap(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := f.model(t)
	for range stage.All() {
		m = press(t, m, "tab")
	}
	assert.Equal(t, stage.Newborn, m.shown)
}

func TestStageLoadsOutOfOrder(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := f.model(t)
	ctx := context.Background()

	m, loadEarly := update(t, m, keyMsg("tab"))
	m, loadMid := update(t, m, keyMsg("tab"))
	require.Equal(t, stage.MidInfancy, m.shown)

	// The later load finishes first, so the store ends on the earlier stage.
	midMsg := loadMid()
	earlyMsg := loadEarly()
	cur, _ := f.store.Stage()
	require.Equal(t, stage.EarlyInfancy, cur)

	m, reload := update(t, m, midMsg)
	require.NotNil(t, reload)

	// Mutations are refused until the displayed stage is back in the store.
	m = press(t, m, " ")
	assert.Contains(t, m.status, "Still loading")

	m, reload = update(t, m, earlyMsg)
	require.NotNil(t, reload)
	m, _ = update(t, m, reload())

	cur, _ = f.store.Stage()
	assert.Equal(t, stage.MidInfancy, cur)
	require.Len(t, m.rows, 1)
	assert.Equal(t, "401", m.rows[0].task.ID)

	m = press(t, m, "a")
	m = typeText(t, m, "Buy high chair")
	m = press(t, m, "enter")
	m = press(t, m, "enter")
	require.Equal(t, modeList, m.mode)

	mid, _, err := f.db.Read(ctx, stage.MidInfancy)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, todo.IndexOf(mid, "1001"), 0)
	early, _, err := f.db.Read(ctx, stage.EarlyInfancy)
	require.NoError(t, err)
	assert.Empty(t, early)
}

func TestDateEdit_Reclassifies(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "b")
	require.Equal(t, modeDate, m.mode)
	assert.Equal(t, "2026-01-05", m.input.Value())

	m.input.SetValue("")
	m = typeText(t, m, "tomorrow")
	m = press(t, m, "enter")
	assert.Equal(t, modeDate, m.mode)
	assert.Equal(t, "Use the format YYYY-MM-DD", m.status)

	m.input.SetValue("")
	m = typeText(t, m, "2025-10-01")
	m = press(t, m, "enter")

	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, stage.MidInfancy, m.current)
	assert.Equal(t, stage.MidInfancy, m.shown)
	require.Len(t, m.rows, 1)
	assert.Equal(t, "Six month checkup", m.rows[0].task.Text)

	p, err := f.db.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-10-01", p.BirthDate)
}

func TestSetupFlow(t *testing.T) {
	f := newFixture(t, "")
	m := f.model(t)
	require.Equal(t, modeSetup, m.mode)

	m = press(t, m, "enter")
	assert.Equal(t, "Nickname is required", m.status)

	m = typeText(t, m, "Mochi")
	m = press(t, m, "enter")
	require.True(t, m.setup.askDate)

	m = typeText(t, m, "2026-01-05")
	m = press(t, m, "enter")

	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, "Mochi", m.nickname)
	assert.Equal(t, stage.Newborn, m.shown)
	assert.Len(t, m.rows, 4)

	p, err := f.db.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Mochi", p.Nickname)
	assert.Equal(t, "2026-01-05", p.BirthDate)
}

func TestNoDateWithoutProfiles_AsksForDate(t *testing.T) {
	f := newFixture(t, "")
	f.opts.Profiles = nil
	m := f.model(t)
	assert.Equal(t, modeDate, m.mode)

	m = press(t, m, "esc")
	assert.Equal(t, modeDate, m.mode)
}

func TestSnapshot_ReplacesDisplayedStage(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := f.model(t)

	m, _ = update(t, m, snapshotMsg(checklist.Snapshot{
		BirthDate: "2026-01-05",
		Lists: map[stage.Stage][]todo.Task{
			stage.Newborn: {{ID: "9", Category: "Paperwork", Text: "Apply for allowance", Done: true}},
		},
	}))
	require.Len(t, m.rows, 1)
	assert.Equal(t, "Apply for allowance", m.rows[0].task.Text)

	m, _ = update(t, m, snapshotMsg(checklist.Snapshot{
		BirthDate: "2026-01-05",
		Lists:     map[stage.Stage][]todo.Task{stage.MidInfancy: {}},
	}))
	assert.Len(t, m.rows, 1)
}

func TestSnapshot_DateChangedElsewhere(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := f.model(t)

	m, cmd := update(t, m, snapshotMsg(checklist.Snapshot{BirthDate: "2025-10-01"}))
	assert.Equal(t, stage.MidInfancy, m.shown)
	assert.Equal(t, stage.MidInfancy, m.current)
	assert.NotNil(t, cmd)
}

func TestSnapshot_ListGone(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := f.model(t)

	m, _ = update(t, m, snapshotMsg(checklist.Snapshot{Err: remote.ErrListNotFound}))
	assert.Equal(t, modeGone, m.mode)
	assert.Contains(t, m.View(), "list not found")

	_, cmd := update(t, m, keyMsg("x"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestSubscribe_DeliversSnapshots(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	sub := &fakeSubscriber{}
	f.opts.Subscriber = sub
	m := f.model(t)

	m, wait := update(t, m, m.subscribe()())
	require.NotNil(t, wait)
	require.NotNil(t, sub.fn)

	go sub.fn(checklist.Snapshot{
		BirthDate: "2026-01-05",
		Lists: map[stage.Stage][]todo.Task{
			stage.Newborn: {{ID: "1", Category: "Paperwork", Text: "Register birth", Done: true}},
		},
	})
	m, next := update(t, m, wait())
	assert.NotNil(t, next)
	require.Len(t, m.rows, 1)
	assert.True(t, m.rows[0].task.Done)
	m.shutdown()
}

func TestShare(t *testing.T) {
	f := newFixture(t, "2026-01-05")
	m := press(t, f.model(t), "s")
	assert.Contains(t, m.status, "stepbaby share")

	f.opts.ShareURL = "https://share.example/list/abc"
	m = f.model(t)
	var copied string
	m.clip = func(s string) error {
		copied = s
		return nil
	}
	m = press(t, m, "s")
	assert.Equal(t, "https://share.example/list/abc", copied)
	assert.Equal(t, "Share link copied: https://share.example/list/abc", m.status)
}

func TestBuildRows(t *testing.T) {
	rows := buildRows(todo.Group([]todo.Task{
		{ID: "a", Category: "Errands", Group: "Bank", Text: "Open account"},
		{ID: "b", Category: "Errands", Text: "Buy stamps"},
		{ID: "c", Category: "Errands", Group: "Bank", Text: "Order card", Done: true},
	}))
	require.Len(t, rows, 4)
	assert.Equal(t, "b", rows[0].task.ID)
	assert.True(t, rows[1].header)
	assert.Equal(t, "Bank", rows[1].group)
	assert.False(t, rows[1].allDone)
	assert.Equal(t, "a", rows[2].task.ID)
	assert.Equal(t, "c", rows[3].task.ID)
}
