package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/keiwa-murasawa/stepbaby/internal/checklist"
	"github.com/keiwa-murasawa/stepbaby/internal/config"
	"github.com/keiwa-murasawa/stepbaby/internal/remote"
	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

var errStageLoading = errors.New("stage still loading")

type mode int

const (
	modeSetup mode = iota
	modeList
	modeAdd
	modeEdit
	modeDate
	modeConfirmDelete
	modeGone
)

type addStep int

const (
	addText addStep = iota
	addCategory
	addGroup
)

type addState struct {
	step     addStep
	text     string
	category string
	choices  []string
	choice   int
}

type setupState struct {
	askDate  bool
	nickname string
}

// DateSaver persists a changed birth or due date.
type DateSaver interface {
	SetBirthDate(ctx context.Context, birthDate string) error
}

type ProfileSaver interface {
	SaveProfile(ctx context.Context, nickname, birthDate string) error
}

type Options struct {
	Store      *checklist.Store
	Keys       config.Keymap
	Nickname   string
	BirthDate  string
	Dates      DateSaver
	Profiles   ProfileSaver
	Subscriber checklist.Subscriber
	ShareURL   string

	// Missing opens on the list-not-found screen.
	Missing bool
	Now     stage.Clock
	Log     *slog.Logger
}

type Model struct {
	ctx      context.Context
	cancel   context.CancelFunc
	store    *checklist.Store
	keys     config.Keymap
	dates    DateSaver
	profiles ProfileSaver
	sub      checklist.Subscriber
	shareURL string
	now      stage.Clock
	log      *slog.Logger
	clip     func(string) error

	nickname  string
	birthDate string
	current   stage.Stage
	shown     stage.Stage

	rows       []row
	cursor     int
	mode       mode
	input      textinput.Model
	status     string
	add        addState
	setup      setupState
	edit       checklist.Edit
	pendingDel *todo.Task
	updates    <-chan checklist.Snapshot
	stop       func()
}

type loadedMsg struct {
	stage stage.Stage
	err   error
}

type mutatedMsg struct {
	status string
	err    error
}

type editedMsg struct{ err error }

type dateSavedMsg struct {
	nickname string
	date     string
	err      error
}

type subscribedMsg struct {
	updates <-chan checklist.Snapshot
	stop    func()
	err     error
}

type snapshotMsg checklist.Snapshot

type copiedMsg struct{ err error }

func New(opts Options) Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())

	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 40

	m := Model{
		ctx:       ctx,
		cancel:    cancel,
		store:     opts.Store,
		keys:      opts.Keys,
		dates:     opts.Dates,
		profiles:  opts.Profiles,
		sub:       opts.Subscriber,
		shareURL:  opts.ShareURL,
		now:       opts.Now,
		log:       opts.Log,
		clip:      clipboard.WriteAll,
		nickname:  opts.Nickname,
		birthDate: opts.BirthDate,
		input:     ti,
		mode:      modeList,
	}
	if opts.Missing {
		m.mode = modeGone
		return m
	}
	if st, ok := stage.Classify(m.birthDate, m.now()); ok {
		m.current = st
		m.shown = st
		m.status = "Loading..."
		return m
	}
	if m.profiles != nil {
		m.mode = modeSetup
		m.input.Placeholder = "Nickname"
		m.input.Focus()
		m.status = "Welcome! Enter a nickname for your baby."
		return m
	}
	return m.startDateEdit()
}

func Run(opts Options) error {
	program := tea.NewProgram(New(opts))
	final, err := program.Run()
	if fm, ok := final.(Model); ok {
		fm.shutdown()
	}
	return err
}

func (m Model) shutdown() {
	m.cancel()
	if m.stop != nil {
		m.stop()
	}
}

func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if m.shown != "" {
		cmds = append(cmds, m.load(m.shown))
	}
	if m.sub != nil {
		cmds = append(cmds, m.subscribe())
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	case loadedMsg:
		cur, _ := m.store.Stage()
		if cur != m.shown && (msg.stage != m.shown || msg.err == nil) {
			// Loads finished out of order and left the store on a stage
			// the user already left.
			return m, m.load(m.shown)
		}
		if msg.stage != m.shown {
			return m, nil
		}
		m.cursor = 0
		m.refresh()
		if msg.err != nil {
			m.reportErr(msg.err)
		} else {
			m.status = "Showing " + string(msg.stage)
		}
	case mutatedMsg:
		m.refresh()
		if msg.err != nil {
			m.reportErr(msg.err)
		} else {
			m.status = msg.status
		}
	case editedMsg:
		if msg.err != nil {
			m.reportErr(msg.err)
			return m, nil
		}
		m.edit.Cancel()
		m.mode = modeList
		m.input.Blur()
		m.refresh()
		m.status = "Saved"
	case dateSavedMsg:
		return m.applyDate(msg)
	case subscribedMsg:
		if msg.err != nil {
			m.reportErr(msg.err)
			return m, nil
		}
		m.updates = msg.updates
		m.stop = msg.stop
		return m, waitSnapshot(m.updates)
	case snapshotMsg:
		return m.applySnapshot(checklist.Snapshot(msg))
	case copiedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("copy failed: %v (%s)", msg.err, m.shareURL)
		} else {
			m.status = "Share link copied: " + m.shareURL
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch m.mode {
	case modeGone:
		return m, tea.Quit
	case modeSetup:
		return m.updateSetupMode(key, msg)
	case modeAdd:
		return m.updateAddMode(key, msg)
	case modeEdit:
		return m.updateEditMode(key, msg)
	case modeDate:
		return m.updateDateMode(key, msg)
	case modeConfirmDelete:
		return m.updateDeleteConfirm(key)
	}
	return m.updateListMode(key)
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	k := m.keys
	switch key {
	case "ctrl+c", k.Quit:
		return m, tea.Quit
	case k.Down, "down":
		m.cursor = clampCursor(m.cursor+1, len(m.rows))
	case k.Up, "up":
		m.cursor = clampCursor(m.cursor-1, len(m.rows))
	case k.NextStage, "right":
		return m.cycleStage(1)
	case k.PrevStage, "left":
		return m.cycleStage(-1)
	case k.CurrentStage:
		if m.current == "" {
			return m, nil
		}
		m.shown = m.current
		return m, m.load(m.shown)
	case k.Date:
		return m.startDateEdit(), nil
	case k.Share:
		if m.shareURL == "" {
			m.status = "Sharing needs a cloud list: run `stepbaby share` first"
			return m, nil
		}
		url, write := m.shareURL, m.clip
		return m, func() tea.Msg { return copiedMsg{err: write(url)} }
	case k.Add:
		if m.shown == "" {
			return m, nil
		}
		m.mode = modeAdd
		m.add = addState{step: addText, choice: -1}
		m.input.SetValue("")
		m.input.Placeholder = "Task"
		m.input.Focus()
		m.status = "Add mode: type a task and press Enter"
	case k.Toggle:
		r, ok := m.selected()
		if !ok {
			return m, nil
		}
		if r.header {
			ids := r.ids
			return m, m.mutate("Toggled group "+r.group, func(ctx context.Context) error {
				return m.store.ToggleGroup(ctx, ids)
			})
		}
		id := r.task.ID
		return m, m.mutate("Toggled task", func(ctx context.Context) error {
			return m.store.ToggleTask(ctx, id)
		})
	case k.Delete:
		r, ok := m.selected()
		if !ok || r.header {
			return m, nil
		}
		t := r.task
		m.pendingDel = &t
		m.mode = modeConfirmDelete
		m.status = fmt.Sprintf("Delete \"%s\"? y/n", t.Text)
	case k.Edit:
		return m.startEdit(checklist.FieldText)
	case k.Memo:
		return m.startEdit(checklist.FieldMemo)
	}
	return m, nil
}

func (m Model) cycleStage(step int) (tea.Model, tea.Cmd) {
	all := stage.All()
	idx := stageIndex(m.shown)
	if idx < 0 {
		return m, nil
	}
	m.shown = all[wrapIndex(idx+step, len(all))]
	return m, m.load(m.shown)
}

func (m Model) startEdit(f checklist.Field) (tea.Model, tea.Cmd) {
	r, ok := m.selected()
	if !ok || r.header {
		return m, nil
	}
	current := r.task.Text
	if f == checklist.FieldMemo {
		current = r.task.Memo
	}
	m.edit.Begin(r.task.ID, f, current)
	m.mode = modeEdit
	m.input.SetValue(current)
	m.input.Placeholder = f.String()
	m.input.Focus()
	m.status = fmt.Sprintf("Editing %s: Enter to save, Esc to cancel", f)
	return m, nil
}

func (m Model) updateEditMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.keys.Cancel, "esc":
		m.edit.Cancel()
		m.mode = modeList
		m.input.Blur()
		m.status = "Edit cancelled"
		return m, nil
	case m.keys.Confirm, "enter":
		m.edit.Buffer = m.input.Value()
		edit, store, shown, ctx := m.edit, m.store, m.shown, m.ctx
		return m, func() tea.Msg {
			if err := ensureShown(store, shown); err != nil {
				return editedMsg{err: err}
			}
			return editedMsg{err: edit.Commit(ctx, store)}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateAddMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.keys.Cancel, "esc":
		m.mode = modeList
		m.input.SetValue("")
		m.input.Blur()
		m.status = "Cancelled"
		return m, nil
	case m.keys.Next:
		if len(m.add.choices) == 0 {
			return m, nil
		}
		m.add.choice = wrapIndex(m.add.choice+1, len(m.add.choices))
		m.input.SetValue(m.add.choices[m.add.choice])
		m.input.CursorEnd()
		return m, nil
	case m.keys.Confirm, "enter":
		value := strings.TrimSpace(m.input.Value())
		switch m.add.step {
		case addText:
			if value == "" {
				m.status = "Task cannot be empty"
				return m, nil
			}
			m.add.text = value
			m.add.step = addCategory
			m.add.choices = todo.Categories(m.store.Tasks())
			m.add.choice = -1
			m.input.SetValue("")
			m.input.Placeholder = "Category (" + todo.OtherCategory + ")"
			m.status = fmt.Sprintf("Category: %s to cycle existing, Enter to continue", m.keys.Next)
			return m, nil
		case addCategory:
			if value == "" {
				value = todo.OtherCategory
			}
			m.add.category = value
			if value == todo.OtherCategory {
				return m.submitAdd("")
			}
			m.add.step = addGroup
			m.add.choices = todo.GroupsIn(m.store.Tasks(), value)
			m.add.choice = -1
			m.input.SetValue("")
			m.input.Placeholder = "Group (optional)"
			m.status = fmt.Sprintf("Group: %s to cycle existing, Enter to add", m.keys.Next)
			return m, nil
		default:
			return m.submitAdd(value)
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submitAdd(group string) (tea.Model, tea.Cmd) {
	text, category := m.add.text, m.add.category
	m.add = addState{}
	m.mode = modeList
	m.input.SetValue("")
	m.input.Blur()
	m.cursor = 0
	return m, m.mutate("Added task", func(ctx context.Context) error {
		return m.store.AddTask(ctx, text, category, group)
	})
}

func (m Model) updateDeleteConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", m.keys.Cancel:
		m.status = "Delete cancelled"
		m.mode = modeList
		m.pendingDel = nil
		return m, nil
	case "y", "Y", m.keys.Confirm:
		if m.pendingDel == nil {
			m.mode = modeList
			return m, nil
		}
		id := m.pendingDel.ID
		m.mode = modeList
		m.pendingDel = nil
		return m, m.mutate("Deleted task", func(ctx context.Context) error {
			return m.store.DeleteTask(ctx, id)
		})
	}
	return m, nil
}

func (m Model) startDateEdit() Model {
	m.mode = modeDate
	m.input.SetValue(m.birthDate)
	m.input.Placeholder = stage.DateLayout
	m.input.Focus()
	m.status = "Birth or due date (YYYY-MM-DD): Enter to save"
	return m
}

func (m Model) updateDateMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.keys.Cancel, "esc":
		if m.shown == "" {
			return m, nil
		}
		m.mode = modeList
		m.input.Blur()
		m.status = "Cancelled"
		return m, nil
	case m.keys.Confirm, "enter":
		date := strings.TrimSpace(m.input.Value())
		if _, err := stage.ParseDate(date); err != nil {
			m.status = "Use the format YYYY-MM-DD"
			return m, nil
		}
		if m.dates == nil {
			return m, nil
		}
		dates, ctx := m.dates, m.ctx
		return m, func() tea.Msg {
			return dateSavedMsg{date: date, err: dates.SetBirthDate(ctx, date)}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateSetupMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c":
		return m, tea.Quit
	case m.keys.Confirm, "enter":
		value := strings.TrimSpace(m.input.Value())
		if !m.setup.askDate {
			if value == "" {
				m.status = "Nickname is required"
				return m, nil
			}
			m.setup = setupState{askDate: true, nickname: value}
			m.input.SetValue("")
			m.input.Placeholder = stage.DateLayout
			m.status = "Birth or due date (YYYY-MM-DD)"
			return m, nil
		}
		if _, err := stage.ParseDate(value); err != nil {
			m.status = "Use the format YYYY-MM-DD"
			return m, nil
		}
		nickname, profiles, ctx := m.setup.nickname, m.profiles, m.ctx
		return m, func() tea.Msg {
			return dateSavedMsg{nickname: nickname, date: value, err: profiles.SaveProfile(ctx, nickname, value)}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applyDate reclassifies after a saved date and shows the new current stage.
func (m Model) applyDate(msg dateSavedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.reportErr(msg.err)
		return m, nil
	}
	if msg.nickname != "" {
		m.nickname = msg.nickname
		m.setup = setupState{}
	}
	m.birthDate = msg.date
	st, ok := stage.Classify(m.birthDate, m.now())
	if !ok {
		return m, nil
	}
	m.current = st
	m.shown = st
	m.mode = modeList
	m.input.SetValue("")
	m.input.Blur()
	m.log.Info("birth date changed", "date", m.birthDate, "stage", st)
	return m, m.load(st)
}

func (m Model) applySnapshot(snap checklist.Snapshot) (tea.Model, tea.Cmd) {
	if errors.Is(snap.Err, remote.ErrListNotFound) {
		m.mode = modeGone
		m.input.Blur()
		return m, nil
	}
	next := waitSnapshot(m.updates)
	if snap.Err != nil {
		m.status = fmt.Sprintf("sync failed: %v", snap.Err)
		return m, next
	}
	if snap.BirthDate != "" && snap.BirthDate != m.birthDate {
		if st, ok := stage.Classify(snap.BirthDate, m.now()); ok {
			m.birthDate = snap.BirthDate
			m.current = st
			m.shown = st
			m.status = "Date changed elsewhere: " + snap.BirthDate
			return m, tea.Batch(next, m.load(st))
		}
	}
	if m.store.ApplySnapshot(snap) {
		m.refresh()
	}
	return m, next
}

func (m Model) load(st stage.Stage) tea.Cmd {
	store, ctx := m.store, m.ctx
	return func() tea.Msg {
		return loadedMsg{stage: st, err: store.LoadStage(ctx, st)}
	}
}

func (m Model) mutate(done string, fn func(context.Context) error) tea.Cmd {
	store, shown, ctx := m.store, m.shown, m.ctx
	return func() tea.Msg {
		if err := ensureShown(store, shown); err != nil {
			return mutatedMsg{err: err}
		}
		return mutatedMsg{status: done, err: fn(ctx)}
	}
}

// ensureShown rejects a mutation when the store holds a different stage
// than the one on screen.
func ensureShown(store *checklist.Store, shown stage.Stage) error {
	if cur, ok := store.Stage(); !ok || cur != shown {
		return fmt.Errorf("%w: %s", errStageLoading, shown)
	}
	return nil
}

func (m Model) subscribe() tea.Cmd {
	sub, ctx := m.sub, m.ctx
	return func() tea.Msg {
		ch := make(chan checklist.Snapshot, 1)
		stop, err := sub.Subscribe(ctx, func(s checklist.Snapshot) {
			select {
			case ch <- s:
			case <-ctx.Done():
			}
		})
		return subscribedMsg{updates: ch, stop: stop, err: err}
	}
}

func waitSnapshot(ch <-chan checklist.Snapshot) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m *Model) refresh() {
	if cur, _ := m.store.Stage(); cur != m.shown {
		m.rows = nil
		m.cursor = 0
		return
	}
	m.rows = buildRows(m.store.Grouped())
	m.cursor = clampCursor(m.cursor, len(m.rows))
}

func (m *Model) reportErr(err error) {
	if errors.Is(err, remote.ErrListNotFound) {
		m.mode = modeGone
		m.input.Blur()
		return
	}
	if errors.Is(err, errStageLoading) {
		m.status = "Still loading " + string(m.shown) + ", try again"
		return
	}
	m.log.Warn("operation failed", "err", err)
	var perr *checklist.PersistError
	if errors.As(err, &perr) {
		m.status = fmt.Sprintf("save failed: %v", perr.Err)
		return
	}
	m.status = fmt.Sprintf("error: %v", err)
}

func (m Model) selected() (row, bool) {
	if len(m.rows) == 0 {
		return row{}, false
	}
	return m.rows[clampCursor(m.cursor, len(m.rows))], true
}

func stageIndex(st stage.Stage) int {
	for i, s := range stage.All() {
		if s == st {
			return i
		}
	}
	return -1
}

func wrapIndex(idx, n int) int {
	if n <= 0 {
		return 0
	}
	idx %= n
	if idx < 0 {
		idx += n
	}
	return idx
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}
