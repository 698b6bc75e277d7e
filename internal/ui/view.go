package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/keiwa-murasawa/stepbaby/internal/config"
	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tabStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	activeTab     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	categoryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	doneStyle     = lipgloss.NewStyle().Faint(true)
	memoStyle     = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	badgeStyles = map[todo.Importance]lipgloss.Style{
		todo.High:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("160")).Padding(0, 1),
		todo.Medium: lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")).Padding(0, 1),
		todo.Low:    lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("240")).Padding(0, 1),
	}
)

func (m Model) View() string {
	if m.mode == modeGone {
		return "This list was not found. It may have been deleted or the link is wrong.\n\nlist not found: press any key to exit\n"
	}

	var b strings.Builder
	title := "StepBaby"
	if m.nickname != "" {
		title += " · " + m.nickname
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	if m.mode == modeSetup {
		b.WriteString("\n")
		if m.setup.askDate {
			b.WriteString("Birth or due date\n")
		} else {
			b.WriteString("Nickname\n")
		}
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
		return b.String()
	}

	if m.shown != "" {
		b.WriteString(m.renderTabs())
		b.WriteString("\n")
		b.WriteString(tabStyle.Render("Date: " + m.birthDate))
		b.WriteString("\n\n")
		if len(m.rows) == 0 {
			b.WriteString(fmt.Sprintf("No tasks for this stage. Press '%s' to add one.", m.keys.Add))
		} else {
			b.WriteString(m.renderRows())
		}
	}

	b.WriteString("\n---\n")
	switch m.mode {
	case modeAdd:
		b.WriteString(addPrompt(m.add.step))
		b.WriteString("\n")
		b.WriteString(m.input.View())
	case modeEdit:
		b.WriteString("Edit " + m.edit.Field.String())
		b.WriteString("\n")
		b.WriteString(m.input.View())
	case modeDate:
		b.WriteString("Birth or due date")
		b.WriteString("\n")
		b.WriteString(m.input.View())
	default:
		b.WriteString(m.renderDetail())
	}

	b.WriteString("\n\n")
	b.WriteString(statusStyle.Render(m.status))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(renderHelp(m.keys)))
	return b.String()
}

// renderTabs lists every stage in order and marks the displayed one and the
// one the date currently falls into.
func (m Model) renderTabs() string {
	var tabs []string
	for i, st := range stage.All() {
		label := fmt.Sprintf("%d", i+1)
		if st == m.shown {
			label = activeTab.Render(fmt.Sprintf("[%d]", i+1))
		} else {
			label = tabStyle.Render(label)
		}
		tabs = append(tabs, label)
	}
	heading := string(m.shown)
	if m.shown == m.current {
		heading += " (current)"
	}
	return strings.Join(tabs, " ") + "  " + activeTab.Render(heading)
}

func (m Model) renderRows() string {
	var b strings.Builder
	lastCategory := ""
	for i, r := range m.rows {
		if i == 0 || r.category != lastCategory {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(categoryStyle.Render(r.category))
			b.WriteString("\n")
			lastCategory = r.category
		}

		cursor := " "
		if m.cursor == i && m.mode == modeList {
			cursor = ">"
		}

		if r.header {
			b.WriteString(fmt.Sprintf("%s %s %s (%d)\n", cursor, checkbox(r.allDone), r.group, len(r.ids)))
			continue
		}

		indent := "  "
		if r.group != "" {
			indent = "    "
		}
		text := r.task.Text
		if r.task.Done {
			text = doneStyle.Render(text)
		}
		line := fmt.Sprintf("%s%s%s %s %s", cursor, indent, checkbox(r.task.Done), badge(r.task.Importance), text)
		if r.task.Memo != "" {
			line += "  " + memoStyle.Render("- "+r.task.Memo)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderDetail() string {
	r, ok := m.selected()
	if !ok {
		return "No task selected"
	}
	if r.header {
		return fmt.Sprintf("Group %s: %s toggles all %d tasks", r.group, displayKey(m.keys.Toggle), len(r.ids))
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Task       : %s\n", r.task.Text))
	b.WriteString(fmt.Sprintf("Importance : %s\n", r.task.Importance))
	b.WriteString(fmt.Sprintf("Memo       : %s", emptyPlaceholder(r.task.Memo)))
	if r.task.Reason != "" {
		b.WriteString(fmt.Sprintf("\nWhy        : %s", r.task.Reason))
	}
	return b.String()
}

func addPrompt(step addStep) string {
	switch step {
	case addCategory:
		return "Category"
	case addGroup:
		return "Group"
	default:
		return "New task"
	}
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s toggle • %s add • %s edit • %s memo • %s delete • %s/%s stage • %s current • %s date • %s share • %s quit",
		k.Up, k.Down, displayKey(k.Toggle), k.Add, k.Edit, k.Memo, k.Delete, k.NextStage, k.PrevStage, k.CurrentStage, k.Date, k.Share, k.Quit)
}

func badge(i todo.Importance) string {
	style, ok := badgeStyles[i]
	if !ok {
		style = badgeStyles[todo.Medium]
	}
	return style.Render(string(i))
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func displayKey(k string) string {
	if k == " " {
		return "space"
	}
	return k
}

func emptyPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(empty)"
	}
	return v
}
