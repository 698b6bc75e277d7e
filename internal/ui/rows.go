package ui

import "github.com/keiwa-murasawa/stepbaby/internal/todo"

// row is one selectable line: a task, or the header of a group of tasks.
type row struct {
	category string
	group    string
	header   bool
	ids      []string
	allDone  bool
	task     todo.Task
}

func buildRows(views []todo.CategoryView) []row {
	var rows []row
	for _, v := range views {
		for _, t := range v.Single {
			rows = append(rows, row{category: v.Category, task: t})
		}
		for _, g := range v.Groups {
			rows = append(rows, row{
				category: v.Category,
				group:    g.Name,
				header:   true,
				ids:      g.IDs(),
				allDone:  g.AllDone(),
			})
			for _, t := range g.Tasks {
				rows = append(rows, row{category: v.Category, group: g.Name, task: t})
			}
		}
	}
	return rows
}
