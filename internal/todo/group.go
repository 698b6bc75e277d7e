package todo

// GroupedTasks is one named sub-list inside a category.
type GroupedTasks struct {
	Name  string
	Tasks []Task
}

// CategoryView is the display shape of a category: ungrouped tasks first,
// then groups in order of first appearance.
type CategoryView struct {
	Category string
	Single   []Task
	Groups   []GroupedTasks
}

// Group partitions tasks by category and group. Categories and groups keep
// the order in which they first appear in tasks. The result is a projection
// and is never persisted.
func Group(tasks []Task) []CategoryView {
	var views []CategoryView
	catIndex := map[string]int{}
	groupIndex := map[string]map[string]int{}

	for _, t := range tasks {
		ci, ok := catIndex[t.Category]
		if !ok {
			ci = len(views)
			catIndex[t.Category] = ci
			groupIndex[t.Category] = map[string]int{}
			views = append(views, CategoryView{Category: t.Category})
		}
		view := &views[ci]
		if t.Group == "" {
			view.Single = append(view.Single, t)
			continue
		}
		gi, ok := groupIndex[t.Category][t.Group]
		if !ok {
			gi = len(view.Groups)
			groupIndex[t.Category][t.Group] = gi
			view.Groups = append(view.Groups, GroupedTasks{Name: t.Group})
		}
		view.Groups[gi].Tasks = append(view.Groups[gi].Tasks, t)
	}
	return views
}

func (g GroupedTasks) IDs() []string {
	ids := make([]string, len(g.Tasks))
	for i, t := range g.Tasks {
		ids[i] = t.ID
	}
	return ids
}

func (g GroupedTasks) AllDone() bool {
	for _, t := range g.Tasks {
		if !t.Done {
			return false
		}
	}
	return true
}

// Categories lists the category choices offered when adding a task:
// OtherCategory first, then every distinct category in tasks.
func Categories(tasks []Task) []string {
	out := []string{OtherCategory}
	seen := map[string]struct{}{OtherCategory: {}}
	for _, t := range tasks {
		if _, ok := seen[t.Category]; ok {
			continue
		}
		seen[t.Category] = struct{}{}
		out = append(out, t.Category)
	}
	return out
}

// GroupsIn lists the distinct groups already used inside category.
// OtherCategory never offers groups.
func GroupsIn(tasks []Task, category string) []string {
	if category == OtherCategory {
		return nil
	}
	var out []string
	seen := map[string]struct{}{}
	for _, t := range tasks {
		if t.Category != category || t.Group == "" {
			continue
		}
		if _, ok := seen[t.Group]; ok {
			continue
		}
		seen[t.Group] = struct{}{}
		out = append(out, t.Group)
	}
	return out
}
