package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

func TestDefault_CoversEveryStage(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.Equal(t, stage.All(), c.Stages())

	for _, s := range stage.All() {
		tasks := c.For(s)
		assert.NotEmpty(t, tasks, s)
		for _, task := range tasks {
			assert.Equal(t, string(s), task.Stage)
			assert.False(t, task.Done)
			assert.Empty(t, task.Memo)
			assert.NotEmpty(t, task.Category)
		}
	}
}

func TestDefault_NewbornSeed(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	tasks := c.For(stage.Newborn)
	i := todo.IndexOf(tasks, "1")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "Register birth", tasks[i].Text)
	assert.Equal(t, todo.High, tasks[i].Importance)
	assert.NotEmpty(t, tasks[i].Reason)
}

func TestFor_ReturnsCopy(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	first := c.For(stage.Newborn)
	first[0].Done = true
	assert.False(t, c.For(stage.Newborn)[0].Done)
	assert.Empty(t, c.For(stage.Stage("unknown")))
}

func TestAll_UniqueIDs(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, task := range c.All() {
		assert.False(t, seen[task.ID], task.ID)
		seen[task.ID] = true
	}
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown stage": "stages:\n  - stage: nope\n    tasks: []\n",
		"blank text":    "stages:\n  - stage: \"Newborn (birth to 1 month)\"\n    tasks:\n      - id: \"1\"\n        task: \"  \"\n",
		"duplicate id": "stages:\n  - stage: \"Newborn (birth to 1 month)\"\n    tasks:\n      - id: \"1\"\n        task: a\n" +
			"  - stage: \"Mid infancy (3-6 months)\"\n    tasks:\n      - id: \"1\"\n        task: b\n",
		"bad yaml": "stages: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoad_OverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := "stages:\n  - stage: \"Newborn (birth to 1 month)\"\n    tasks:\n      - id: \"x\"\n        task: Sleep\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	tasks := c.For(stage.Newborn)
	require.Len(t, tasks, 1)
	assert.Equal(t, todo.OtherCategory, tasks[0].Category)
	assert.Equal(t, todo.Medium, tasks[0].Importance)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
