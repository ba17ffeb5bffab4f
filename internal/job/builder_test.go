package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandUnmarshal(t *testing.T) {
	testCases := []struct {
		name     string
		payload  string
		expected Command
		wantErr  bool
	}{
		{name: "string form", payload: `"sleep 10"`, expected: StringCommand("sleep 10")},
		{name: "list form", payload: `["sleep","10"]`, expected: ListCommand("sleep", "10")},
		{name: "rejects a number", payload: `42`, wantErr: true},
		{name: "rejects an object", payload: `{"run":"sleep"}`, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var c Command
			err := json.Unmarshal([]byte(tc.payload), &c)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, c)
		})
	}
}

func TestBuild(t *testing.T) {
	t.Run("splits a string command with shell-word semantics", func(t *testing.T) {
		desc, err := Build(SubmitRequest{Command: StringCommand(`echo "hello world"`)}, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"echo", "hello world"}, desc.Argv)
	})

	t.Run("uses a list command verbatim", func(t *testing.T) {
		desc, err := Build(SubmitRequest{Command: ListCommand("echo", "a b", "$HOME")}, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"echo", "a b", "$HOME"}, desc.Argv)
	})

	t.Run("rejects a command that normalizes to nothing", func(t *testing.T) {
		_, err := Build(SubmitRequest{Command: StringCommand("   ")}, "")
		assert.Error(t, err)
	})

	t.Run("rejects an unbalanced quote", func(t *testing.T) {
		_, err := Build(SubmitRequest{Command: StringCommand(`echo "oops`)}, "")
		assert.Error(t, err)
	})

	t.Run("overlays envars on the process environment", func(t *testing.T) {
		t.Setenv("BUILDER_TEST_BASE", "inherited")
		t.Setenv("BUILDER_TEST_OVERRIDE", "old")

		desc, err := Build(SubmitRequest{
			Command: StringCommand("hostname"),
			Envars:  map[string]string{"BUILDER_TEST_OVERRIDE": "new", "BUILDER_TEST_EXTRA": "added"},
		}, "")
		require.NoError(t, err)

		assert.Equal(t, "inherited", desc.Environment["BUILDER_TEST_BASE"])
		assert.Equal(t, "new", desc.Environment["BUILDER_TEST_OVERRIDE"])
		assert.Equal(t, "added", desc.Environment["BUILDER_TEST_EXTRA"])
	})

	t.Run("carries request fields through", func(t *testing.T) {
		desc, err := Build(SubmitRequest{
			Command:      StringCommand("hostname"),
			Workdir:      "/tmp",
			NumTasks:     4,
			NumNodes:     2,
			CoresPerTask: 3,
			Exclusive:    true,
			Runtime:      3600,
			OptionFlags:  map[string]string{"ompi": "spectrum"},
		}, "alice")
		require.NoError(t, err)

		assert.Equal(t, "/tmp", desc.Workdir)
		assert.Equal(t, 4, desc.NumTasks)
		assert.Equal(t, 2, desc.NumNodes)
		assert.Equal(t, 3, desc.CoresPerTask)
		assert.True(t, desc.Exclusive)
		assert.Equal(t, 3600, desc.Duration)
		assert.Equal(t, map[string]string{"ompi": "spectrum"}, desc.Options)
		assert.Equal(t, "alice", desc.Owner)
	})
}

func TestJobspec(t *testing.T) {
	t.Run("minimal request becomes a single slot", func(t *testing.T) {
		desc, err := Build(SubmitRequest{Command: StringCommand("hostname")}, "")
		require.NoError(t, err)

		raw, err := desc.Jobspec()
		require.NoError(t, err)

		var spec map[string]any
		require.NoError(t, json.Unmarshal(raw, &spec))

		assert.EqualValues(t, 1, spec["version"])

		resources := spec["resources"].([]any)
		require.Len(t, resources, 1)
		slot := resources[0].(map[string]any)
		assert.Equal(t, "slot", slot["type"])
		assert.Equal(t, "task", slot["label"])

		tasks := spec["tasks"].([]any)
		require.Len(t, tasks, 1)
		task := tasks[0].(map[string]any)
		assert.Equal(t, []any{"hostname"}, task["command"])
	})

	t.Run("node count wraps the slot in a node resource", func(t *testing.T) {
		desc, err := Build(SubmitRequest{Command: StringCommand("hostname"), NumNodes: 2}, "")
		require.NoError(t, err)

		raw, err := desc.Jobspec()
		require.NoError(t, err)

		var spec map[string]any
		require.NoError(t, json.Unmarshal(raw, &spec))

		resources := spec["resources"].([]any)
		require.Len(t, resources, 1)
		node := resources[0].(map[string]any)
		assert.Equal(t, "node", node["type"])
		assert.EqualValues(t, 2, node["count"])

		inner := node["with"].([]any)
		require.Len(t, inner, 1)
		assert.Equal(t, "slot", inner[0].(map[string]any)["type"])
	})

	t.Run("owner is recorded in the user attributes", func(t *testing.T) {
		desc, err := Build(SubmitRequest{Command: StringCommand("hostname")}, "alice")
		require.NoError(t, err)

		raw, err := desc.Jobspec()
		require.NoError(t, err)

		var spec struct {
			Attributes struct {
				User string `json:"user"`
			} `json:"attributes"`
		}
		require.NoError(t, json.Unmarshal(raw, &spec))
		assert.Equal(t, "alice", spec.Attributes.User)
	})

	t.Run("marshaling is deterministic", func(t *testing.T) {
		desc, err := Build(SubmitRequest{
			Command:     StringCommand("hostname"),
			OptionFlags: map[string]string{"b": "2", "a": "1", "c": "3"},
		}, "")
		require.NoError(t, err)

		first, err := desc.Jobspec()
		require.NoError(t, err)
		for range 10 {
			next, err := desc.Jobspec()
			require.NoError(t, err)
			assert.Equal(t, string(first), string(next))
		}
	})
}
