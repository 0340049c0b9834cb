package file

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
)

const sample = `
triggers:
  - id: nightly-load
    cron: "30 2 * * *"
    projectId: sales
    pipelineId: load-orders
  - id: weekly-report
    cron: "0 9 * * 1"
    projectId: sales
    pipelineId: report
    disabled: true
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSource_ListTriggerDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	writeFile(t, path, sample)

	defs, err := New(path).ListTriggerDefinitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, domain.TriggerDefinition{
		ID:         "nightly-load",
		Expression: "30 2 * * *",
		Payload:    domain.JobPayload{ProjectID: "sales", PipelineID: "load-orders"},
	}, defs[0])
	assert.True(t, defs[1].Disabled)
}

func TestSource_MissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.yaml")).ListTriggerDefinitions(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"empty file", "", 0, false},
		{"empty list", "triggers: []\n", 0, false},
		{"unknown key", "triggers:\n  - id: a\n    schedule: \"* * * * *\"\n", 0, true},
		{"not a list", "triggers: nope\n", 0, true},
		{"sample", sample, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := Decode([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, defs, tt.want)
		})
	}
}

func TestSource_WatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triggers.yaml")
	writeFile(t, path, sample)

	src := New(path).WithDebounce(20 * time.Millisecond)

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, func() { calls.Add(1) }) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(dir, "other.yaml"), "ignored")
	writeFile(t, path, "triggers: []\n")

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
