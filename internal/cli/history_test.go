package cli

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvassync/internal/canvas"
)

func seedHistory(t *testing.T, f *hubFixture) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	saves := []canvas.Snapshot{
		{Elements: []canvas.Element{{ID: "a", Kind: canvas.KindText}}, UserID: "alice", LastUpdated: base},
		{Elements: []canvas.Element{{ID: "a", Kind: canvas.KindText}, {ID: "b", Kind: canvas.KindStroke}}, UserID: "bob", LastUpdated: base.Add(time.Minute)},
		{Elements: []canvas.Element{{ID: "b", Kind: canvas.KindStroke}}, UserID: "alice", LastUpdated: base.Add(2 * time.Minute)},
	}
	for _, s := range saves {
		_, err := f.repo.Save(ctx, "home", s)
		require.NoError(t, err)
	}
}

func TestHistory_RequiresToken(t *testing.T) {
	_, err := execute(t, "", "history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "a token is required")
}

func TestHistory_Text(t *testing.T) {
	f := startHub(t)
	seedHistory(t, f)

	out, err := execute(t, "", "history", "--api-url", f.apiURL, "--token", "t-bob")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "2026-04-02T08:02:00Z  alice"), lines[0])
	assert.Contains(t, lines[0], "1 element(s)")
	assert.Contains(t, lines[1], "bob")
	assert.Contains(t, lines[1], "2 element(s)")
}

func TestHistory_JSONWithLimit(t *testing.T) {
	f := startHub(t)
	seedHistory(t, f)

	out, err := execute(t, "", "history", "--api-url", f.apiURL, "--token", "t-alice", "--limit", "2", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   []HistoryEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, []string{"b"}, resp.Data[0].IDs)
	assert.Equal(t, []string{"a", "b"}, resp.Data[1].IDs)
	assert.Equal(t, "bob", resp.Data[1].Author)
}

func TestHistory_Empty(t *testing.T) {
	f := startHub(t)

	out, err := execute(t, "", "history", "--api-url", f.apiURL, "--token", "t-alice")
	require.NoError(t, err)
	assert.Equal(t, "No saved snapshots.\n", out)
}

func TestHistory_RejectedToken(t *testing.T) {
	f := startHub(t)

	_, err := execute(t, "", "history", "--api-url", f.apiURL, "--token", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "token rejected by hub")
}
