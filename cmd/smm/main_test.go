package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smmswarm/internal/chat"
	"smmswarm/internal/images"
	"smmswarm/internal/orchestrator"
)

type recordingAnswerer struct{ calls int }

func (r *recordingAnswerer) Answer(context.Context, string, string, any) (*orchestrator.Outcome, error) {
	r.calls++
	return &orchestrator.Outcome{Status: orchestrator.StatusDone}, nil
}

func TestClarifyWithoutTerminalStops(t *testing.T) {
	svc := &recordingAnswerer{}
	out := &orchestrator.Outcome{
		Status:    orchestrator.StatusNeedInfo,
		SessionID: "s1",
		Questions: []orchestrator.Question{{Key: "audience", Question: "Who buys?"}},
	}
	_, err := clarify(context.Background(), svc, out, false)
	assert.ErrorIs(t, err, errNeedInfo)
	assert.Zero(t, svc.calls)
}

func TestClarifyDoneOutcomePassesThrough(t *testing.T) {
	done := &orchestrator.Outcome{Status: orchestrator.StatusDone}
	out, err := clarify(context.Background(), &recordingAnswerer{}, done, false)
	require.NoError(t, err)
	assert.Same(t, done, out)
}

type mapOpener map[string]string

func (m mapOpener) Open(_ context.Context, id string) (io.ReadCloser, error) {
	data, ok := m[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func TestExportImages(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	store := mapOpener{"a": "first", "b": "second"}

	paths, err := exportImages(context.Background(), store, &images.Result{ImageIDs: []string{"a", "b"}}, dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	data, err := os.ReadFile(filepath.Join(dir, "b.png"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	_, err = exportImages(context.Background(), store, &images.Result{ImageIDs: []string{"missing"}}, dir)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "*****", maskSecret("short"))
	assert.Equal(t, "sk-a********wxyz", maskSecret("sk-abcdefghiwxyz"))
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "smm dev\n", buf.String())
}

func TestConfigInitWritesStarter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smm.yaml")
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "light_model: gpt-4o-mini")

	cmd = NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"config", "init", path})
	assert.Error(t, cmd.Execute(), "existing files are kept")
}

type stubMessenger struct{ user, text string }

func (s *stubMessenger) Message(_ context.Context, user, text string) (*chat.Response, error) {
	s.user, s.text = user, text
	return &chat.Response{
		Reply:            "Run a giveaway with a partner cafe",
		FollowUpQuestion: "Which city?",
		Actions:          []chat.Action{{Type: "suggestion", Text: "Write the giveaway post"}},
	}, nil
}

func TestSendChatPrintsReplyAndActions(t *testing.T) {
	svc := &stubMessenger{}
	var buf bytes.Buffer
	require.NoError(t, sendChat(context.Background(), &buf, svc, "cli", "more followers", false))

	assert.Equal(t, "cli", svc.user)
	assert.Equal(t, "more followers", svc.text)
	out := buf.String()
	assert.Contains(t, out, "Run a giveaway with a partner cafe")
	assert.Contains(t, out, "Which city?")
	assert.Contains(t, out, "Write the giveaway post")

	buf.Reset()
	require.NoError(t, sendChat(context.Background(), &buf, svc, "cli", "again", true))
	assert.Contains(t, buf.String(), `"follow_up_question": "Which city?"`)
}
