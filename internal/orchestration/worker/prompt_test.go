package worker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/devteam/internal/orchestration/client"
	"github.com/zjrosen/devteam/internal/orchestration/message"
)

func TestBuildMessages(t *testing.T) {
	inbox := []message.Message{{From: "orchestrator", Type: message.MessagePhaseComplete, Payload: "requirements"}}
	msgs, err := buildMessages(RoleArchitect, TaskDesignArchitecture, "Build a blog",
		[]section{jsonSection("Requirements", Requirements{Summary: "blog"})}, inbox)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.Equal(t, client.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "You are the software architect")
	task, ok := ParseTask(msgs[0].Content)
	require.True(t, ok)
	require.Equal(t, TaskDesignArchitecture, task)

	require.Equal(t, client.RoleUser, msgs[1].Role)
	require.Equal(t, "Build a blog", ParseRequest(msgs[1].Content))
	require.Contains(t, msgs[1].Content, "## Requirements\n```json\n{\n  \"summary\": \"blog\"")
	require.Contains(t, msgs[1].Content, "- orchestrator (phase_complete): requirements")
}

func TestParseTask_Missing(t *testing.T) {
	_, ok := ParseTask("no task here")
	require.False(t, ok)
	require.Empty(t, ParseRequest("nothing"))
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr error
	}{
		{name: "bare object", content: `{"score": 91}`, want: 91},
		{name: "fenced", content: "Here you go:\n```json\n{\"score\": 42}\n```\nThanks", want: 42},
		{name: "prose around braces", content: `The report is {"score": 7} as requested.`, want: 7},
		{name: "no json", content: "I cannot help with that", wantErr: ErrNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out QAReport
			err := DecodeResponse(tt.content, &out)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, out.Score)
		})
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	var out QAReport
	err := DecodeResponse(`{"score": "high"}`, &out)
	require.ErrorContains(t, err, "decode model response")
}
