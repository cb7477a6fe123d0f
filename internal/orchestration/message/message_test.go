package message

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_NormalizesPriorityAndType(t *testing.T) {
	msg := New("architect", "developer", "", "hello", "urgent")

	require.NotEmpty(t, msg.ID)
	require.Equal(t, PriorityNormal, msg.Priority)
	require.Equal(t, MessageInfo, msg.Type)
	require.False(t, msg.Timestamp.IsZero())
	require.False(t, msg.Acknowledged)
}

func TestNew_UniqueIDs(t *testing.T) {
	a := New("a", "b", MessageInfo, nil, PriorityHigh)
	b := New("a", "b", MessageInfo, nil, PriorityHigh)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, PriorityHigh, a.Priority)
}

func TestPriority_Valid(t *testing.T) {
	tests := []struct {
		priority Priority
		valid    bool
	}{
		{PriorityLow, true},
		{PriorityNormal, true},
		{PriorityHigh, true},
		{"", false},
		{"critical", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			require.Equal(t, tt.valid, tt.priority.Valid())
		})
	}
}

func TestMessage_IsReplyTo(t *testing.T) {
	reply := New("qa", "orchestrator", MessageResponse, "ok", PriorityNormal)
	reply.CorrelationID = "corr-1"

	require.True(t, reply.IsReplyTo("corr-1"))
	require.False(t, reply.IsReplyTo("corr-2"))
	require.False(t, reply.IsReplyTo(""))

	plain := New("qa", "orchestrator", MessageInfo, "ok", PriorityNormal)
	plain.CorrelationID = "corr-1"
	require.False(t, plain.IsReplyTo("corr-1"), "only responses resolve requests")
}

func TestHistory_TrimsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(New("a", "b", MessageInfo, fmt.Sprint(i), PriorityNormal))
	}

	require.Equal(t, 3, h.Count())
	entries := h.Entries(0)
	require.Equal(t, "2", entries[0].Payload)
	require.Equal(t, "4", entries[2].Payload)

	last := h.Entries(1)
	require.Len(t, last, 1)
	require.Equal(t, "4", last[0].Payload)
}

func TestHistory_DefaultLimit(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistoryLimit+10; i++ {
		h.Append(New("a", "b", MessageInfo, i, PriorityNormal))
	}
	require.Equal(t, DefaultHistoryLimit, h.Count())
	require.Equal(t, 10, h.Entries(0)[0].Payload)
}

func TestHistory_Acknowledge(t *testing.T) {
	h := NewHistory(10)
	msg := New("a", "b", MessageInfo, nil, PriorityNormal)
	h.Append(msg)

	require.True(t, h.Acknowledge(msg.ID))
	require.True(t, h.Entries(0)[0].Acknowledged)
	require.False(t, h.Acknowledge("missing"))

	h.Clear()
	require.Zero(t, h.Count())
}
