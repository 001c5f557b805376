package main

import (
	"bytes"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 測試指令解析
func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand("/send 42 teacher hi there")
	require.NoError(t, err)
	assert.Equal(t, "send", cmd.name)
	assert.Equal(t, []string{"42", "teacher"}, cmd.args)
	assert.Equal(t, "hi there", cmd.text)

	cmd, err = parseCommand("  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "say", cmd.name)
	assert.Equal(t, "hello", cmd.text)

	cmd, err = parseCommand("/read")
	require.NoError(t, err)
	assert.Empty(t, optional(cmd.args))

	_, err = parseCommand("/open")
	assert.Error(t, err)
	_, err = parseCommand("/send 42 hi")
	assert.Error(t, err)
	_, err = parseCommand("/dance")
	assert.Error(t, err)
}

// 測試快照只印目前對話的新訊息, 且每則只印一次
func TestConsole_OnSnapshotPrintsNewMessagesOnce(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(nil, nil, &out)
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	snap := domain.Snapshot{
		Identity:  domain.Identity{UserID: "me", Username: "me"},
		Connected: true,
		Active:    "42",
		Messages: []domain.Message{
			{ID: 1, SenderID: "42", ReceiverID: "me", SenderName: "Ann", Body: "hello", Timestamp: at, Status: domain.StatusSent},
			{ID: 2, SenderID: "7", ReceiverID: "me", Body: "other thread", Timestamp: at, Status: domain.StatusSent},
			{ID: 3, SenderID: "me", ReceiverID: "42", Body: "mine", Timestamp: at, Status: domain.StatusSent},
		},
	}
	c.onSnapshot(snap)
	c.onSnapshot(snap)

	text := out.String()
	assert.Contains(t, text, "* connected")
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("Ann: hello")))
	assert.NotContains(t, text, "other thread")
	assert.NotContains(t, text, "mine")
}

// 測試連線中斷提示
func TestConsole_OnSnapshotReportsDown(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(nil, nil, &out)

	c.onSnapshot(domain.Snapshot{Connected: true})
	c.onSnapshot(domain.Snapshot{Down: true, LastError: "connection refused"})
	c.onSnapshot(domain.Snapshot{Down: true, LastError: "connection refused"})

	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("connection down: connection refused")))
	assert.Contains(t, out.String(), "* disconnected")
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, domain.Snapshot{
		Identity:  domain.Identity{Username: "me"},
		Connected: true,
		Version:   3,
		Unread:    2,
		Active:    "42",
		Conversations: []domain.Conversation{
			{UserID: "42", Username: "Ann", Role: "teacher", LastMessage: "see you", UnreadCount: 2, IsOnline: true},
		},
	})
	assert.Contains(t, out.String(), "== me (online) v3, 2 unread")
	assert.Contains(t, out.String(), "see you <")
}
