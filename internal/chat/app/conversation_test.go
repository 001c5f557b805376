package app

import (
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 測試對象 "42" 的歷史: 兩則未讀, 最後一則為時間最新的那則
func TestAggregate_HistoryScenario(t *testing.T) {
	msgs := []domain.Message{
		msg(3, "42", localUser, "latest", 3*time.Minute, false),
		msg(1, "42", localUser, "first", time.Minute, false),
		msg(2, localUser, "42", "reply", 2*time.Minute, false),
	}
	msgs[0].SenderName = "Alice"
	msgs[0].SenderRole = "tutor"

	convs := Aggregate(localUser, msgs, nil)
	require.Len(t, convs, 1)
	c := convs[0]
	assert.Equal(t, "42", c.UserID)
	assert.Equal(t, 2, c.UnreadCount)
	assert.Equal(t, "latest", c.LastMessage)
	assert.Equal(t, t0.Add(3*time.Minute), c.LastTimestamp)
	assert.Equal(t, "Alice", c.Username)
	assert.Equal(t, "tutor", c.Role)
	assert.False(t, c.IsOnline)
}

func TestAggregate_SortAndPresence(t *testing.T) {
	p := newTestPresence()
	p.ApplyOnline(domain.OnlineUser{UserID: "7", Username: "Bob", Role: "student"})
	p.ApplyOnline(domain.OnlineUser{UserID: "99", Username: "NoMessages"})

	msgs := []domain.Message{
		msg(1, "42", localUser, "old", time.Minute, true),
		msg(2, localUser, "7", "new", 2*time.Minute, false),
		msg(3, "x", "y", "not mine", 3*time.Minute, false),
	}
	msgs[1].ReceiverRole = "student"

	convs := Aggregate(localUser, msgs, p)
	require.Len(t, convs, 2, "presence alone never creates a conversation")

	assert.Equal(t, "7", convs[0].UserID)
	assert.Equal(t, "Bob", convs[0].Username)
	assert.Equal(t, "student", convs[0].Role)
	assert.True(t, convs[0].IsOnline)
	assert.Equal(t, 0, convs[0].UnreadCount, "own messages never count as unread")

	assert.Equal(t, "42", convs[1].UserID)
	assert.Equal(t, "42", convs[1].Username)
	assert.False(t, convs[1].IsOnline)
}

// isOnline 每次重算時從 presence 取, 不凍結在訊息上
func TestConversationAggregator_RecomputeFollowsPresence(t *testing.T) {
	p := newTestPresence()
	a := NewConversationAggregator()
	a.SetLocal(localUser)
	msgs := []domain.Message{msg(1, "42", localUser, "a", 0, false)}

	convs := a.Recompute(msgs, p)
	require.Len(t, convs, 1)
	assert.False(t, convs[0].IsOnline)

	p.ApplyOnline(domain.OnlineUser{UserID: "42"})
	convs = a.Recompute(msgs, p)
	assert.True(t, convs[0].IsOnline)
	assert.Equal(t, 1, a.Unread())
}

func TestConversationAggregator_NoLocal(t *testing.T) {
	a := NewConversationAggregator()
	assert.Empty(t, a.Recompute([]domain.Message{msg(1, "42", localUser, "a", 0, false)}, nil))
	assert.Equal(t, 0, a.Unread())
}

// 未讀數等於寄給本地使用者且未讀的訊息數
func TestAggregate_UnreadMatchesDefinition(t *testing.T) {
	var msgs []domain.Message
	want := 0
	for i := int64(1); i <= 20; i++ {
		from, to := "42", localUser
		if i%3 == 0 {
			from, to = localUser, "42"
		}
		read := i%4 == 0
		if to == localUser && !read {
			want++
		}
		msgs = append(msgs, msg(i, from, to, "m", time.Duration(i)*time.Second, read))
	}

	convs := Aggregate(localUser, msgs, nil)
	require.Len(t, convs, 1)
	assert.Equal(t, want, convs[0].UnreadCount)
	assert.Equal(t, t0.Add(20*time.Second), convs[0].LastTimestamp)
}
