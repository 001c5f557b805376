package app

import (
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const localUser = "me"

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id int64, from, to, body string, at time.Duration, read bool) domain.Message {
	return domain.Message{
		ID:         id,
		SenderID:   from,
		ReceiverID: to,
		Body:       body,
		Timestamp:  t0.Add(at),
		IsRead:     read,
	}
}

// 測試同一則訊息收到兩次只留一筆
func TestMessageStore_AppendIncomingDedup(t *testing.T) {
	s := NewMessageStore()

	assert.True(t, s.AppendIncoming(msg(1, "42", localUser, "hi", 0, false)))
	assert.False(t, s.AppendIncoming(msg(1, "42", localUser, "hi again", 0, false)))

	require.Equal(t, 1, s.Len())
	m, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "hi", m.Body)
	assert.Equal(t, domain.StatusDelivered, m.Status)
}

func TestMessageStore_AppendIncomingRead(t *testing.T) {
	s := NewMessageStore()
	s.AppendIncoming(msg(1, "42", localUser, "hi", 0, true))

	m, _ := s.Get(1)
	assert.Equal(t, domain.StatusRead, m.Status)
	assert.True(t, m.IsRead)
}

// 測試樂觀送出後被伺服器確認取代
func TestMessageStore_OptimisticReconcile(t *testing.T) {
	s := NewMessageStore()

	first := s.AppendOptimistic(domain.Message{SenderID: localUser, ReceiverID: "42", Body: "hello", ClientRef: "ref-1"})
	second := s.AppendOptimistic(domain.Message{SenderID: localUser, ReceiverID: "42", Body: "hello", ClientRef: "ref-2"})
	assert.True(t, first.Optimistic())
	assert.True(t, second.Optimistic())
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, domain.StatusSent, first.Status)

	replaced := s.AppendOwnConfirmed(msg(100, localUser, "42", "hello", time.Second, false))
	assert.True(t, replaced)
	require.Equal(t, 2, s.Len())

	confirmed, ok := s.Get(100)
	require.True(t, ok)
	assert.Equal(t, domain.StatusDelivered, confirmed.Status)
	assert.Equal(t, "ref-1", confirmed.ClientRef)

	_, ok = s.Get(first.ID)
	assert.False(t, ok)
	_, ok = s.Get(second.ID)
	assert.True(t, ok)

	// 同一筆確認再來一次, 只會原地更新
	assert.True(t, s.AppendOwnConfirmed(msg(100, localUser, "42", "hello", time.Second, false)))
	assert.Equal(t, 2, s.Len())
}

func TestMessageStore_ConfirmWithoutOptimistic(t *testing.T) {
	s := NewMessageStore()
	assert.False(t, s.AppendOwnConfirmed(msg(5, localUser, "42", "from another tab", 0, false)))
	assert.Equal(t, 1, s.Len())
}

// 測試狀態只會前進
func TestMessageStore_UpdateStatusMonotonic(t *testing.T) {
	s := NewMessageStore()
	sent := s.AppendOptimistic(domain.Message{SenderID: localUser, ReceiverID: "42", Body: "x"})

	assert.True(t, s.UpdateStatus(sent.ID, domain.StatusRead))
	assert.False(t, s.UpdateStatus(sent.ID, domain.StatusDelivered))
	assert.False(t, s.UpdateStatus(sent.ID, domain.StatusSent))

	m, _ := s.Get(sent.ID)
	assert.Equal(t, domain.StatusRead, m.Status)
	assert.True(t, m.IsRead)

	assert.False(t, s.UpdateStatus(999, domain.StatusRead))
}

func TestMessageStore_MarkReadForCounterpart(t *testing.T) {
	s := NewMessageStore()
	s.AppendIncoming(msg(1, "42", localUser, "a", 0, false))
	s.AppendIncoming(msg(2, "42", localUser, "b", time.Second, true))
	s.AppendIncoming(msg(3, "7", localUser, "c", 2*time.Second, false))
	s.AppendIncoming(msg(4, localUser, "42", "d", 3*time.Second, false))

	changed := s.MarkReadForCounterpart(localUser, "42")
	assert.Equal(t, []int64{1}, changed)

	m, _ := s.Get(3)
	assert.False(t, m.IsRead)
	m, _ = s.Get(4)
	assert.False(t, m.IsRead, "own messages are not flipped")

	assert.Empty(t, s.MarkReadForCounterpart(localUser, "42"))
}

// 測試歷史合併: upsert, 依時間排序, 狀態不倒退
func TestMessageStore_MergeHistory(t *testing.T) {
	s := NewMessageStore()
	s.AppendIncoming(msg(2, "42", localUser, "b", 2*time.Second, false))
	s.UpdateStatus(2, domain.StatusRead)

	added := s.MergeHistory([]domain.Message{
		msg(3, localUser, "42", "c", 3*time.Second, false),
		msg(1, "42", localUser, "a", time.Second, false),
		msg(2, "42", localUser, "b", 2*time.Second, false),
	})
	assert.Equal(t, 2, added)

	all := s.Messages()
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, domain.StatusRead, all[1].Status)

	m, ok := s.Get(3)
	require.True(t, ok)
	assert.Equal(t, "c", m.Body)
}

// 測試歷史先到: 樂觀訊息被歷史紀錄取代, 之後的確認只原地更新
func TestMessageStore_HistoryBeforeConfirmation(t *testing.T) {
	s := NewMessageStore()
	pending := s.AppendOptimistic(domain.Message{SenderID: localUser, ReceiverID: "42", Body: "hi", ClientRef: "ref-1"})

	added := s.MergeHistory([]domain.Message{msg(10, localUser, "42", "hi", time.Second, false)})
	assert.Equal(t, 0, added)
	require.Equal(t, 1, s.Len())
	_, ok := s.Get(pending.ID)
	assert.False(t, ok)

	assert.True(t, s.AppendOwnConfirmed(msg(10, localUser, "42", "hi", time.Second, false)))

	thread := s.Thread(localUser, "42")
	require.Len(t, thread, 1)
	assert.Equal(t, int64(10), thread[0].ID)
	assert.Equal(t, domain.StatusDelivered, thread[0].Status)
	assert.Equal(t, "ref-1", thread[0].ClientRef)
}

// 測試確認的 id 已存在時, 仍會吸收對應的樂觀副本
func TestMessageStore_ConfirmAbsorbsPendingCopy(t *testing.T) {
	s := NewMessageStore()
	s.AppendOptimistic(domain.Message{SenderID: localUser, ReceiverID: "42", Body: "hi", ClientRef: "ref-1"})
	s.AppendIncoming(msg(10, localUser, "42", "hi", time.Second, false))
	require.Equal(t, 2, s.Len())

	assert.True(t, s.AppendOwnConfirmed(msg(10, localUser, "42", "hi", time.Second, false)))

	all := s.Messages()
	require.Len(t, all, 1)
	assert.Equal(t, int64(10), all[0].ID)
	assert.Equal(t, "ref-1", all[0].ClientRef)
}

// 測試伺服器帶來的 status 欄位仍與 isRead 一致
func TestMessageStore_ServerStatusNormalized(t *testing.T) {
	s := NewMessageStore()
	m := msg(1, "42", localUser, "a", 0, false)
	m.Status = domain.StatusSent
	s.AppendIncoming(m)

	got, _ := s.Get(1)
	assert.Equal(t, domain.StatusDelivered, got.Status)

	m = msg(2, "42", localUser, "b", 0, false)
	m.Status = domain.StatusRead
	s.AppendIncoming(m)
	got, _ = s.Get(2)
	assert.True(t, got.IsRead)

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestMessageStore_Counterparts(t *testing.T) {
	s := NewMessageStore()
	s.AppendIncoming(msg(1, "42", localUser, "a", 0, false))
	s.AppendIncoming(msg(2, localUser, "7", "b", time.Second, false))
	s.AppendIncoming(msg(3, "42", localUser, "c", 2*time.Second, false))
	s.AppendIncoming(msg(4, "x", "y", "not mine", 3*time.Second, false))

	assert.Equal(t, []string{"42", "7"}, s.Counterparts(localUser))
	assert.Len(t, s.Thread(localUser, "42"), 2)
}

// 回傳的是複本, 改了不影響 store
func TestMessageStore_CopiesAreIsolated(t *testing.T) {
	s := NewMessageStore()
	ref := int64(9)
	m := msg(1, "42", localUser, "a", 0, false)
	m.AssignmentID = &ref
	s.AppendIncoming(m)

	out := s.Messages()
	out[0].Body = "changed"
	*out[0].AssignmentID = 10

	got, _ := s.Get(1)
	assert.Equal(t, "a", got.Body)
	assert.Equal(t, int64(9), *got.AssignmentID)
}
