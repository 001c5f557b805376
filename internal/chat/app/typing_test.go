package app

import (
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func typingTo(id string) domain.TypingPayload {
	return domain.TypingPayload{ReceiverID: id}
}

// 測試輸入後 2 秒沒有新輸入會送出 typing_stop
func TestTypingTracker_IdleStop(t *testing.T) {
	sched := scheduler.NewManualScheduler(t0)
	out := new(MockEmitter)
	out.On("Emit", domain.TypingStart, typingTo("42")).Return(nil).Twice()
	out.On("Emit", domain.TypingStop, typingTo("42")).Return(nil).Once()

	tr := NewTypingTracker(sched, out, 2*time.Second, nil)

	require.NoError(t, tr.InputChanged("42"))
	sched.Advance(1500 * time.Millisecond)
	require.NoError(t, tr.InputChanged("42"))

	// 計時器被重新設定, 第一次的 2 秒不會觸發
	sched.Advance(1 * time.Second)
	assert.Equal(t, "42", tr.LocalTarget())

	sched.Advance(1 * time.Second)
	assert.Equal(t, "", tr.LocalTarget())
	assert.False(t, sched.Pending(typingIdleKey))

	out.AssertExpectations(t)
}

func TestTypingTracker_StopLocal(t *testing.T) {
	sched := scheduler.NewManualScheduler(t0)
	out := new(MockEmitter)
	out.On("Emit", domain.TypingStart, typingTo("42")).Return(nil).Once()
	out.On("Emit", domain.TypingStop, typingTo("42")).Return(nil).Once()

	tr := NewTypingTracker(sched, out, 2*time.Second, nil)
	require.NoError(t, tr.InputChanged("42"))
	tr.StopLocal()
	tr.StopLocal()

	assert.False(t, sched.Pending(typingIdleKey))
	sched.Advance(5 * time.Second)
	out.AssertExpectations(t)
}

// 換對象時先對舊對象送 typing_stop
func TestTypingTracker_SwitchTarget(t *testing.T) {
	sched := scheduler.NewManualScheduler(t0)
	out := new(MockEmitter)
	out.On("Emit", domain.TypingStart, typingTo("42")).Return(nil).Once()
	out.On("Emit", domain.TypingStop, typingTo("42")).Return(nil).Once()
	out.On("Emit", domain.TypingStart, typingTo("7")).Return(nil).Once()

	tr := NewTypingTracker(sched, out, 2*time.Second, nil)
	require.NoError(t, tr.InputChanged("42"))
	require.NoError(t, tr.InputChanged("7"))

	assert.Equal(t, "7", tr.LocalTarget())
	out.AssertExpectations(t)
}

func TestTypingTracker_InputChangedErrors(t *testing.T) {
	sched := scheduler.NewManualScheduler(t0)
	out := new(MockEmitter)
	out.On("Emit", domain.TypingStart, mock.Anything).Return(domain.ErrNotConnected)

	tr := NewTypingTracker(sched, out, 2*time.Second, nil)
	assert.ErrorIs(t, tr.InputChanged(""), domain.ErrNoActiveConversation)
	assert.ErrorIs(t, tr.InputChanged("42"), domain.ErrNotConnected)
	assert.Equal(t, "", tr.LocalTarget())
	assert.False(t, sched.Pending(typingIdleKey))
}

// 對方的輸入中狀態沒有逾時, 只有明確 stop 才會清除
func TestTypingTracker_RemoteHasNoTimeout(t *testing.T) {
	sched := scheduler.NewManualScheduler(t0)
	tr := NewTypingTracker(sched, new(MockEmitter), 2*time.Second, nil)

	tr.ApplyRemote("42", "Alice", true)
	sched.Advance(time.Minute)
	assert.True(t, tr.IsTyping("42"))
	assert.Equal(t, []domain.TypingState{{UserID: "42", Username: "Alice", IsTyping: true}}, tr.Remote())

	tr.ApplyRemote("42", "Alice", false)
	assert.False(t, tr.IsTyping("42"))

	tr.ApplyRemote("42", "Alice", true)
	tr.ApplyRemote("7", "Bob", true)
	tr.ClearRemote("42")
	assert.False(t, tr.IsTyping("42"))
	tr.ResetRemote()
	assert.Empty(t, tr.Remote())
}
