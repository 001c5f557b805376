// Package scheduler runs delayed tasks keyed by the entity they guard.
// Scheduling a key that is already pending replaces the old task, and a task
// that was cancelled or replaced never runs, even if its timer already fired.
package scheduler

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Scheduler keyed, cancellable delayed tasks
type Scheduler interface {
	Schedule(key string, delay time.Duration, fn func())
	Cancel(key string) bool
	CancelPrefix(prefix string) int
	Pending(key string) bool
	Now() time.Time
}

type timerEntry struct {
	id    uint64
	timer *time.Timer
}

// TimerScheduler Scheduler backed by time.AfterFunc
type TimerScheduler struct {
	mu     sync.Mutex
	seq    uint64
	timers map[string]*timerEntry
}

// NewTimerScheduler create TimerScheduler
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{timers: make(map[string]*timerEntry)}
}

// Schedule run fn after delay on its own goroutine
func (s *TimerScheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}
	s.seq++
	id := s.seq
	e := &timerEntry{id: id}
	s.timers[key] = e
	e.timer = time.AfterFunc(delay, func() { s.fire(key, id, fn) })
}

func (s *TimerScheduler) fire(key string, id uint64, fn func()) {
	s.mu.Lock()
	e, ok := s.timers[key]
	if !ok || e.id != id {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	fn()
}

// Cancel stop the task under key
func (s *TimerScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, key)
	return true
}

// CancelPrefix stop every task whose key starts with prefix
func (s *TimerScheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.timers {
		if strings.HasPrefix(key, prefix) {
			e.timer.Stop()
			delete(s.timers, key)
			n++
		}
	}
	return n
}

// Pending report whether key has a task waiting
func (s *TimerScheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Now wall clock
func (s *TimerScheduler) Now() time.Time {
	return time.Now()
}

type manualTask struct {
	id uint64
	at time.Time
	fn func()
}

// ManualScheduler Scheduler driven by Advance, callbacks run on the caller's goroutine
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks map[string]*manualTask
}

// NewManualScheduler create ManualScheduler starting at start
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start, tasks: make(map[string]*manualTask)}
}

// Schedule queue fn at now+delay
func (m *ManualScheduler) Schedule(key string, delay time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.tasks[key] = &manualTask{id: m.seq, at: m.now.Add(delay), fn: fn}
}

// Cancel drop the task under key
func (m *ManualScheduler) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[key]; !ok {
		return false
	}
	delete(m.tasks, key)
	return true
}

// CancelPrefix drop every task whose key starts with prefix
func (m *ManualScheduler) CancelPrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.tasks {
		if strings.HasPrefix(key, prefix) {
			delete(m.tasks, key)
			n++
		}
	}
	return n
}

// Pending report whether key has a task waiting
func (m *ManualScheduler) Pending(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	return ok
}

// Now manual clock
func (m *ManualScheduler) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Keys pending keys, sorted
func (m *ManualScheduler) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.tasks))
	for key := range m.tasks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Advance move the clock forward by d and run every task that becomes due,
// earliest first. Tasks scheduled by callbacks also run if due before the target.
func (m *ManualScheduler) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	fired := 0
	for {
		m.mu.Lock()
		key, task := m.nextDueLocked(target)
		if task == nil {
			m.now = target
			m.mu.Unlock()
			return fired
		}
		delete(m.tasks, key)
		if task.at.After(m.now) {
			m.now = task.at
		}
		m.mu.Unlock()

		task.fn()
		fired++
	}
}

func (m *ManualScheduler) nextDueLocked(target time.Time) (string, *manualTask) {
	var (
		bestKey string
		best    *manualTask
	)
	for key, task := range m.tasks {
		if task.at.After(target) {
			continue
		}
		if best == nil || task.at.Before(best.at) || (task.at.Equal(best.at) && task.id < best.id) {
			bestKey, best = key, task
		}
	}
	return bestKey, best
}
