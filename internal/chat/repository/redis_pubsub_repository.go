package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/database"
	"chat_sync_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ViewPublisher 將 engine 的 Snapshot 推送給其他 process (dashboard, 通知服務)
type ViewPublisher interface {
	Publish(ctx context.Context, snap domain.Snapshot) error
}

// redisPubSubClient subset of *redis.Client used for pub/sub
type redisPubSubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisPubSub definition redis pub/sub of engine snapshots.
// Every snapshot goes to <prefix><userID>; the latest one is also kept under
// <prefix>last:<userID> so a late watcher starts from current state.
type RedisPubSub struct {
	client redisPubSubClient
	last   database.RedisRepository[domain.Snapshot]
	prefix string
	ttl    time.Duration
}

// NewRedisPubSub create RedisPubSub, last may be nil
func NewRedisPubSub(client redisPubSubClient, last database.RedisRepository[domain.Snapshot], prefix string, ttl time.Duration) *RedisPubSub {
	return &RedisPubSub{
		client: client,
		last:   last,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Channel pub/sub channel of userID
func (r *RedisPubSub) Channel(userID string) string {
	return r.prefix + userID
}

// LastKey key holding the latest snapshot of userID
func (r *RedisPubSub) LastKey(userID string) string {
	return fmt.Sprintf("%slast:%s", r.prefix, userID)
}

// Publish 將 snapshot 序列化後，發布到該使用者的 channel
func (r *RedisPubSub) Publish(ctx context.Context, snap domain.Snapshot) error {
	if snap.Identity.UserID == "" {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.Channel(snap.Identity.UserID), data).Err(); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	if r.last != nil {
		if err := r.last.Set(ctx, r.LastKey(snap.Identity.UserID), snap, r.ttl); err != nil {
			return fmt.Errorf("store last snapshot: %w", err)
		}
	}
	return nil
}

// Latest last stored snapshot of userID
func (r *RedisPubSub) Latest(ctx context.Context, userID string) (domain.Snapshot, error) {
	if r.last == nil {
		return domain.Snapshot{}, fmt.Errorf("no snapshot store")
	}
	return r.last.Get(ctx, r.LastKey(userID))
}

// Subscribe 訂閱 userID 的 snapshot，收到後呼叫 handler，ctx 結束時關閉訂閱
func (r *RedisPubSub) Subscribe(ctx context.Context, userID string, handler func(snap domain.Snapshot)) error {
	channel := r.Channel(userID)
	sub := r.client.Subscribe(ctx, channel)
	// 確認訂閱成功再回傳
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()

		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}

				var snap domain.Snapshot
				if err := json.Unmarshal([]byte(m.Payload), &snap); err != nil {
					logger.Log.Error("decode snapshot", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(snap)
			case <-ctx.Done():
				logger.Log.Info(fmt.Sprintf("%s , sub close", channel))
				return
			}
		}
	}()
	return nil
}
