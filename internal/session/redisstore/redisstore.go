package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/study-agent/backend/internal/session"
	"github.com/study-agent/backend/pkg/logger"
)

// Store keeps threads in Redis so sessions survive process restarts.
// Each thread is a list of JSON-encoded turns; the in-flight guard is a
// SETNX lock with a TTL so a crashed request cannot wedge a session.
type Store struct {
	client  *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

func NewStore(host string, port int, password string, db int, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis thread store initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
	)

	return &Store{
		client:  client,
		ttl:     ttl,
		lockTTL: 2 * time.Minute,
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func threadKey(sessionID string) string {
	return "thread:" + sessionID
}

func lockKey(sessionID string) string {
	return "thread_lock:" + sessionID
}

func (s *Store) Ensure(ctx context.Context, sessionID string) (*session.Thread, error) {
	entries, err := s.client.LRange(ctx, threadKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}

	thread := &session.Thread{
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}

	for _, entry := range entries {
		var turn session.Turn
		if err := json.Unmarshal([]byte(entry), &turn); err != nil {
			logger.Warn("Skipping corrupt turn entry",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			continue
		}
		thread.Turns = append(thread.Turns, turn)
		if len(turn.Citations) > 0 {
			thread.LastCitations = turn.Citations
		}
	}

	if len(thread.Turns) > 0 {
		thread.CreatedAt = thread.Turns[0].CreatedAt
	}

	return thread, nil
}

func (s *Store) Append(ctx context.Context, sessionID string, turn session.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := threadKey(sessionID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			logger.Warn("Failed to refresh thread TTL", zap.Error(err))
		}
	}

	return nil
}

func (s *Store) Acquire(ctx context.Context, sessionID string) error {
	ok, err := s.client.SetNX(ctx, lockKey(sessionID), "1", s.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !ok {
		return session.ErrBusy
	}
	return nil
}

func (s *Store) Release(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, lockKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to release session lock: %w", err)
	}
	return nil
}
