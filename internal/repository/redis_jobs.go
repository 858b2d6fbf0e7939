package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/complygate/complygate/internal/config"
	"github.com/complygate/complygate/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisJobStore keeps pollable export/deletion job status in Redis so an
// admin poll can hit any instance behind a load balancer.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisJobStore(cfg *config.Config) (*RedisJobStore, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := time.Duration(cfg.Redis.JobTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisJobStore{client: rdb, ttl: ttl}, nil
}

func jobKey(id string) string {
	return "job:" + id
}

func latestKey(requestID string, kind model.JobKind) string {
	return fmt.Sprintf("job:latest:%s:%s", requestID, kind)
}

func (s *RedisJobStore) Save(ctx context.Context, job *model.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, jobKey(job.ID), payload, s.ttl)
	pipe.Set(ctx, latestKey(job.RequestID, job.Kind), job.ID, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisJobStore) LatestForRequest(ctx context.Context, requestID string, kind model.JobKind) (*model.Job, error) {
	id, err := s.client.Get(ctx, latestKey(requestID, kind)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}
