package calllog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisMaxEntries caps the Redis list so an always-on softphone does not
// grow it unbounded.
const redisMaxEntries = 1000

// RedisSink pushes entries onto a Redis list, newest first, so the CRM
// backend can consume call history without touching the desktop host.
type RedisSink struct {
	client *redis.Client
	key    string
}

// NewRedisSink connects to addr and journals onto the list at key.
func NewRedisSink(addr, key string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisSink{client: client, key: key}, nil
}

// Write implements Sink.
func (s *RedisSink) Write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, redisMaxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push entry to redis: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
