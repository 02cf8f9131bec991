// Package redisset keeps the alert notified-set in a Redis hash so replicas share it.
package redisset

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/markumedium/loading-server/internal/app"
)

// DefaultKey is the hash that maps vehicle id to last alerted cycle.
const DefaultKey = "yard:alerts:notified"

// Set is a Redis-backed app.NotifiedSet.
type Set struct {
	client redis.UniversalClient
	key    string
}

var _ app.NotifiedSet = (*Set)(nil)

// New wraps an existing client.
func New(client redis.UniversalClient, key string) *Set {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &Set{client: client, key: key}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, key string) (*Set, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client, key), nil
}

// Close closes the underlying client.
func (s *Set) Close() error {
	return s.client.Close()
}

// LastAlerted returns the last alerted cycle for vehicleID.
func (s *Set) LastAlerted(ctx context.Context, vehicleID string) (int, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, vehicleID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read notified cycle: %w", err)
	}
	cycle, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("decode notified cycle %q: %w", raw, err)
	}
	return cycle, true, nil
}

// MarkAlerted records cycle for vehicleID.
func (s *Set) MarkAlerted(ctx context.Context, vehicleID string, cycle int) error {
	if err := s.client.HSet(ctx, s.key, vehicleID, cycle).Err(); err != nil {
		return fmt.Errorf("write notified cycle: %w", err)
	}
	return nil
}

// Retain deletes entries for vehicles not in vehicleIDs.
func (s *Set) Retain(ctx context.Context, vehicleIDs []string) error {
	keys, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return fmt.Errorf("list notified vehicles: %w", err)
	}
	keep := make(map[string]struct{}, len(vehicleIDs))
	for _, id := range vehicleIDs {
		keep[id] = struct{}{}
	}
	stale := []string{}
	for _, id := range keys {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.key, stale...).Err(); err != nil {
		return fmt.Errorf("evict notified vehicles: %w", err)
	}
	return nil
}
