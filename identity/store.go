// Package identity persists the durable identifier subset of a session.
//
// Only identifiers cross this boundary: the Farcaster fid, the Spotify user
// id, and the linked flag. Tokens are volatile by contract and must be
// re-derived or re-authenticated after a restart; keeping them out of this
// package's record type is what makes accidental token persistence
// impossible.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps transport failures talking to the backend.
var ErrUnavailable = errors.New("identity store unavailable")

// Record is the persisted identifier subset. No credential field may ever
// be added here.
type Record struct {
	FID       int64  `json:"fid,omitempty"`
	SpotifyID string `json:"spotifyId,omitempty"`
	Linked    bool   `json:"linked"`
}

// Empty reports whether the record carries no identifiers.
func (r Record) Empty() bool {
	return r.FID == 0 && r.SpotifyID == ""
}

// Store reads and writes identifier records, keyed by profile.
type Store interface {
	Save(ctx context.Context, profileID string, record Record) error
	Load(ctx context.Context, profileID string) (Record, error)
	Clear(ctx context.Context, profileID string) error
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. prefix defaults to "tli".
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tli"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStore) key(profileID string) string {
	if profileID == "" {
		profileID = "default"
	}
	return s.prefix + ":id:" + profileID
}

// Save writes the record, replacing any previous one.
func (s *RedisStore) Save(ctx context.Context, profileID string, record Record) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode identity record: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(profileID), encoded, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Load returns the stored record, or a zero Record when none exists.
func (s *RedisStore) Load(ctx context.Context, profileID string) (Record, error) {
	data, err := s.redis.Get(ctx, s.key(profileID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decode identity record: %w", err)
	}
	return record, nil
}

// Clear removes the stored record. Clearing an absent record is not an
// error.
func (s *RedisStore) Clear(ctx context.Context, profileID string) error {
	if err := s.redis.Del(ctx, s.key(profileID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
