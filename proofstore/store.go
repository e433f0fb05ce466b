package proofstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tunelink/tunelink/proof"
)

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("attestation not found")
	// ErrAlreadyStored is returned on a second Store of the same id.
	// The original record is left untouched.
	ErrAlreadyStored = errors.New("attestation already stored")
	// ErrUnavailable wraps transport failures talking to the backend.
	ErrUnavailable = errors.New("proof store unavailable")
)

// Record pairs an attestation with the exact response payload it covers.
// It is created alongside the attestation, never separately.
type Record struct {
	Attestation  *proof.Attestation `json:"attestation"`
	ResponseData json.RawMessage    `json:"responseData"`
	StoredAt     int64              `json:"storedAt"` // epoch milliseconds
}

// Store is the persistence contract for attestations.
type Store interface {
	Store(ctx context.Context, att *proof.Attestation, responseData any) (string, error)
	Retrieve(ctx context.Context, id string) (*Record, error)
	ListBySubject(ctx context.Context, subjectID string, limit int) ([]*proof.Attestation, error)
	ListByEndpoint(ctx context.Context, endpoint string, limit int) ([]*proof.Attestation, error)
}

// RedisStore implements Store on Redis. Records live under one key per
// attestation id; two sorted sets per subject and endpoint, scored by
// attestation timestamp, serve the newest-first listings.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. prefix namespaces all keys and
// defaults to "tlp".
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tlp"
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + ":rec:" + id
}

func (s *RedisStore) subjectKey(subjectID string) string {
	return s.prefix + ":sub:" + subjectID
}

func (s *RedisStore) endpointKey(endpoint string) string {
	return s.prefix + ":end:" + endpoint
}

// Store persists att and its payload and returns the attestation id.
// A duplicate id returns ErrAlreadyStored without touching the original.
func (s *RedisStore) Store(ctx context.Context, att *proof.Attestation, responseData any) (string, error) {
	if att == nil || att.ID == "" {
		return "", fmt.Errorf("%w: missing attestation id", proof.ErrMalformed)
	}

	payload, err := json.Marshal(responseData)
	if err != nil {
		return "", fmt.Errorf("encode response payload: %w", err)
	}

	record := Record{
		Attestation:  att,
		ResponseData: payload,
		StoredAt:     att.Timestamp,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	score := float64(att.Timestamp)
	var created *redis.BoolCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, s.recordKey(att.ID), encoded, 0)
		pipe.ZAdd(ctx, s.subjectKey(att.SubjectID), redis.Z{Score: score, Member: att.ID})
		pipe.ZAdd(ctx, s.endpointKey(att.Endpoint), redis.Z{Score: score, Member: att.ID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// The index writes run for duplicates too. ZADD of the same member
	// and score is idempotent, so retrying a partially applied Store
	// re-establishes the index entries before reporting the duplicate.
	if !created.Val() {
		return "", ErrAlreadyStored
	}

	return att.ID, nil
}

// Retrieve returns the record for id, ErrNotFound when absent, or
// ErrUnavailable when the backend cannot be reached.
func (s *RedisStore) Retrieve(ctx context.Context, id string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}

	return &record, nil
}

// ListBySubject returns the subject's attestations newest first.
// limit <= 0 means no limit.
func (s *RedisStore) ListBySubject(ctx context.Context, subjectID string, limit int) ([]*proof.Attestation, error) {
	return s.listIndex(ctx, s.subjectKey(subjectID), limit)
}

// ListByEndpoint returns the endpoint's attestations newest first.
// limit <= 0 means no limit.
func (s *RedisStore) ListByEndpoint(ctx context.Context, endpoint string, limit int) ([]*proof.Attestation, error) {
	return s.listIndex(ctx, s.endpointKey(endpoint), limit)
}

func (s *RedisStore) listIndex(ctx context.Context, key string, limit int) ([]*proof.Attestation, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := s.redis.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	attestations := make([]*proof.Attestation, 0, len(ids))
	for _, id := range ids {
		record, err := s.Retrieve(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Index entry without a record; skip rather than fail the
				// whole listing.
				continue
			}
			return nil, err
		}
		attestations = append(attestations, record.Attestation)
	}

	return attestations, nil
}
