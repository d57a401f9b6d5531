package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-relay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	retryKeyPrefix    = "retry:"
	attemptsKeyPrefix = "attempts:"
	scanPageSize      = 100
)

// incrementScript bumps the attempt counter only while the record exists, so a
// counter can never outlive or resurrect its record. A lost counter is reseeded
// from the count frozen inside the record.
var incrementScript = goredis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return -1
end
if redis.call("EXISTS", KEYS[2]) == 0 then
  local frozen = tonumber(cjson.decode(raw).attemptCount) or 0
  redis.call("SET", KEYS[2], frozen)
end
local n = redis.call("INCR", KEYS[2])
redis.call("EXPIRE", KEYS[2], ARGV[1])
return n
`)

// rewriteScript replaces the record body and keeps its remaining TTL.
var rewriteScript = goredis.NewScript(`
local ttl = redis.call("PTTL", KEYS[1])
if ttl == -2 then
  return 0
end
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// RetryStore keeps failed notifications in Redis until they are redelivered or
// age out. Each record lives under retry:<id> with a companion counter under
// attempts:<id>.
type RetryStore struct {
	client *goredis.Client
	policy domain.RetryPolicy
	logger *zap.Logger
}

func NewRetryStore(client *goredis.Client, policy domain.RetryPolicy, logger *zap.Logger) (*RetryStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryStore{
		client: client,
		policy: policy,
		logger: logger,
	}, nil
}

func (s *RetryStore) Policy() domain.RetryPolicy { return s.policy }

// Put stores the record with a fresh counter of 1, replacing any previous
// record for the same notification.
func (s *RetryStore) Put(ctx context.Context, record domain.RetryRecord, failureReason string) error {
	id := strings.TrimSpace(record.NotificationID)
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	record.AttemptCount = 1
	record.FailureReason = failureReason
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal retry record: %w", err)
	}

	ttl := s.policy.KeyTTL()
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, retryKey(id), payload, ttl)
		pipe.Set(ctx, attemptsKey(id), 1, ttl)
		return nil
	})
	if err != nil {
		return storeError("put retry record", err)
	}
	return nil
}

// Get returns the record with its live attempt count. When the counter is
// missing the count frozen inside the record is returned.
func (s *RetryStore) Get(ctx context.Context, id string) (*domain.RetryRecord, error) {
	values, err := s.client.MGet(ctx, retryKey(id), attemptsKey(id)).Result()
	if err != nil {
		return nil, storeError("get retry record", err)
	}

	record, ok, err := decodeRecord(values[0], values[1])
	if err != nil {
		return nil, fmt.Errorf("retry record %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("retry record %s: %w", id, domain.ErrNotFound)
	}
	return record, nil
}

// ListAll walks every retry record with SCAN so large stores never block
// Redis. Keys that vanish between SCAN and MGET are skipped.
func (s *RetryStore) ListAll(ctx context.Context) ([]domain.RetryRecord, error) {
	var (
		records []domain.RetryRecord
		cursor  uint64
		seen    = make(map[string]struct{})
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, retryKeyPrefix+"*", scanPageSize).Result()
		if err != nil {
			return nil, storeError("scan retry records", err)
		}

		ids := make([]string, 0, len(keys))
		for _, key := range keys {
			id := strings.TrimPrefix(key, retryKeyPrefix)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}

		if len(ids) > 0 {
			page, err := s.loadPage(ctx, ids)
			if err != nil {
				return nil, err
			}
			records = append(records, page...)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return records, nil
}

func (s *RetryStore) loadPage(ctx context.Context, ids []string) ([]domain.RetryRecord, error) {
	keys := make([]string, 0, len(ids)*2)
	for _, id := range ids {
		keys = append(keys, retryKey(id))
	}
	for _, id := range ids {
		keys = append(keys, attemptsKey(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, storeError("load retry records", err)
	}

	records := make([]domain.RetryRecord, 0, len(ids))
	for i, id := range ids {
		record, ok, err := decodeRecord(values[i], values[len(ids)+i])
		if err != nil {
			s.logger.Warn("skipping malformed retry record",
				zap.String("notificationId", id),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		records = append(records, *record)
	}
	return records, nil
}

// ListInBand returns the records whose age at now falls in band.
func (s *RetryStore) ListInBand(ctx context.Context, band domain.Band, now time.Time) ([]domain.RetryRecord, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	inBand := make([]domain.RetryRecord, 0, len(all))
	for i := range all {
		if s.policy.BandFor(all[i].Age(now)) == band {
			inBand = append(inBand, all[i])
		}
	}
	return inBand, nil
}

// IncrementAttempt bumps the counter and refreshes its TTL. It reports
// domain.ErrNotFound without touching the counter when the record is gone.
func (s *RetryStore) IncrementAttempt(ctx context.Context, id string) (int64, error) {
	ttlSeconds := int64(s.policy.KeyTTL() / time.Second)
	n, err := incrementScript.Run(ctx, s.client, []string{retryKey(id), attemptsKey(id)}, ttlSeconds).Int64()
	if err != nil {
		return 0, storeError("increment retry attempt", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("retry record %s: %w", id, domain.ErrNotFound)
	}
	return n, nil
}

// RecordFailure stores the latest failure reason and freezes the current
// attempt count into the record without extending its lifetime.
func (s *RetryStore) RecordFailure(ctx context.Context, id string, reason string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	record.FailureReason = reason

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal retry record: %w", err)
	}

	updated, err := rewriteScript.Run(ctx, s.client, []string{retryKey(id)}, payload).Int()
	if err != nil {
		return storeError("record retry failure", err)
	}
	if updated == 0 {
		return fmt.Errorf("retry record %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Remove drops the record and its counter. Removing an absent record is not an error.
func (s *RetryStore) Remove(ctx context.Context, id string) error {
	_, err := s.Delete(ctx, id)
	return err
}

// Delete drops the record and its counter and reports whether this call
// removed the record. Concurrent callers see true at most once.
func (s *RetryStore) Delete(ctx context.Context, id string) (bool, error) {
	var recordDel *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		recordDel = pipe.Del(ctx, retryKey(id))
		pipe.Del(ctx, attemptsKey(id))
		return nil
	})
	if err != nil {
		return false, storeError("delete retry record", err)
	}
	return recordDel.Val() > 0, nil
}

func (s *RetryStore) Stats(ctx context.Context, now time.Time) (domain.RetryStats, error) {
	records, err := s.ListAll(ctx)
	if err != nil {
		return domain.RetryStats{}, err
	}
	return domain.ComputeRetryStats(records, s.policy, now), nil
}

// Ping reports whether the store's Redis connection is usable.
func (s *RetryStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeError("ping", err)
	}
	return nil
}

func decodeRecord(rawRecord, rawCount interface{}) (*domain.RetryRecord, bool, error) {
	data, ok := rawRecord.(string)
	if !ok || data == "" {
		return nil, false, nil
	}

	var record domain.RetryRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, false, fmt.Errorf("failed to decode retry record: %w", err)
	}

	if countStr, ok := rawCount.(string); ok {
		if count, err := strconv.ParseInt(countStr, 10, 64); err == nil {
			record.AttemptCount = count
		}
	}
	return &record, true, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func retryKey(id string) string    { return retryKeyPrefix + id }
func attemptsKey(id string) string { return attemptsKeyPrefix + id }
