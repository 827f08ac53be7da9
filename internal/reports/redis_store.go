package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"psychometric/sessions/internal/reconcile"
)

var ErrNotFound = errors.New("report not found")

const lastReportKey = "session_reconcile:last"

// RedisStore keeps the most recent reconciliation report so every replica can serve it.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) SaveReport(ctx context.Context, report reconcile.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("report: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, lastReportKey, data, r.ttl).Err()
}

func (r *RedisStore) LastReport(ctx context.Context) (reconcile.Report, error) {
	val, err := r.client.Get(ctx, lastReportKey).Bytes()
	if err == redis.Nil {
		return reconcile.Report{}, ErrNotFound
	}
	if err != nil {
		return reconcile.Report{}, err
	}
	var report reconcile.Report
	if err := json.Unmarshal(val, &report); err != nil {
		return reconcile.Report{}, fmt.Errorf("report: failed to unmarshal: %w", err)
	}
	return report, nil
}
