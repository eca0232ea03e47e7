package stats

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"vcr/internal/hooks/models"
)

const (
	keyPrefix  = "vcr:hookstats:"
	workersKey = keyPrefix + "workers"
)

// Redis keeps one hash per worker so every replica's counters survive
// restarts and can be read from any instance.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func workerKey(workerID string) string {
	return keyPrefix + "worker:" + workerID
}

func (r *Redis) Incr(ctx context.Context, workerID string, stat models.Stat, n int64) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, workersKey, workerID)
	pipe.HIncrBy(ctx, workerKey(workerID), string(stat), n)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment hook stat %s: %w", stat, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, workerID string) (*models.CredentialHookStats, error) {
	fields, err := r.client.HGetAll(ctx, workerKey(workerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read hook stats %s: %w", workerID, err)
	}
	return decode(workerID, fields)
}

func (r *Redis) All(ctx context.Context) ([]*models.CredentialHookStats, error) {
	workers, err := r.client.SMembers(ctx, workersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list hook stat workers: %w", err)
	}
	sort.Strings(workers)

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(workers))
	for i, w := range workers {
		cmds[i] = pipe.HGetAll(ctx, workerKey(w))
	}
	if len(workers) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("read hook stats: %w", err)
		}
	}

	out := make([]*models.CredentialHookStats, 0, len(workers))
	for i, w := range workers {
		st, err := decode(w, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func decode(workerID string, fields map[string]string) (*models.CredentialHookStats, error) {
	st := &models.CredentialHookStats{WorkerID: workerID}
	for _, stat := range models.AllStats {
		raw, ok := fields[string(stat)]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("hook stat %s for %s: %w", stat, workerID, err)
		}
		st.Set(stat, v)
	}
	return st, nil
}
