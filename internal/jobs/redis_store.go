package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix  = "mediascribe:job:"
	updatedIndex  = "mediascribe:jobs:updated"
	maxTxAttempts = 16
)

// RedisStore keeps one JSON document per job and a sorted set of ids scored
// by updated_at for stale-job scans.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps rdb; ttl 0 keeps records forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

type redisRecord struct {
	ID               string    `json:"job_id"`
	OriginalFilename string    `json:"original_filename"`
	ContentType      string    `json:"content_type"`
	Kind             Kind      `json:"kind"`
	Status           Status    `json:"status"`
	SourcePath       string    `json:"source_path"`
	TranscriptPath   *string   `json:"transcript_path,omitempty"`
	FailureReason    *string   `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toRecord(j *Job) redisRecord {
	return redisRecord{
		ID:               j.ID,
		OriginalFilename: j.OriginalFilename,
		ContentType:      j.ContentType,
		Kind:             j.Kind,
		Status:           j.Status,
		SourcePath:       j.SourcePath,
		TranscriptPath:   j.TranscriptPath,
		FailureReason:    j.FailureReason,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
}

func (r redisRecord) job() *Job {
	return &Job{
		ID:               r.ID,
		OriginalFilename: r.OriginalFilename,
		ContentType:      r.ContentType,
		Kind:             r.Kind,
		Status:           r.Status,
		SourcePath:       r.SourcePath,
		TranscriptPath:   r.TranscriptPath,
		FailureReason:    r.FailureReason,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (s *RedisStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	if job.Status == "" {
		job.Status = StatusUploaded
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	payload, err := json.Marshal(toRecord(job))
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	key := jobKey(job.ID)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("insert job %s: %w", job.ID, ErrJobExists)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				pipe.ZAdd(ctx, updatedIndex, redis.Z{Score: score(job.UpdatedAt), Member: job.ID})
				return nil
			})
			if err != nil && !errors.Is(err, redis.TxFailedErr) {
				// MULTI does not roll back a command that failed at EXEC time.
				_ = s.rdb.Del(context.WithoutCancel(ctx), key).Err()
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrJobExists) {
			return err
		}
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	}
	return fmt.Errorf("insert job %s: too much contention", job.ID)
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*Job, error) {
	rec, err := s.load(ctx, s.rdb, id)
	if err != nil {
		return nil, err
	}
	return rec.job(), nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, g getter, id string) (*redisRecord, error) {
	data, err := g.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &rec, nil
}

// UpdateStatus runs an optimistic WATCH/MULTI loop so the read-check-write of
// the transition is atomic with respect to other writers.
func (s *RedisStore) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	if err := validateUpdate(update); err != nil {
		return err
	}
	key := jobKey(id)
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if rec.Status == update.Status {
				return nil
			}
			if !CanTransition(rec.Status, update.Status) {
				return fmt.Errorf("%s -> %s: %w", rec.Status, update.Status, ErrInvalidTransition)
			}
			job := rec.job()
			apply(job, update, s.now())
			payload, err := json.Marshal(toRecord(job))
			if err != nil {
				return fmt.Errorf("marshal job: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, redis.KeepTTL)
				pipe.ZAdd(ctx, updatedIndex, redis.Z{Score: score(job.UpdatedAt), Member: id})
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update status %s: too much contention", id)
}

func (s *RedisStore) ListStale(ctx context.Context, statuses []Status, olderThan time.Time) ([]*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	ids, err := s.rdb.ZRangeByScore(ctx, updatedIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(olderThan.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	var out []*Job
	for _, id := range ids {
		rec, err := s.load(ctx, s.rdb, id)
		if errors.Is(err, ErrJobNotFound) {
			// expired by TTL; drop the dangling index entry
			_ = s.rdb.ZRem(ctx, updatedIndex, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if want[rec.Status] {
			out = append(out, rec.job())
		}
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
