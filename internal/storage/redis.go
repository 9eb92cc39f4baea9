package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/storyloom/narrative-engine/pkg/state"
	"github.com/storyloom/narrative-engine/pkg/template"
)

const sessionKeyPrefix = "session:"

// commitRetries bounds optimistic lock retries for UpdateSession; turn
// commits never retry because a changed turn number is a real conflict.
const commitRetries = 5

// RedisStore implements Store using Redis for sessions and the filesystem
// for story templates.
type RedisStore struct {
	client  *redis.Client
	logger  *slog.Logger
	dataDir string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store. Templates are read from
// dataDir/templates.
func NewRedisStore(redisAddr string, dataDir string, logger *slog.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if dataDir == "" {
		dataDir = "./data"
	}

	return &RedisStore{
		client:  rdb,
		logger:  logger,
		dataDir: dataDir,
	}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available during startup.
func (r *RedisStore) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Session operations (Redis-backed)

func (r *RedisStore) CreateSession(ctx context.Context, s *state.Session) error {
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := sessionKeyPrefix + s.ID.String()
	ok, err := r.client.SetNX(ctx, key, string(data), 0).Result()
	if err != nil {
		r.logger.Error("Failed to create session", "uuid", s.ID, "error", err)
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	return nil
}

func (r *RedisStore) LoadSession(ctx context.Context, id uuid.UUID) (*state.Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+id.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Warn("Session not found", "uuid", id)
			return nil, nil // Return nil for not found
		}
		r.logger.Error("Failed to load session", "uuid", id, "error", err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s state.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		r.logger.Error("Failed to unmarshal session", "uuid", id, "error", err)
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+id.String()).Err(); err != nil {
		r.logger.Error("Failed to delete session", "uuid", id, "error", err)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisStore) UpdateSession(ctx context.Context, id uuid.UUID, mutate func(*state.Session) error) (*state.Session, error) {
	var updated *state.Session
	for i := 0; i < commitRetries; i++ {
		s, err := r.updateWatched(ctx, id, -1, mutate)
		if err == nil {
			updated = s
			break
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		// Another writer raced us; reload and retry.
	}
	if updated == nil {
		return nil, ErrConflict
	}
	return updated, nil
}

func (r *RedisStore) CommitTurn(ctx context.Context, id uuid.UUID, expectedTurn int, mutate func(*state.Session) error) (*state.Session, error) {
	s, err := r.updateWatched(ctx, id, expectedTurn, mutate)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	return s, err
}

// updateWatched performs one optimistic read-mutate-write cycle on a
// session key. expectedTurn >= 0 additionally guards the stored turn
// number.
func (r *RedisStore) updateWatched(ctx context.Context, id uuid.UUID, expectedTurn int, mutate func(*state.Session) error) (*state.Session, error) {
	key := sessionKeyPrefix + id.String()
	var updated *state.Session

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session %s not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}

		var s state.Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}

		if expectedTurn >= 0 && s.CurrentTurn != expectedTurn {
			return ErrConflict
		}

		if err := mutate(&s); err != nil {
			return err
		}
		s.UpdatedAt = time.Now()

		out, err := json.Marshal(&s)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(out), 0)
			return nil
		})
		if err != nil {
			return err
		}

		updated = &s
		return nil
	}, key)

	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Template operations (filesystem-backed)

func (r *RedisStore) GetTemplate(ctx context.Context, id string) (*template.StoryTemplate, error) {
	path := filepath.Join(r.dataDir, "templates", id+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read template file %s: %w", path, err)
	}

	var t template.StoryTemplate
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
	}
	t.ID = id // filename is authoritative
	return &t, nil
}

func (r *RedisStore) ListTemplates(ctx context.Context) (map[string]string, error) {
	templatesDir := filepath.Join(r.dataDir, "templates")
	templates := make(map[string]string)

	err := filepath.WalkDir(templatesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("Failed to read template file", "path", path, "error", err)
			return nil
		}

		var t template.StoryTemplate
		if err := json.Unmarshal(data, &t); err != nil {
			r.logger.Warn("Failed to unmarshal template file", "path", path, "error", err)
			return nil
		}
		if !t.IsActive {
			return nil
		}

		id := filepath.Base(path)
		id = id[:len(id)-len(".json")]
		templates[id] = t.Title
		return nil
	})

	if err != nil {
		r.logger.Error("Failed to walk templates directory", "error", err)
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return templates, nil
}
