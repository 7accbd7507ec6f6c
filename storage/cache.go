package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

// Cache wraps a Backend with Redis-backed caching of per-board reads.
// Writes go to the base backend first and then evict the affected keys.
// Ownership is checked by the Client on the board row before any cached
// list is served, so entries can be shared between scopes.
//
// Every eviction bumps a per-key generation. A refill is written only if
// the generation read before the backend load is still current, so a read
// racing a write cannot put the old row back.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) GetBoard(ctx context.Context, cred Credential, id string) (domain.Board, error) {
	return cached(ctx, c, boardCacheKey(id), func() (domain.Board, error) {
		return c.base.GetBoard(ctx, cred, id)
	})
}

func (c *Cache) ListBoards(ctx context.Context, cred Credential, owner domain.Identity) ([]domain.Board, error) {
	return c.base.ListBoards(ctx, cred, owner)
}

func (c *Cache) InsertBoard(ctx context.Context, cred Credential, b domain.Board) (domain.Board, error) {
	return c.base.InsertBoard(ctx, cred, b)
}

func (c *Cache) UpdateBoard(ctx context.Context, cred Credential, id string, p domain.BoardPatch) (domain.Board, error) {
	b, err := c.base.UpdateBoard(ctx, cred, id, p)
	if err != nil {
		return domain.Board{}, err
	}
	c.evict(ctx, boardCacheKey(id))
	return b, nil
}

func (c *Cache) GetColumn(ctx context.Context, cred Credential, id string) (domain.Column, error) {
	return cached(ctx, c, columnCacheKey(id), func() (domain.Column, error) {
		return c.base.GetColumn(ctx, cred, id)
	})
}

func (c *Cache) ListColumns(ctx context.Context, cred Credential, boardID string) ([]domain.Column, error) {
	return cached(ctx, c, columnsCacheKey(boardID), func() ([]domain.Column, error) {
		return c.base.ListColumns(ctx, cred, boardID)
	})
}

func (c *Cache) InsertColumn(ctx context.Context, cred Credential, boardID, title string) (domain.Column, error) {
	col, err := c.base.InsertColumn(ctx, cred, boardID, title)
	if err != nil {
		return domain.Column{}, err
	}
	c.evict(ctx, columnsCacheKey(boardID))
	return col, nil
}

func (c *Cache) UpdateColumn(ctx context.Context, cred Credential, id string, p domain.ColumnPatch) (domain.Column, error) {
	col, err := c.base.UpdateColumn(ctx, cred, id, p)
	if err != nil {
		return domain.Column{}, err
	}
	c.evict(ctx, columnCacheKey(id), columnsCacheKey(col.BoardID))
	return col, nil
}

func (c *Cache) GetTask(ctx context.Context, cred Credential, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, cred, id)
}

func (c *Cache) ListTasks(ctx context.Context, cred Credential, boardID string) ([]domain.Task, error) {
	return cached(ctx, c, tasksCacheKey(boardID), func() ([]domain.Task, error) {
		return c.base.ListTasks(ctx, cred, boardID)
	})
}

func (c *Cache) InsertTask(ctx context.Context, cred Credential, columnID string, nt domain.NewTask) (domain.Task, error) {
	t, err := c.base.InsertTask(ctx, cred, columnID, nt)
	if err != nil {
		return domain.Task{}, err
	}
	c.evictTasksOf(ctx, cred, columnID)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, cred Credential, id string, p domain.TaskPatch) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, cred, id, p)
	if err != nil {
		return domain.Task{}, err
	}
	c.evictTasksOf(ctx, cred, t.ColumnID)
	return t, nil
}

// evictTasksOf drops the task list of the board that owns columnID. Moves
// never cross boards, so the destination column identifies the board.
func (c *Cache) evictTasksOf(ctx context.Context, cred Credential, columnID string) {
	if c.redis == nil {
		return
	}
	col, err := c.GetColumn(ctx, cred, columnID)
	if err != nil {
		return
	}
	c.evict(ctx, tasksCacheKey(col.BoardID))
}

// minGenerationTTL bounds how long generation counters outlive their
// entries. An expired counter only costs a skipped refill.
const minGenerationTTL = 10 * time.Minute

var errGenerationChanged = errors.New("cache generation changed")

func cached[T any](ctx context.Context, c *Cache, key string, load func() (T, error)) (T, error) {
	if v, ok := loadFromCache[T](ctx, c, key); ok {
		return v, nil
	}
	gen, genErr := c.generation(ctx, key)
	v, err := load()
	if err != nil {
		return v, err
	}
	if genErr == nil {
		c.store(ctx, key, gen, v)
	}
	return v, nil
}

// generation returns the eviction count of key, 0 when none is recorded.
func (c *Cache) generation(ctx context.Context, key string) (int64, error) {
	if c.redis == nil {
		return 0, errors.New("cache disabled")
	}
	return readGeneration(ctx, c.redis, key)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, r getter, key string) (int64, error) {
	gen, err := r.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func loadFromCache[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	if c.redis == nil {
		return v, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return v, false
	}
	if err := sonic.Unmarshal(data, &v); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return v, false
	}
	return v, true
}

// store writes v under key unless key was evicted since gen was read.
func (c *Cache) store(ctx context.Context, key string, gen int64, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readGeneration(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur != gen {
			return errGenerationChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, generationKey(key))
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	genTTL := 2 * c.ttl
	if genTTL < minGenerationTTL {
		genTTL = minGenerationTTL
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Incr(ctx, generationKey(key))
			pipe.Expire(ctx, generationKey(key), genTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
}

func generationKey(key string) string {
	return "gen:" + key
}

func boardCacheKey(id string) string {
	return "board:" + id
}

func columnCacheKey(id string) string {
	return "column:" + id
}

func columnsCacheKey(boardID string) string {
	return "columns:" + boardID
}

func tasksCacheKey(boardID string) string {
	return "tasks:" + boardID
}
