package inbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/redis.v5"
)

var ErrNotFound = errors.New("record not found")

// Store persists received transactions.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Pending(ctx context.Context) ([]Record, error)
	MarkBroadcast(ctx context.Context, id uuid.UUID) error
}

// MarkBroadcastID parses raw as a record ID and marks that record broadcast
// in s.
func MarkBroadcastID(ctx context.Context, s Store, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid record id %q: %w", raw, err)
	}
	if err := s.MarkBroadcast(ctx, id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ---------------------------------------------------------------------------
// FileStore
// ---------------------------------------------------------------------------

// FileStore appends records to a JSON-lines file. A later line for the same
// ID replaces earlier ones.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(rec)
}

func (s *FileStore) Pending(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	return pending(all), nil
}

func (s *FileStore) MarkBroadcast(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := all[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.Status = StatusBroadcast
	return s.append(rec)
}

func (s *FileStore) append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open inbox: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write inbox: %w", err)
	}
	return f.Close()
}

func (s *FileStore) load() (map[uuid.UUID]Record, error) {
	all := make(map[uuid.UUID]Record)

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open inbox: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for n := 1; scanner.Scan(); n++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("inbox line %d: %w", n, err)
		}
		all[rec.ID] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	return all, nil
}

// ---------------------------------------------------------------------------
// RedisStore
// ---------------------------------------------------------------------------

// DefaultRedisKey is the hash holding one JSON record per ID.
const DefaultRedisKey = "txbeam:inbox"

// RedisStore keeps records in a Redis hash keyed by record ID.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the Redis server at addr and checks it answers.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return &RedisStore{client: client, key: DefaultRedisKey}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.HSet(s.key, rec.ID.String(), string(data)).Err()
}

func (s *RedisStore) Pending(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(s.key).Result()
	if err != nil {
		return nil, err
	}

	all := make(map[uuid.UUID]Record, len(fields))
	for field, value := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("inbox record %s: %w", field, err)
		}
		all[rec.ID] = rec
	}
	return pending(all), nil
}

func (s *RedisStore) MarkBroadcast(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := s.client.HGet(s.key, id.String()).Result()
	if err == redis.Nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}

	var rec Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return fmt.Errorf("inbox record %s: %w", id, err)
	}
	rec.Status = StatusBroadcast
	return s.Save(ctx, rec)
}

// pending returns the pending records of all, oldest first.
func pending(all map[uuid.UUID]Record) []Record {
	var out []Record
	for _, rec := range all {
		if rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}
