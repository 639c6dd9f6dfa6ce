package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
	"github.com/randalmurphal/eventflow/pkg/eventflow/formatter"
)

// DefaultPrefix namespaces RedisStore keys.
const DefaultPrefix = "eventflow"

// beyondTailReply is the commit script's error for an unwritten offset.
const beyondTailReply = "EVENTFLOW offset beyond tail"

// Each stream uses three keys: a list of encoded entries, the offset of the
// list head, and the commit mark. Appends are announced on a channel.
var (
	// KEYS: log, base. ARGV: entries. Returns the first assigned offset.
	appendScript = redis.NewScript(`
local len = redis.call('RPUSH', KEYS[1], unpack(ARGV))
local base = tonumber(redis.call('GET', KEYS[2]) or '0')
return base + len - #ARGV
`)

	// KEYS: log, base. ARGV: offset, limit. Returns {from, entries...}
	// with sentinels resolved and from clamped to the retained range.
	readScript = redis.NewScript(`
local base = tonumber(redis.call('GET', KEYS[2]) or '0')
local len = redis.call('LLEN', KEYS[1])
local from = tonumber(ARGV[1])
if from == -1 then
	from = base
elseif from == -2 then
	from = base + len
end
if from < base then
	from = base
end
local start = from - base
local out = redis.call('LRANGE', KEYS[1], start, start + tonumber(ARGV[2]) - 1)
table.insert(out, 1, from)
return out
`)

	// KEYS: log, base, committed. ARGV: offset. Returns the mark, or an
	// error reply when offset was never written.
	commitScript = redis.NewScript(`
local committed = tonumber(redis.call('GET', KEYS[3]) or '-1')
local offset = tonumber(ARGV[1])
if offset <= committed then
	return committed
end
local base = tonumber(redis.call('GET', KEYS[2]) or '0')
local len = redis.call('LLEN', KEYS[1])
if offset >= base + len then
	return redis.error_reply('` + beyondTailReply + `')
end
local n = offset - base + 1
if n > 0 then
	redis.call('LTRIM', KEYS[1], n, -1)
	redis.call('INCRBY', KEYS[2], n)
end
redis.call('SET', KEYS[3], offset)
return offset
`)
)

// RedisStore keeps streams in Redis lists, so several processes can share
// them. Readers waiting for new entries are woken through pub/sub.
type RedisStore struct {
	client    redis.UniversalClient
	formatter formatter.Formatter
	prefix    string
	logger    *slog.Logger
}

// Compile-time interface check.
var _ eventflow.CommittableStore = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key namespace. Default: "eventflow".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisLogger sets the logger for write and notification records.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// NewRedisStore creates a store on client encoding entries with f.
func NewRedisStore(client redis.UniversalClient, f formatter.Formatter, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		formatter: f,
		prefix:    DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type streamKeys struct {
	log, base, committed, notify string
}

func (s *RedisStore) keys(stream string) streamKeys {
	// The hash tag keeps a stream's keys in one cluster slot, which the
	// scripts need. It is never empty, so the default stream is tagged too.
	root := s.prefix + ":{stream:" + stream + "}"
	return streamKeys{
		log:       root + ":log",
		base:      root + ":base",
		committed: root + ":committed",
		notify:    root + ":notify",
	}
}

// Write appends events to their streams and records each offset on its
// context. Each stream's part of the batch is appended atomically.
func (s *RedisStore) Write(ctx context.Context, events []*eventflow.EventContext) error {
	for _, batch := range groupByStream(events) {
		keys := s.keys(batch.stream)

		args := make([]any, len(batch.events))
		for i, ec := range batch.events {
			data, err := formatter.Marshal(s.formatter, ec)
			if err != nil {
				return eferrors.Permanent(err, "store write")
			}
			args[i] = data
		}

		first, err := appendScript.Run(ctx, s.client, []string{keys.log, keys.base}, args...).Int64()
		if err != nil {
			return fmt.Errorf("append to stream %q: %w", batch.stream, err)
		}
		for i, ec := range batch.events {
			ec.SetOffset(eventflow.Offset(first + int64(i)))
		}

		// Readers re-read after subscribing, so a lost notification only
		// delays them until their timeout.
		if err := s.client.Publish(ctx, keys.notify, first).Err(); err != nil && s.logger != nil {
			s.logger.Warn("stream notification failed",
				slog.String("stream", batch.stream),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Read implements eventflow.Store. OffsetNext is resolved to the stream's
// tail once, when Read is called.
func (s *RedisStore) Read(ctx context.Context, stream string, offset eventflow.Offset, limit int, timeout time.Duration) ([]*eventflow.EventContext, error) {
	if limit < 1 {
		limit = 1
	}
	keys := s.keys(stream)

	batch, from, err := s.read(ctx, keys, stream, offset, limit)
	if err != nil || len(batch) > 0 || timeout == 0 {
		return batch, err
	}

	sub := s.client.Subscribe(ctx, keys.notify)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("subscribe to stream %q: %w", stream, err)
	}
	notify := sub.Channel()

	expired, stop := deadline(timeout)
	defer stop()

	for {
		// Entries appended before the subscription was confirmed are
		// only visible by reading again.
		batch, from, err = s.read(ctx, keys, stream, from, limit)
		if err != nil || len(batch) > 0 {
			return batch, err
		}

		select {
		case <-notify:
		case <-expired:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// read fetches one batch and returns the resolved start offset.
func (s *RedisStore) read(ctx context.Context, keys streamKeys, stream string, offset eventflow.Offset, limit int) ([]*eventflow.EventContext, eventflow.Offset, error) {
	res, err := readScript.Run(ctx, s.client, []string{keys.log, keys.base}, int64(offset), limit).Slice()
	if err != nil {
		if ctx.Err() != nil {
			return nil, offset, ctx.Err()
		}
		return nil, offset, fmt.Errorf("read stream %q: %w", stream, err)
	}
	if len(res) == 0 {
		return nil, offset, fmt.Errorf("read stream %q: empty script reply", stream)
	}
	start, ok := res[0].(int64)
	if !ok {
		return nil, offset, fmt.Errorf("read stream %q: unexpected offset %T", stream, res[0])
	}
	from := eventflow.Offset(start)

	batch := make([]*eventflow.EventContext, 0, len(res)-1)
	for i, raw := range res[1:] {
		data, ok := raw.(string)
		if !ok {
			return nil, from, fmt.Errorf("read stream %q: unexpected entry %T", stream, raw)
		}
		ec, err := formatter.Unmarshal(s.formatter, []byte(data))
		if err != nil {
			return nil, from, fmt.Errorf("stream %q entry %d: %w", stream, int64(from)+int64(i), err)
		}
		if err := eventflow.MarkStored(ec, stream, from+eventflow.Offset(i)); err != nil {
			return nil, from, err
		}
		batch = append(batch, ec)
	}
	return batch, from, nil
}

// Commit trims every entry of stream at or below offset. Offsets at or
// below the current mark are ignored; offsets past the newest entry fail
// with ErrInvalidOffset.
func (s *RedisStore) Commit(ctx context.Context, stream string, offset eventflow.Offset) error {
	if offset < 0 {
		return eferrors.Protocol(fmt.Errorf("%v: %w", offset, ErrInvalidOffset), "store commit")
	}
	keys := s.keys(stream)
	err := commitScript.Run(ctx, s.client, []string{keys.log, keys.base, keys.committed}, int64(offset)).Err()
	if err != nil && strings.Contains(err.Error(), beyondTailReply) {
		return eferrors.Protocol(fmt.Errorf("%v: %w", offset, ErrInvalidOffset), "store commit")
	}
	if err != nil {
		return fmt.Errorf("commit stream %q: %w", stream, err)
	}
	return nil
}

// Committed implements eventflow.CommittableStore.
func (s *RedisStore) Committed(ctx context.Context, stream string) (eventflow.Offset, error) {
	n, err := s.client.Get(ctx, s.keys(stream).committed).Int64()
	if errors.Is(err, redis.Nil) {
		return eventflow.OffsetStart, nil
	}
	if err != nil {
		return 0, fmt.Errorf("committed offset of %q: %w", stream, err)
	}
	return eventflow.Offset(n), nil
}

// Len returns the number of retained entries in stream.
func (s *RedisStore) Len(ctx context.Context, stream string) (int64, error) {
	n, err := s.client.LLen(ctx, s.keys(stream).log).Result()
	if err != nil {
		return 0, fmt.Errorf("length of %q: %w", stream, err)
	}
	return n, nil
}
