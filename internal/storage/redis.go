package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

// redisStore keeps one hash per tenant. Hash fields are tenant.Field names
// holding JSON values, plus "id" and "created_at".
//
// Keys:
//   - <prefix>:tenants          set of tenant ids
//   - <prefix>:tenant:<id>      hash
//   - <prefix>:tenant:<id>:log  list of JSON LogEntry, capped
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	raw := strings.TrimSpace(cfg.RedisURL)
	if raw == "" {
		return nil, errors.New("storage.redis_url is required for redis driver")
	}
	var client *redis.Client
	if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
		opt, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: raw})
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "fwdbot"
	}
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) idsKey() string            { return s.prefix + ":tenants" }
func (s *redisStore) tenantKey(id int64) string { return s.prefix + ":tenant:" + strconv.FormatInt(id, 10) }
func (s *redisStore) logKey(id int64) string    { return s.tenantKey(id) + ":log" }

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) Ensure(ctx context.Context, id int64) (tenant.Tenant, error) {
	key := s.tenantKey(id)
	now := time.Now().UTC()
	created, err := s.client.HSetNX(ctx, key, "created_at", now.Format(time.RFC3339Nano)).Result()
	if err != nil {
		return tenant.Tenant{}, err
	}
	if created {
		_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key,
				"id", id,
				string(tenant.FieldDelay), tenant.DefaultDelaySeconds,
				string(tenant.FieldEnabled), "false",
			)
			p.SAdd(ctx, s.idsKey(), id)
			return nil
		})
		if err != nil {
			return tenant.Tenant{}, err
		}
	}
	return s.Get(ctx, id)
}

func (s *redisStore) Get(ctx context.Context, id int64) (tenant.Tenant, error) {
	data, err := s.client.HGetAll(ctx, s.tenantKey(id)).Result()
	if err != nil {
		return tenant.Tenant{}, err
	}
	if len(data) == 0 {
		return tenant.Tenant{}, ErrNotFound
	}
	return decodeHash(id, data)
}

func decodeHash(id int64, data map[string]string) (tenant.Tenant, error) {
	created, _ := time.Parse(time.RFC3339Nano, data["created_at"])
	t := tenant.New(id, created)
	for _, f := range tenant.Fields {
		raw, ok := data[string(f)]
		if !ok {
			continue
		}
		v, err := decodeValue(f, []byte(raw))
		if err != nil {
			return tenant.Tenant{}, fmt.Errorf("tenant %d: %w", id, err)
		}
		if err := t.Apply(f, v); err != nil {
			return tenant.Tenant{}, err
		}
	}
	return t, nil
}

func (s *redisStore) Set(ctx context.Context, id int64, f tenant.Field, v any) error {
	raw, err := encodeValue(f, v)
	if err != nil {
		return err
	}
	key := s.tenantKey(id)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return s.client.HSet(ctx, key, string(f), string(raw)).Err()
}

func (s *redisStore) List(ctx context.Context) ([]tenant.Tenant, error) {
	members, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.log.Warn("ignoring malformed tenant id", logx.String("member", m))
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.tenantKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]tenant.Tenant, 0, len(ids))
	for i, id := range ids {
		data := cmds[i].Val()
		if len(data) == 0 {
			continue
		}
		t, err := decodeHash(id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *redisStore) AppendLog(ctx context.Context, id int64, line string) error {
	b, err := json.Marshal(LogEntry{At: time.Now().UTC(), Line: line})
	if err != nil {
		return err
	}
	key := s.logKey(id)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, b)
		p.LTrim(ctx, key, -MaxLogEntries, -1)
		return nil
	})
	return err
}

func (s *redisStore) Logs(ctx context.Context, id int64, n int) ([]LogEntry, error) {
	if n <= 0 || n > MaxLogEntries {
		n = MaxLogEntries
	}
	items, err := s.client.LRange(ctx, s.logKey(id), int64(-n), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(items))
	for _, it := range items {
		var e LogEntry
		if err := json.Unmarshal([]byte(it), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
