package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrConflict is returned when a Redis commit kept losing its optimistic lock.
var ErrConflict = errors.New("concurrent modification")

const redisMaxRetries = 5

// Redis is a Backend stored in Redis hashes. For every kind it keeps
//
//	{prefix}:{kind}                    id -> value
//	{prefix}:{kind}:parent             id -> parent
//	{prefix}:{kind}:children:{parent}  set of ids
//
// Apply runs under WATCH on the touched parent indexes and writes in one
// MULTI/EXEC.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redisURL and namespaces keys under prefix.
func NewRedis(ctx context.Context, redisURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) dataKey(kind Kind) string   { return r.prefix + ":" + string(kind) }
func (r *Redis) parentKey(kind Kind) string { return r.dataKey(kind) + ":parent" }
func (r *Redis) childrenKey(kind Kind, parent string) string {
	return r.dataKey(kind) + ":children:" + parent
}

func (r *Redis) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	v, err := r.client.HGet(ctx, r.dataKey(kind), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hget %s: %w", kind, err)
	}
	return v, nil
}

func (r *Redis) List(ctx context.Context, kind Kind) ([]Record, error) {
	values, err := r.client.HGetAll(ctx, r.dataKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", kind, err)
	}
	parents, err := r.client.HGetAll(ctx, r.parentKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s parents: %w", kind, err)
	}
	out := make([]Record, 0, len(values))
	for id, v := range values {
		out = append(out, Record{ID: id, Parent: parents[id], Value: []byte(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Redis) ListByParent(ctx context.Context, kind Kind, parent string) ([]Record, error) {
	if parent == "" {
		all, err := r.List(ctx, kind)
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, rec := range all {
			if rec.Parent == "" {
				out = append(out, rec)
			}
		}
		return out, nil
	}

	ids, err := r.client.SMembers(ctx, r.childrenKey(kind, parent)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s of %s: %w", kind, parent, err)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}
	sort.Strings(ids)
	values, err := r.client.HMGet(ctx, r.dataKey(kind), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget %s: %w", kind, err)
	}
	out := make([]Record, 0, len(ids))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, Record{ID: ids[i], Parent: parent, Value: []byte(s)})
	}
	return out, nil
}

func (r *Redis) Apply(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	keys := r.watchKeys(writes)
	txf := func(tx *redis.Tx) error {
		plan := &redisPlan{r: r, tx: tx}
		for _, w := range writes {
			if err := plan.add(ctx, w); err != nil {
				return err
			}
		}
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, cmd := range plan.cmds {
				cmd(p)
			}
			return nil
		})
		return err
	}

	for range redisMaxRetries {
		err := r.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrConflict
}

func (r *Redis) watchKeys(writes []Write) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, w := range writes {
		add(r.parentKey(w.Kind))
		if w.Op == WriteDeleteChildren {
			add(r.childrenKey(w.Kind, w.Parent))
		}
	}
	return keys
}

func (r *Redis) Close() error { return r.client.Close() }

// Ping checks that Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type parentState struct {
	parent string
	exists bool
}

// redisPlan turns writes into queued commands. Reads go through the watched
// connection and are overlaid with the plan's own earlier writes, so the
// writes of one batch observe each other in order.
type redisPlan struct {
	r        *Redis
	tx       *redis.Tx
	parents  map[Kind]map[string]parentState
	children map[string]map[string]struct{}
	cmds     []func(redis.Pipeliner)
}

func (p *redisPlan) add(ctx context.Context, w Write) error {
	switch w.Op {
	case WritePut:
		return p.put(ctx, w)
	case WriteDelete:
		return p.delete(ctx, w.Kind, w.ID)
	case WriteDeleteChildren:
		return p.deleteChildren(ctx, w.Kind, w.Parent)
	}
	return fmt.Errorf("unknown write op %d", w.Op)
}

func (p *redisPlan) put(ctx context.Context, w Write) error {
	old, err := p.parentOf(ctx, w.Kind, w.ID)
	if err != nil {
		return err
	}
	if old.exists && old.parent != w.Parent && old.parent != "" {
		if err := p.removeChild(ctx, w.Kind, old.parent, w.ID); err != nil {
			return err
		}
	}
	if w.Parent != "" {
		if err := p.addChild(ctx, w.Kind, w.Parent, w.ID); err != nil {
			return err
		}
	}
	p.parents[w.Kind][w.ID] = parentState{parent: w.Parent, exists: true}

	dataKey, parentKey := p.r.dataKey(w.Kind), p.r.parentKey(w.Kind)
	id, parent, value := w.ID, w.Parent, w.Value
	p.cmds = append(p.cmds, func(pl redis.Pipeliner) {
		pl.HSet(ctx, dataKey, id, value)
		pl.HSet(ctx, parentKey, id, parent)
	})
	return nil
}

func (p *redisPlan) delete(ctx context.Context, kind Kind, id string) error {
	old, err := p.parentOf(ctx, kind, id)
	if err != nil {
		return err
	}
	if !old.exists {
		return nil
	}
	if old.parent != "" {
		if err := p.removeChild(ctx, kind, old.parent, id); err != nil {
			return err
		}
	}
	p.parents[kind][id] = parentState{}
	p.queueDel(ctx, kind, id)
	return nil
}

func (p *redisPlan) deleteChildren(ctx context.Context, kind Kind, parent string) error {
	set, err := p.childrenOf(ctx, kind, parent)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := p.parentOf(ctx, kind, id); err != nil {
			return err
		}
		p.parents[kind][id] = parentState{}
		p.queueDel(ctx, kind, id)
	}
	clear(set)
	key := p.r.childrenKey(kind, parent)
	p.cmds = append(p.cmds, func(pl redis.Pipeliner) { pl.Del(ctx, key) })
	return nil
}

func (p *redisPlan) queueDel(ctx context.Context, kind Kind, id string) {
	dataKey, parentKey := p.r.dataKey(kind), p.r.parentKey(kind)
	p.cmds = append(p.cmds, func(pl redis.Pipeliner) {
		pl.HDel(ctx, dataKey, id)
		pl.HDel(ctx, parentKey, id)
	})
}

func (p *redisPlan) addChild(ctx context.Context, kind Kind, parent, id string) error {
	set, err := p.childrenOf(ctx, kind, parent)
	if err != nil {
		return err
	}
	set[id] = struct{}{}
	key := p.r.childrenKey(kind, parent)
	p.cmds = append(p.cmds, func(pl redis.Pipeliner) { pl.SAdd(ctx, key, id) })
	return nil
}

func (p *redisPlan) removeChild(ctx context.Context, kind Kind, parent, id string) error {
	set, err := p.childrenOf(ctx, kind, parent)
	if err != nil {
		return err
	}
	delete(set, id)
	key := p.r.childrenKey(kind, parent)
	p.cmds = append(p.cmds, func(pl redis.Pipeliner) { pl.SRem(ctx, key, id) })
	return nil
}

func (p *redisPlan) parentOf(ctx context.Context, kind Kind, id string) (parentState, error) {
	if p.parents == nil {
		p.parents = make(map[Kind]map[string]parentState)
	}
	byID := p.parents[kind]
	if byID == nil {
		byID = make(map[string]parentState)
		p.parents[kind] = byID
	}
	if st, ok := byID[id]; ok {
		return st, nil
	}
	parent, err := p.tx.HGet(ctx, p.r.parentKey(kind), id).Result()
	var st parentState
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return parentState{}, fmt.Errorf("hget %s parent: %w", kind, err)
	default:
		st = parentState{parent: parent, exists: true}
	}
	byID[id] = st
	return st, nil
}

func (p *redisPlan) childrenOf(ctx context.Context, kind Kind, parent string) (map[string]struct{}, error) {
	if p.children == nil {
		p.children = make(map[string]map[string]struct{})
	}
	key := p.r.childrenKey(kind, parent)
	if set, ok := p.children[key]; ok {
		return set, nil
	}
	ids, err := p.tx.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s of %s: %w", kind, parent, err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	p.children[key] = set
	return set, nil
}
