package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/hive/internal/keyspace"
	"github.com/dyluth/hive/pkg/knowledge"
)

// RedisStore keeps snapshots in Redis. Each fact is a hash at
// hive:{swarm}:node:{id}:fact:{name}, listed in the set
// hive:{swarm}:node:{id}:facts.
// It is safe for concurrent use.
type RedisStore struct {
	rdb   *redis.Client
	swarm string
}

// NewRedisStore connects to redisURL and scopes every key to swarm.
func NewRedisStore(redisURL, swarm string) (*RedisStore, error) {
	if err := keyspace.ValidateSwarm(swarm); err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts), swarm: swarm}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Save replaces nodeID's snapshot in one MULTI/EXEC transaction.
func (s *RedisStore) Save(ctx context.Context, nodeID uint32, facts []knowledge.Fact) error {
	indexKey := keyspace.FactIndexKey(s.swarm, nodeID)
	previous, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read snapshot index: %w", err)
	}

	keep := make(map[string]struct{}, len(facts))
	for i := range facts {
		keep[facts[i].Name] = struct{}{}
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range previous {
			if _, ok := keep[name]; !ok {
				pipe.Del(ctx, keyspace.FactKey(s.swarm, nodeID, name))
			}
		}
		pipe.Del(ctx, indexKey)
		for i := range facts {
			f := &facts[i]
			key := keyspace.FactKey(s.swarm, nodeID, f.Name)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, FactToHash(f))
			pipe.SAdd(ctx, indexKey, f.Name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load reads nodeID's snapshot. Index entries whose hash has vanished are skipped.
func (s *RedisStore) Load(ctx context.Context, nodeID uint32) ([]knowledge.Fact, error) {
	names, err := s.rdb.SMembers(ctx, keyspace.FactIndexKey(s.swarm, nodeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot index: %w", err)
	}
	if len(names) == 0 {
		return []knowledge.Fact{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, keyspace.FactKey(s.swarm, nodeID, name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read snapshot facts: %w", err)
	}

	facts := make([]knowledge.Fact, 0, len(names))
	for _, cmd := range cmds {
		hash := cmd.Val()
		if len(hash) == 0 {
			continue
		}
		f, err := HashToFact(hash)
		if err != nil {
			return nil, err
		}
		facts = append(facts, *f)
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].ID < facts[j].ID })
	return facts, nil
}
