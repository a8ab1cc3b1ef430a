package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"crm-job-engine/internal/domain"
	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.WorkerNodeRepository = (*NodeRegistry)(nil)

const nodeKeyPrefix = "jobengine:node:"

// NodeRegistry keeps worker-node registration records in Redis. Records
// carry no TTL: a dead node must stay visible until the reaper has
// released its claims, only then is the record removed.
type NodeRegistry struct {
	cli RedisClient
}

func NewNodeRegistry(cli RedisClient) *NodeRegistry {
	return &NodeRegistry{cli: cli}
}

type nodeRecord struct {
	NodeID          string    `json:"node_id"`
	Capacity        int       `json:"capacity"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	RegisteredAt    time.Time `json:"registered_at"`
}

func nodeKey(nodeID string) string { return nodeKeyPrefix + nodeID }

func (r *NodeRegistry) Register(ctx context.Context, node *model.WorkerNode) error {
	rec := nodeRecord{
		NodeID:          node.NodeID,
		Capacity:        node.Capacity,
		LastHeartbeatAt: node.LastHeartbeatAt,
		RegisteredAt:    node.RegisteredAt,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.cli.Set(ctx, nodeKey(node.NodeID), b, 0)
}

func (r *NodeRegistry) Heartbeat(ctx context.Context, nodeID string) error {
	raw, err := r.cli.Get(ctx, nodeKey(nodeID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNodeNotRegistered
		}
		return err
	}
	var rec nodeRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return err
	}
	rec.LastHeartbeatAt = time.Now()
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.cli.Set(ctx, nodeKey(nodeID), b, 0)
}

func (r *NodeRegistry) List(ctx context.Context) ([]*model.WorkerNode, error) {
	keys, err := r.cli.Keys(ctx, nodeKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	nodes := make([]*model.WorkerNode, 0, len(keys))
	for _, key := range keys {
		raw, err := r.cli.Get(ctx, key)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // removed between KEYS and GET
			}
			return nil, err
		}
		var rec nodeRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue // skip corrupt records rather than failing the reaper
		}
		if rec.NodeID == "" {
			rec.NodeID = strings.TrimPrefix(key, nodeKeyPrefix)
		}
		nodes = append(nodes, &model.WorkerNode{
			NodeID:          rec.NodeID,
			Capacity:        rec.Capacity,
			LastHeartbeatAt: rec.LastHeartbeatAt,
			RegisteredAt:    rec.RegisteredAt,
		})
	}
	return nodes, nil
}

func (r *NodeRegistry) Remove(ctx context.Context, nodeID string) error {
	return r.cli.Del(ctx, nodeKey(nodeID))
}
