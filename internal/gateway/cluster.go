package gateway

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cluster relays broadcast frames between gateway instances over a Redis
// pub/sub channel so a group's members connected elsewhere still receive
// live pushes. Frames are published only after local persistence succeeded;
// self-originated frames are skipped by node name on receipt.
type Cluster struct {
	rdb     *redis.Client
	channel string
	node    string
	rooms   *RoomManager
	log     *zap.SugaredLogger
}

type clusterFrame struct {
	Node  string          `json:"node"`
	Group string          `json:"group"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func NewCluster(rdb *redis.Client, channel, node string, rooms *RoomManager) *Cluster {
	return &Cluster{
		rdb:     rdb,
		channel: channel,
		node:    node,
		rooms:   rooms,
		log:     zap.S().With("component", "cluster", "node", node),
	}
}

func (c *Cluster) Publish(ctx context.Context, group, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Errorw("marshal payload", "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(clusterFrame{Node: c.node, Group: group, Event: event, Data: data})
	if err != nil {
		c.log.Errorw("marshal frame", "event", event, "error", err)
		return
	}
	if err := c.rdb.Publish(ctx, c.channel, frame).Err(); err != nil {
		c.log.Errorw("publish", "event", event, "error", err)
	}
}

// Run subscribes to the cluster channel and fans foreign frames into the
// local room manager. Blocks until the context is cancelled.
func (c *Cluster) Run(ctx context.Context) {
	pubsub := c.rdb.Subscribe(ctx, c.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame clusterFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				c.log.Errorw("decode frame", "error", err)
				continue
			}
			if frame.Node == c.node {
				continue
			}
			c.rooms.Broadcast(frame.Group, frame.Event, frame.Data)
		}
	}
}
