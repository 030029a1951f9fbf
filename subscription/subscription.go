// Package subscription relays board update notices between the mutation and
// scheduler paths and the room manager, over a redis pub/sub channel. A single
// subscriber goroutine applies notices in publish order, which is what keeps
// broadcasts within one room ordered.
package subscription

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"aether-sync/domain"
	"aether-sync/internal/consts"
	"aether-sync/room"
)

// Storage fetches scope-filtered task snapshots.
type Storage interface {
	FetchTasks(ctx context.Context, scope domain.Scope) ([]domain.Task, error)
}

// UpdateNotice announces that persisted task state changed. A room-scoped
// notice carries the scope the snapshot should be computed from; a global
// notice refreshes every tracked connection against its own scope.
type UpdateNotice struct {
	Scope domain.Scope `json:"scope"`
	All   bool         `json:"all,omitempty"`
}

// Publisher emits update notices on the shared channel.
type Publisher struct {
	rc      *redis.Client
	channel string
}

func NewPublisher(rc *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = consts.DefaultUpdatesChannel
	}
	return &Publisher{rc: rc, channel: channel}
}

// PublishRoom requests a refresh of the scope's room.
func (p *Publisher) PublishRoom(ctx context.Context, scope domain.Scope) error {
	return p.publish(ctx, UpdateNotice{Scope: scope})
}

// PublishAll requests a refresh of every tracked connection.
func (p *Publisher) PublishAll(ctx context.Context) error {
	return p.publish(ctx, UpdateNotice{All: true})
}

func (p *Publisher) publish(ctx context.Context, n UpdateNotice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.rc.Publish(ctx, p.channel, data).Err()
}

// Snapshot loads and encodes the task list visible to a scope.
func Snapshot(ctx context.Context, store Storage, scope domain.Scope) ([]byte, error) {
	tasks, err := store.FetchTasks(ctx, scope)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tasks)
}

// SubscribeUpdates consumes update notices and broadcasts fresh snapshots to
// the affected rooms. It reconnects when the pub/sub channel closes and
// returns only when ctx is done. Snapshot state is always re-read from the
// store; nothing is cached between notices.
func SubscribeUpdates(ctx context.Context, rc *redis.Client, channel string, store Storage, mgr *room.Manager) {
	if channel == "" {
		channel = consts.DefaultUpdatesChannel
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var notice UpdateNotice
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					log.WithError(err).Error("unable to parse update notice")
					continue
				}
				apply(ctx, store, mgr, notice)
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("updates channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

func apply(ctx context.Context, store Storage, mgr *room.Manager, notice UpdateNotice) {
	if notice.All {
		mgr.BroadcastAll(consts.EventUpdateTasks, func(c *room.Connection) []byte {
			scope := c.Scope()
			if scope.OrgID == "" {
				return nil
			}
			data, err := Snapshot(ctx, store, scope)
			if err != nil {
				log.WithError(err).WithField("room", scope.RoomKey()).Error("snapshot failed")
				return nil
			}
			return data
		})
		return
	}

	data, err := Snapshot(ctx, store, notice.Scope)
	if err != nil {
		log.WithError(err).WithField("room", notice.Scope.RoomKey()).Error("snapshot failed")
		return
	}
	mgr.Broadcast(notice.Scope.RoomKey(), consts.EventUpdateTasks, data)
}
