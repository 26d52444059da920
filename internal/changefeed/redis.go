package changefeed

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "auctionhouse:records"

// RedisRelay mirrors local events to other replicas over redis pub/sub and
// replays their events into the local hub.
type RedisRelay struct {
	Client  *redis.Client
	Channel string
	Hub     *Hub
	Logger  *zap.Logger

	origin string
}

func NewRedisRelay(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{
		Client:  client,
		Channel: DefaultChannel,
		Hub:     hub,
		Logger:  logger,
		origin:  uuid.NewString(),
	}
}

func (r *RedisRelay) channel() string {
	if r.Channel == "" {
		return DefaultChannel
	}
	return r.Channel
}

func (r *RedisRelay) Publish(ev Event) {
	if r == nil {
		return
	}
	r.Hub.Publish(ev)
	if r.Client == nil {
		return
	}
	ev.Origin = r.origin
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.Client.Publish(context.Background(), r.channel(), raw).Err(); err != nil && r.Logger != nil {
		r.Logger.Debug("changefeed relay publish failed", zap.Error(err))
	}
}

// Run blocks until ctx is done, forwarding remote events to the hub.
func (r *RedisRelay) Run(ctx context.Context) error {
	if r == nil || r.Client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	sub := r.Client.Subscribe(ctx, r.channel())
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				if r.Logger != nil {
					r.Logger.Debug("changefeed relay bad payload", zap.Error(err))
				}
				continue
			}
			if ev.Origin == r.origin {
				continue
			}
			r.Hub.Publish(ev)
		}
	}
}
