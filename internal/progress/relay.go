package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// relayChannel is the redis pub/sub channel job updates travel on.
const relayChannel = "progress.updates"

// envelope tags each relayed update with its publishing process so a relay can
// ignore its own echo.
type envelope struct {
	Origin string `json:"origin"`
	Update Update `json:"update"`
}

// Relay mirrors hub updates across processes through redis pub/sub. The API
// and worker binaries hold separate Hub instances; publishing through a Relay
// is what lets a worker-side terminal update reach an API-side subscriber.
// Delivery stays best effort: a dropped message costs an intermediate update,
// and clients fall back to polling the job resource.
type Relay struct {
	client *redis.Client
	hub    *Hub
	origin string
	logger zerolog.Logger
}

// NewRelay wraps a hub with cross-process mirroring on the given client.
func NewRelay(client *redis.Client, hub *Hub, logger zerolog.Logger) *Relay {
	return &Relay{client: client, hub: hub, origin: uuid.NewString(), logger: logger}
}

// Publish delivers to local subscribers first, then mirrors the update to
// every other process.
func (r *Relay) Publish(u Update) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	r.hub.Publish(u)

	payload, err := json.Marshal(envelope{Origin: r.origin, Update: u})
	if err != nil {
		return
	}
	if err := r.client.Publish(context.Background(), relayChannel, payload).Err(); err != nil {
		r.logger.Warn().Err(err).Str("job_id", u.JobID).Msg("progress: relay publish failed")
	}
}

// Subscribe attaches to the local hub; remote updates arrive through Run.
func (r *Relay) Subscribe(jobID string) (<-chan Update, func()) {
	return r.hub.Subscribe(jobID)
}

// Run feeds remote updates into the local hub until ctx is cancelled. Only
// processes that serve subscribers need to run it.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.deliver([]byte(msg.Payload))
		}
	}
}

// deliver unpacks one relayed payload and publishes it locally unless this
// relay produced it.
func (r *Relay) deliver(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.logger.Warn().Err(err).Msg("progress: relay payload malformed")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.hub.Publish(env.Update)
}

var _ Stream = (*Relay)(nil)
