package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/simple5k/internal/timing"
)

const (
	channelPrefix = "simple5k:race:"

	// publishBuffer is how many updates may wait for Redis before new ones
	// are dropped.
	publishBuffer  = 256
	publishTimeout = 2 * time.Second
)

func channel(raceID int64) string {
	return channelPrefix + strconv.FormatInt(raceID, 10)
}

// RedisBroker publishes through Redis so every server instance sees every
// update. Each instance runs one pattern subscription and fans messages out
// to its own followers.
type RedisBroker struct {
	rdb     *redis.Client
	local   *MemoryBroker
	logger  *slog.Logger
	ready   chan struct{}
	out     chan timing.Update
	dropped atomic.Uint64
}

func NewRedisBroker(rdb *redis.Client, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{
		rdb:    rdb,
		local:  NewMemoryBroker(),
		logger: logger,
		ready:  make(chan struct{}),
		out:    make(chan timing.Update, publishBuffer),
	}
}

// Publish queues u for Redis and returns at once. When Redis falls behind
// and the queue is full the update is dropped.
func (b *RedisBroker) Publish(_ context.Context, u timing.Update) {
	select {
	case b.out <- u:
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.logger.Warn("live update queue full, dropping", "race_id", u.RaceID, "type", u.Type, "dropped", n)
		}
	}
}

// Dropped reports how many updates never reached Redis because the queue
// was full.
func (b *RedisBroker) Dropped() uint64 { return b.dropped.Load() }

// drain sends queued updates to Redis until ctx is cancelled.
func (b *RedisBroker) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-b.out:
			data, err := json.Marshal(u)
			if err != nil {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err = b.rdb.Publish(pctx, channel(u.RaceID), data).Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				b.logger.Warn("publishing live update", "race_id", u.RaceID, "type", u.Type, "error", err)
			}
		}
	}
}

func (b *RedisBroker) Subscribe(raceID int64) (<-chan []byte, func()) {
	return b.local.Subscribe(raceID)
}

// Ready is closed once Run holds its Redis subscription.
func (b *RedisBroker) Ready() <-chan struct{} { return b.ready }

// Run publishes queued updates to Redis and relays Redis messages to local
// subscribers until ctx is cancelled.
func (b *RedisBroker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.drain(gctx) })
	g.Go(func() error { return b.relay(gctx) })
	return g.Wait()
}

func (b *RedisBroker) relay(ctx context.Context) error {
	ps := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to live updates: %w", err)
	}
	close(b.ready)
	b.logger.Info("live feed relaying from redis", "pattern", channelPrefix+"*")

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			raceID, err := strconv.ParseInt(strings.TrimPrefix(msg.Channel, channelPrefix), 10, 64)
			if err != nil {
				b.logger.Warn("ignoring live update on unexpected channel", "channel", msg.Channel)
				continue
			}
			b.local.fanout(raceID, []byte(msg.Payload))
		}
	}
}
