// Package store provides signal store adapters: a Redis-backed one for
// production and an in-memory one for single-node development and tests.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

// Redis keeps every channel's peer documents as JSON fields of one hash and
// fans out change notifications over pub/sub. Timestamps come from the Redis
// server clock so staleness comparisons never depend on device clocks.
type Redis struct {
	rdb *redis.Client

	// Serializes read-modify-write of this client's own document. Cross
	// client races do not exist: every writer only touches its own field.
	mu sync.Mutex
}

func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", core.ErrStore, addr, err)
	}
	return &Redis{rdb: rdb}, nil
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}

func peersKey(ch domain.Channel) string  { return "hearby:peers:" + string(ch) }
func eventsKey(ch domain.Channel) string { return "hearby:events:" + string(ch) }

func (s *Redis) PublishSelf(ctx context.Context, ch domain.Channel, id domain.UserID, doc domain.PeerDocument) error {
	now, err := s.rdb.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("%w: server time: %v", core.ErrStore, err)
	}
	doc.UserID = id
	doc.UpdatedAt = now
	return s.write(ctx, ch, id, doc)
}

func (s *Redis) PatchSelf(ctx context.Context, ch domain.Channel, id domain.UserID, patch domain.PeerPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.rdb.HGet(ctx, peersKey(ch), string(id)).Result()
	if err == redis.Nil {
		return fmt.Errorf("%w: patch %s/%s: no such document", core.ErrStore, ch, id)
	}
	if err != nil {
		return fmt.Errorf("%w: read %s/%s: %v", core.ErrStore, ch, id, err)
	}
	var doc domain.PeerDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("%w: decode %s/%s: %v", core.ErrStore, ch, id, err)
	}

	now, err := s.rdb.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("%w: server time: %v", core.ErrStore, err)
	}
	doc.Apply(patch)
	doc.UpdatedAt = now
	return s.write(ctx, ch, id, doc)
}

func (s *Redis) write(ctx context.Context, ch domain.Channel, id domain.UserID, doc domain.PeerDocument) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s/%s: %v", core.ErrStore, ch, id, err)
	}
	if err := s.rdb.HSet(ctx, peersKey(ch), string(id), b).Err(); err != nil {
		return fmt.Errorf("%w: write %s/%s: %v", core.ErrStore, ch, id, err)
	}
	if err := s.rdb.Publish(ctx, eventsKey(ch), string(id)).Err(); err != nil {
		return fmt.Errorf("%w: notify %s: %v", core.ErrStore, ch, err)
	}
	return nil
}

func (s *Redis) DeleteSelf(ctx context.Context, ch domain.Channel, id domain.UserID) error {
	if err := s.rdb.HDel(ctx, peersKey(ch), string(id)).Err(); err != nil {
		return fmt.Errorf("%w: delete %s/%s: %v", core.ErrStore, ch, id, err)
	}
	if err := s.rdb.Publish(ctx, eventsKey(ch), string(id)).Err(); err != nil {
		return fmt.Errorf("%w: notify %s: %v", core.ErrStore, ch, err)
	}
	return nil
}

func (s *Redis) ListAll(ctx context.Context, ch domain.Channel) ([]domain.PeerDocument, error) {
	raw, err := s.rdb.HGetAll(ctx, peersKey(ch)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", core.ErrStore, ch, err)
	}
	out := make([]domain.PeerDocument, 0, len(raw))
	for field, val := range raw {
		var doc domain.PeerDocument
		if err := json.Unmarshal([]byte(val), &doc); err != nil {
			// One corrupt document must not hide the rest of the roster.
			log.Warn().Err(err).Str("module", "store").Str("channel", string(ch)).Str("peer", field).Msg("skipping undecodable peer document")
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Redis) Subscribe(ctx context.Context, ch domain.Channel, fn func([]domain.PeerDocument)) (func(), error) {
	ps := s.rdb.Subscribe(ctx, eventsKey(ch))
	// Force the subscription to be established before returning, so no
	// write between Subscribe and the first receive is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", core.ErrStore, ch, err)
	}

	// The caller's ctx only scopes subscription setup. Delivery runs until
	// the stop func is called; binding it to a request-scoped ctx would
	// silence the roster the moment the request finishes.
	loopCtx, cancel := context.WithCancel(context.Background())
	go func() {
		deliver := func() {
			docs, err := s.ListAll(loopCtx, ch)
			if err != nil {
				log.Error().Err(err).Str("module", "store").Str("channel", string(ch)).Msg("snapshot read failed")
				return
			}
			fn(docs)
		}
		deliver()
		msgs := ps.Channel()
		for {
			select {
			case <-loopCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()

	return func() {
		cancel()
		if err := ps.Close(); err != nil {
			log.Debug().Err(err).Str("module", "store").Str("channel", string(ch)).Msg("close subscription")
		}
	}, nil
}
