// Package identity maps identity-provider subjects to internal user ids.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"kanban/core/internal/store"
)

// ErrUnknownSubject is returned when no user is registered for a subject.
var ErrUnknownSubject = errors.New("identity: unknown subject")

type Lookup interface {
	UserIDBySubject(ctx context.Context, subject string) (string, error)
}

// cachedSubject is the value stored per subject.
type cachedSubject struct {
	UserID   string    `json:"user_id"`
	CachedAt time.Time `json:"cached_at"`
}

// Resolver reads subjects through a Redis cache. The subject to user
// mapping never changes once created, so cached entries are never stale;
// the TTL only bounds memory. Authorization state is never cached here.
type Resolver struct {
	lookup Lookup
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    logrus.FieldLogger
}

// NewResolver returns a resolver. A nil client disables caching.
func NewResolver(lookup Lookup, client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Resolver {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Resolver{
		lookup: lookup,
		client: client,
		ttl:    ttl,
		prefix: "identity:",
		log:    log,
	}
}

// NewRedisClient parses url and checks the server is reachable.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (r *Resolver) key(subject string) string {
	return r.prefix + subject
}

// UserID returns the user id for subject. Cache failures fall back to the
// store; unknown subjects are not cached.
func (r *Resolver) UserID(ctx context.Context, subject string) (string, error) {
	if r.client != nil {
		userID, ok := r.cached(ctx, subject)
		if ok {
			return userID, nil
		}
	}

	userID, err := r.lookup.UserIDBySubject(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	if err != nil {
		return "", fmt.Errorf("lookup subject: %w", err)
	}

	if r.client != nil {
		r.remember(ctx, subject, userID)
	}
	return userID, nil
}

// Forget drops the cached entry for subject, e.g. when the user is deleted.
func (r *Resolver) Forget(ctx context.Context, subject string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.key(subject)).Err(); err != nil {
		return fmt.Errorf("forget subject: %w", err)
	}
	return nil
}

func (r *Resolver) cached(ctx context.Context, subject string) (string, bool) {
	raw, err := r.client.Get(ctx, r.key(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		r.log.WithError(err).WithField("subject", subject).Warn("identity cache read failed")
		return "", false
	}
	var entry cachedSubject
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.UserID == "" {
		r.log.WithField("subject", subject).Warn("identity cache entry unreadable")
		return "", false
	}
	return entry.UserID, true
}

func (r *Resolver) remember(ctx context.Context, subject, userID string) {
	data, err := json.Marshal(cachedSubject{UserID: userID, CachedAt: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.key(subject), data, r.ttl).Err(); err != nil {
		r.log.WithError(err).WithField("subject", subject).Warn("identity cache write failed")
	}
}
