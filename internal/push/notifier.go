// Package push delivers Web Push notifications to receivers who have no
// live channel connection. Subscriptions live in Redis, keyed per user.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"github.com/coachchat/internal/logger"
)

const (
	redisKeyPrefix = "coachchat:push:subs:"
	maxSubsPerUser = 10
	sendTimeout    = 10 * time.Second
)

// Subscription is the browser's push subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Notifier sends Web Push messages. A nil Notifier is valid and does nothing,
// so the hub never has to care whether push is configured.
type Notifier struct {
	redis *redis.Client
	vapid *webpush.Options
}

// NewNotifier wires the Redis subscription store with the VAPID key pair.
// Returns nil when either piece is missing; callers treat nil as disabled.
func NewNotifier(rdb *redis.Client, keys *VAPIDKeys) *Notifier {
	if rdb == nil || keys == nil || keys.PublicKey == "" || keys.PrivateKey == "" {
		return nil
	}
	return &Notifier{
		redis: rdb,
		vapid: &webpush.Options{
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             60,
		},
	}
}

// Subscribe stores a subscription for userID, capped per user.
func (n *Notifier) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	if n == nil {
		return nil
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + userID
	if err := n.redis.HSet(ctx, key, sub.Endpoint, data).Err(); err != nil {
		return err
	}
	// Trim oldest-agnostic: over the cap, drop arbitrary extras.
	fields, err := n.redis.HKeys(ctx, key).Result()
	if err == nil && len(fields) > maxSubsPerUser {
		n.redis.HDel(ctx, key, fields[:len(fields)-maxSubsPerUser]...)
	}
	return nil
}

// Unsubscribe removes the subscription with that endpoint.
func (n *Notifier) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if n == nil {
		return nil
	}
	return n.redis.HDel(ctx, redisKeyPrefix+userID, endpoint).Err()
}

// Payload is the notification body delivered to the service worker.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify sends the payload to every subscription of userID. Expired
// subscriptions (404/410 from the push service) are pruned.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	key := redisKeyPrefix + userID
	subs, err := n.redis.HGetAll(ctx, key).Result()
	if err != nil {
		logger.Errorf("push: load subs user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payloadBytes, err := json.Marshal(Payload{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push: marshal payload: %v", err)
		return
	}

	for endpoint, raw := range subs {
		var sub Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			n.redis.HDel(ctx, key, endpoint)
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("push: send user=%s: %v", userID, err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			n.redis.HDel(ctx, key, endpoint)
		}
		resp.Body.Close()
	}
}
