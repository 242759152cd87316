package notify

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/bytedance/sonic"
	redislib "github.com/redis/go-redis/v9"
)

const defaultPrefix = "donote:"

// RedisNotifier publishes reminders on a per-user pub/sub channel for users who opted in.
type RedisNotifier struct {
	client *redislib.Client
	prefix string
}

func NewRedisNotifier(client *redislib.Client, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// Channel is the pub/sub channel a user's reminders are published on.
func (r *RedisNotifier) Channel(uid string) string {
	return r.prefix + "notifications:" + uid
}

func (r *RedisNotifier) permissionKey() string {
	return r.prefix + "notifications:granted"
}

// Grant opts the user in to reminders.
func (r *RedisNotifier) Grant(ctx context.Context, uid string) error {
	if err := r.client.SAdd(ctx, r.permissionKey(), uid).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Revoke opts the user out of reminders.
func (r *RedisNotifier) Revoke(ctx context.Context, uid string) error {
	if err := r.client.SRem(ctx, r.permissionKey(), uid).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Granted reports whether the user opted in.
func (r *RedisNotifier) Granted(ctx context.Context, uid string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.permissionKey(), uid).Result()
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	granted, err := r.Granted(ctx, n.UserID)
	if err != nil {
		return err
	}
	if !granted {
		return ErrPermissionDenied
	}
	payload, err := sonic.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(n.UserID), payload).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redislib.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
