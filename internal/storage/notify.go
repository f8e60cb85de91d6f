package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Postgres LISTEN/NOTIFY channel names. Payloads are JSON-encoded
// model.FactEvent values.
const (
	ChannelFacts     = "factstore_facts"
	ChannelConflicts = "factstore_conflicts"
)

// Channels lists every channel the store publishes on.
var Channels = []string{ChannelFacts, ChannelConflicts}

// MaxNotifyPayload is the largest payload NOTIFY accepts, in bytes.
const MaxNotifyPayload = 7999

// ErrPayloadTooLarge is returned by Notify for payloads over MaxNotifyPayload.
var ErrPayloadTooLarge = errors.New("storage: notification payload too large")

var errNoNotifyConn = errors.New("storage: notify connection not configured")

// Listen subscribes the notify connection to channels, or to Channels when
// none are given. It stops at the first channel that fails.
func (db *DB) Listen(ctx context.Context, channels ...string) error {
	if db.notifyConn == nil {
		return errNoNotifyConn
	}
	if len(channels) == 0 {
		channels = Channels
	}
	for _, ch := range channels {
		if _, err := db.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("storage: listen %s: %w", ch, err)
		}
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on a listened
// channel.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if db.notifyConn == nil {
		return "", "", errNoNotifyConn
	}
	n, err := db.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return n.Channel, n.Payload, nil
}

// Notify publishes payload on channel through the query pool, so every
// instance listening on the database receives it.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	if len(payload) > MaxNotifyPayload {
		return fmt.Errorf("%w: %d bytes on %s", ErrPayloadTooLarge, len(payload), channel)
	}
	if _, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}
