package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Notification is one payload received on a LISTEN channel.
type Notification struct {
	Channel string
	Payload string
}

// Listener holds a dedicated pool connection in LISTEN mode and hands every
// payload to a callback. The change-feed triggers in the migrations publish
// on this channel.
type Listener struct {
	pool    *pgxpool.Pool
	channel string
	logger  zerolog.Logger
	backoff time.Duration
}

func NewListener(pool *pgxpool.Pool, channel string, logger zerolog.Logger) *Listener {
	return &Listener{
		pool:    pool,
		channel: channel,
		logger:  logger.With().Str("component", "listener").Str("channel", channel).Logger(),
		backoff: 2 * time.Second,
	}
}

// Run blocks until ctx is cancelled, reconnecting after connection loss.
func (l *Listener) Run(ctx context.Context, handle func(Notification)) error {
	for {
		err := l.listen(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn().Err(err).Dur("retry_in", l.backoff).Msg("change feed connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context, handle func(Notification)) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	// A LISTEN connection must not go back to the pool with the
	// subscription still active.
	defer func() {
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info().Msg("listening for changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		handle(Notification{Channel: n.Channel, Payload: n.Payload})
	}
}
