package bot

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

const postgresNotifyChannelCatalogReload = "catalog_reload"

var notifierRetryInterval = 5 * time.Second

// CatalogNotifier tells other bot instances sharing the database to
// reload their prompt and service catalogs.
type CatalogNotifier interface {
	// ID identifies this instance, so it can ignore its own notifications
	ID() string

	// Notify asks other instances to reload
	Notify(ctx context.Context) error

	// Listen calls reload for each notification from another instance,
	// until ctx is canceled
	Listen(ctx context.Context, reload func(ctx context.Context)) error
}

func newCatalogNotifier(cfg *Config, db DBI, logger *slog.Logger) CatalogNotifier {
	id := uuid.NewString()
	log := logger.With(loggerNameKey, "catalog_notifier", "notifier_id", id)
	if cfg.DatabaseType == dbTypePostgres {
		return &postgresNotifier{
			id:     id,
			dsn:    cfg.DSN(),
			db:     db,
			logger: log,
		}
	}
	return &localNotifier{id: id, logger: log}
}

// localNotifier is used with SQLite and MySQL, where only a single bot
// instance is expected to run
type localNotifier struct {
	id     string
	logger *slog.Logger
}

func (l *localNotifier) ID() string {
	return l.id
}

func (l *localNotifier) Notify(ctx context.Context) error {
	l.logger.DebugContext(ctx, "no other instances to notify")
	return nil
}

func (l *localNotifier) Listen(ctx context.Context, _ func(ctx context.Context)) error {
	l.logger.DebugContext(ctx, "listener called")
	<-ctx.Done()
	return nil
}

type postgresNotifier struct {
	id     string
	dsn    string
	db     DBI
	logger *slog.Logger
}

func (p *postgresNotifier) ID() string {
	return p.id
}

func (p *postgresNotifier) Notify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbNotifierSendTimeout)
	defer cancel()
	err := p.db.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		postgresNotifyChannelCatalogReload,
		p.id,
	).Error
	if err != nil {
		p.logger.ErrorContext(ctx, "error sending catalog reload notification", tint.Err(err))
		return fmt.Errorf("error sending notification: %w", err)
	}
	p.logger.InfoContext(ctx, "sent catalog reload notification")
	return nil
}

// Listen keeps a dedicated connection listening on the catalog reload
// channel. Connection errors are logged and the connection is
// re-established after notifierRetryInterval, so it only returns once
// ctx is canceled.
func (p *postgresNotifier) Listen(ctx context.Context, reload func(ctx context.Context)) error {
	logger := p.logger.With("channel", postgresNotifyChannelCatalogReload)
	logger.InfoContext(ctx, "starting db listener")

	for {
		err := p.listen(ctx, logger, reload)
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "db listener stopped")
			return nil
		}
		logger.ErrorContext(
			ctx,
			"db listener failed, retrying",
			tint.Err(err),
			"retry_interval", notifierRetryInterval,
		)
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "db listener stopped")
			return nil
		case <-time.After(notifierRetryInterval):
		}
	}
}

// listen connects, listens, and calls reload for each notification
// until the connection fails or ctx is canceled
func (p *postgresNotifier) listen(
	ctx context.Context,
	logger *slog.Logger,
	reload func(ctx context.Context),
) error {
	config, err := pgxpool.ParseConfig(p.dsn)
	if err != nil {
		return fmt.Errorf("error parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("error creating connection pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("error acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(
		ctx,
		fmt.Sprintf("LISTEN %s", postgresNotifyChannelCatalogReload),
	); err != nil {
		return fmt.Errorf("error setting up listener: %w", err)
	}
	logger.InfoContext(ctx, "started listening on channel")

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("error waiting for notification: %w", err)
		}
		if notification.Payload == p.id {
			logger.DebugContext(ctx, "received notification from self, ignoring")
			continue
		}
		logger.InfoContext(ctx, "received catalog reload notification", "from", notification.Payload)
		reload(ctx)
	}
}
