package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"marketgo/internal/api"
	"marketgo/internal/bus"
	"marketgo/internal/chat"
	"marketgo/internal/config"
	"marketgo/internal/events"
	"marketgo/internal/logging"
	"marketgo/internal/notifications"
	"marketgo/internal/orders"
	"marketgo/internal/persistence"
	"marketgo/internal/realtime"
	"marketgo/internal/transport"
)

// Runtime assembles the full client stack: config, logging, cache, bus,
// transport, connection manager, chat client and order watcher. It is
// built once at process start and shared by every surface; the connection
// manager inside is the process-wide singleton the hook layer relies on.
type Runtime struct {
	Config   config.AppConfig
	Paths    Paths
	LogMgr   *logging.Manager
	Logger   *slog.Logger
	DB       *sql.DB
	Bus      bus.MessageBus
	Manager  *realtime.Manager
	Status   *realtime.Debouncer
	Store    *chat.ThreadStore
	Chat     *chat.Client
	Orders   *orders.Watcher
	API      *api.Client
	Identity realtime.Identity

	writer *persistence.WriterQueue
	cache  *persistence.CacheWriter
	notify *NotificationService

	threadRepo  *persistence.ThreadRepo
	messageRepo *persistence.MessageRepo
}

// NewRuntime wires the stack without starting any background work.
func NewRuntime(ctx context.Context, cfg config.AppConfig, identity realtime.Identity, paths Paths) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	logger := logMgr.Logger("app")

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = logMgr.Close()

		return nil, fmt.Errorf("open cache db: %w", err)
	}

	messageBus := bus.New(logMgr.Logger("bus"))

	ws, err := transport.NewWebSocketTransport(cfg.Server.BaseURL, cfg.Realtime.HandshakeTimeout())
	if err != nil {
		_ = db.Close()
		_ = logMgr.Close()

		return nil, err
	}

	manager := realtime.NewManager(logMgr.Logger("realtime"), messageBus, ws, realtime.Options{
		ReconnectDelay: cfg.Realtime.ReconnectDelay(),
	})
	status := realtime.NewDebouncer(logMgr.Logger("realtime.status"), messageBus, cfg.Realtime.StatusDebounce())

	restClient := api.NewClient(logMgr.Logger("api"), cfg.Server.BaseURL, cfg.Server.Token)
	store := chat.NewThreadStore(identity.UserID)
	chatClient := chat.NewClient(logMgr.Logger("chat"), manager, messageBus, store, restClient, identity, status)

	role := orders.Role(identity.Role)
	if role != orders.RoleCustomer && role != orders.RoleMerchant && role != orders.RoleAdmin {
		role = orders.RoleCustomer
	}
	orderWatcher := orders.NewWatcher(logMgr.Logger("orders"), manager, messageBus, role, identity.UserID, identity.ShopID)

	threadRepo := persistence.NewThreadRepo(db)
	messageRepo := persistence.NewMessageRepo(db)
	writer := persistence.NewWriterQueue(logMgr.Logger("persistence"), 0)
	cache := persistence.NewCacheWriter(logMgr.Logger("persistence.cache"), messageBus, store, messageRepo, threadRepo, writer)

	currentConfig := func() config.AppConfig { return cfg }
	sender := notifications.NewDesktopSender(logMgr.Logger("notifications"))
	notify := NewNotificationService(messageBus, identity.UserID, currentConfig, sender, logMgr.Logger("app.notifications"))

	return &Runtime{
		Config:      cfg,
		Paths:       paths,
		LogMgr:      logMgr,
		Logger:      logger,
		DB:          db,
		Bus:         messageBus,
		Manager:     manager,
		Status:      status,
		Store:       store,
		Chat:        chatClient,
		Orders:      orderWatcher,
		API:         restClient,
		Identity:    identity,
		writer:      writer,
		cache:       cache,
		notify:      notify,
		threadRepo:  threadRepo,
		messageRepo: messageRepo,
	}, nil
}

// Start preloads the cache, starts the background services and connects.
func (r *Runtime) Start(ctx context.Context) error {
	if err := persistence.Preload(ctx, r.threadRepo, r.messageRepo, r.Store); err != nil {
		r.Logger.Warn("cache preload failed", "error", err)
	}

	r.Status.Start(ctx)
	r.writer.Start(ctx)
	r.cache.Start(ctx)
	r.notify.Start(ctx)
	r.Chat.Start(ctx)
	r.Orders.Start()

	if err := r.Manager.Connect(ctx, r.Identity); err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}

	return nil
}

// Close releases the stack in reverse dependency order.
func (r *Runtime) Close() {
	r.Orders.Stop()
	r.Chat.Stop()
	r.Manager.Disconnect()
	r.Bus.Close()
	if err := r.DB.Close(); err != nil {
		r.Logger.Warn("close cache db", "error", err)
	}
	if err := r.LogMgr.Close(); err != nil {
		slog.Warn("close log manager", "error", err)
	}
}

// ConnectionState exposes the raw manager state for diagnostics.
func (r *Runtime) ConnectionState() events.ConnectionState {
	return r.Manager.State()
}
