package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"PPoker/data/database/mgo/mongoutil"
	"PPoker/global/config"
	"PPoker/logger"
	"PPoker/middleware"
	mwsec "PPoker/middleware/security"
	"PPoker/module/session"
	"PPoker/module/user"
	"PPoker/module/vote"
	"PPoker/service/gateway"
	"PPoker/service/gateway/handlers"
	"PPoker/service/kafka"
	"PPoker/service/metrics"
	mgoSrv "PPoker/service/mgo"
	"PPoker/service/natsx"
	"PPoker/service/presence"
	"PPoker/service/storage"
	redisx "PPoker/service/storage/redis"
	"PPoker/tools/errs"
	"PPoker/tools/ids"
	"PPoker/tools/safe"
	"PPoker/tools/security"
	"PPoker/tools/specialerror"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// stores 三类持久化，mongo 或内存二选一
type stores struct {
	sessions session.Store
	votes    vote.Store
	users    user.Store
}

// 收集退出时要执行的清理，按注册的逆序执行
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.Global = cfg
	logger.Init(cfg.Log)
	defer logger.Sync()
	ids.SetNodeID(cfg.NodeNumber())
	registerDriverErrors()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.run()

	log := logger.Named("serve")
	m := metrics.NewMetrics()

	// ===== 在线登记 =====
	registry, err := buildRegistry(cfg, &cleanup)
	if err != nil {
		return err
	}
	safe.SafeGo(func() { presence.RunSweeper(ctx, registry, cfg.Presence.SweepInterval) })

	// ===== 持久化 =====
	st, err := buildStores(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	var auditor user.Auditor = user.NopAuditor{}
	if cfg.Postgres.DSN != "" {
		pg, err := user.OpenPgAuditor(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		cleanup.add(func() { _ = pg.Close() })
		auditor = pg
	}

	// ===== 在线状态事件流 =====
	var sink presence.EventSink = presence.NopSink{}
	if len(cfg.Kafka.Brokers) > 0 {
		kc := kafka.DefaultConfig()
		kc.Brokers = cfg.Kafka.Brokers
		kc.Topic = cfg.Kafka.Topic
		producer, err := kafka.NewSyncProducer(kc)
		if err != nil {
			return err
		}
		pub := kafka.NewPresencePublisher(producer, kc.Topic)
		cleanup.add(func() { _ = pub.Close() })
		sink = pub
	}

	// ===== 协议 + 网关 =====
	presenceStore := session.ForPresence(st.sessions)
	rooms := presence.NewRoomIndex()
	tracker := presence.NewMemoryTracker()
	reconciler := presence.NewReconciler(rooms, tracker, m)
	proto := presence.NewProtocol(rooms, tracker, reconciler, presenceStore, presence.NewLifecycleHooks(presenceStore, sink))

	jwt := security.Options{Secret: config.GetJwtSecret(), Alg: cfg.JWT.Alg, TTL: cfg.JWT.TTL}

	// bridge 的投递回调要用到 srv，srv 构造又要用到 bridge
	var srv *gateway.Server
	var bridge gateway.GlobalBridge
	if cfg.NATS.URL != "" {
		b, err := natsx.NewBridge(natsx.BridgeConfig{
			Client:  natsx.NatsxConfig{Servers: []string{cfg.NATS.URL}, Name: "ppoker-" + cfg.NodeId},
			Subject: cfg.NATS.Subject,
		}, func(frame []byte) { srv.DeliverRemote(frame) })
		if err != nil {
			return err
		}
		cleanup.add(func() { _ = b.Close() })
		bridge = b
	}

	srv = gateway.NewServer(gateway.Options{
		NodeID: cfg.NodeId,
		Conf: gateway.ManagerConf{
			SendQueueSize: cfg.Presence.SendQueueSize,
			WriteTimeout:  cfg.Presence.WriteTimeout,
			PingInterval:  cfg.Presence.PingInterval,
		},
		EvictReplaced:  cfg.Presence.EvictReplaced,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		JWT:            jwt,
		Registry:       registry,
		Protocol:       proto,
		Rooms:          rooms,
		Bridge:         bridge,
		Metrics:        m,
	})
	handlers.Register(srv.Disp(), proto)
	srv.Start()
	cleanup.add(srv.Stop)

	if b, ok := bridge.(*natsx.Bridge); ok {
		if err := b.Start(ctx); err != nil {
			return err
		}
	}

	// ===== HTTP =====
	r := buildRouter(cfg, jwt, srv, st, registry, tracker, auditor, m)
	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errs.WrapMsg(err, "http serve", "addr", cfg.HTTP.Addr)
		}
	}()

	// ===== gRPC health =====
	if cfg.GRPC.Addr != "" {
		gs, err := startHealth(cfg.GRPC.Addr, errCh)
		if err != nil {
			return err
		}
		cleanup.add(gs.GracefulStop)
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if e := httpSrv.Shutdown(shutdownCtx); e != nil {
		log.Warn("http shutdown", zap.Error(e))
	}
	return err
}

func buildRegistry(cfg config.AppConfig, cleanup *closers) (presence.ConnectionRegistry, error) {
	if cfg.Presence.RegistryBackend != config.RegistryRedis {
		return presence.NewMemoryRegistry(presence.WithInactivityTimeout(cfg.Presence.InactivityTimeout)), nil
	}
	if err := redisx.InitRedis(redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}); err != nil {
		return nil, err
	}
	cleanup.add(func() { _ = redisx.CloseRedis() })
	return storage.NewRedisRegistry(redisx.GetRedis(), storage.RegistryConfig{
		InactivityTimeout: cfg.Presence.InactivityTimeout,
	}), nil
}

func buildStores(ctx context.Context, cfg config.AppConfig, cleanup *closers) (stores, error) {
	if cfg.Storage == config.StorageMemory {
		return stores{
			sessions: session.NewMemoryStore(),
			votes:    vote.NewMemoryStore(),
			users:    user.NewMemoryStore(),
		}, nil
	}

	mgr := mgoSrv.NewManager(mgoSrv.Dialer(&mongoutil.Config{
		Uri:         cfg.Mongo.Uri,
		Database:    cfg.Mongo.Database,
		Username:    cfg.Mongo.Username,
		Password:    cfg.Mongo.Password,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MaxRetry:    cfg.Mongo.MaxRetry,
	}))
	mgr.StartAsync(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := mgr.WaitReady(waitCtx)
	if err != nil {
		return stores{}, err
	}
	cleanup.add(func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Client().Disconnect(c)
	})

	ss, vs, us := session.NewMongoStore(db), vote.NewMongoStore(db), user.NewMongoStore(db)
	for _, ix := range []interface{ EnsureIndexes(context.Context) error }{ss, vs, us} {
		if err := ix.EnsureIndexes(ctx); err != nil {
			return stores{}, err
		}
	}
	return stores{sessions: ss, votes: vs, users: us}, nil
}

func buildRouter(cfg config.AppConfig, jwt security.Options, srv *gateway.Server, st stores,
	registry presence.ConnectionRegistry, tracker presence.MembershipTracker, auditor user.Auditor, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	middleware.NewManager(
		middleware.Recovery(),
		middleware.RequestLog(),
		middleware.Origin(cfg.HTTP.AllowedOrigins),
	).Install(r)

	r.GET("/ws", srv.HandleWS)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "node": cfg.NodeId}) })

	authOpts := mwsec.DefaultOptions(jwt)
	auth := middleware.RouteOpt{Auth: mwsec.Middleware(authOpts)}
	api := r.Group("/api")

	user.NewHandler(st.users, user.Options{
		JWT:          jwt,
		CookieName:   authOpts.CookieName,
		CookieSecure: cfg.HTTP.CookieSecure,
		Registry:     registry,
		Audit:        auditor,
		Metrics:      m,
	}).Register(api, auth)

	notifier := srv.Notifier()
	session.NewHandler(st.sessions, vote.NewBook(st.votes), notifier, tracker).Register(api, auth)
	vote.NewHandler(st.votes, st.sessions, notifier).Register(api, auth)
	return r
}

func startHealth(addr string, errCh chan<- error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errs.WrapMsg(err, "grpc listen", "addr", addr)
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("ppoker.Gateway", healthpb.HealthCheckResponse_SERVING)
	go func() {
		logger.Info("grpc health listening", zap.String("addr", addr))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- errs.WrapMsg(err, "grpc serve", "addr", addr)
		}
	}()
	return gs, nil
}

// registerDriverErrors 把 mongo 驱动的错误翻译成业务错误码
func registerDriverErrors() {
	_ = specialerror.AddErrHandler(func(err error) *errs.CodeError {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			return &errs.ErrRecordNotFound
		case mongo.IsDuplicateKeyError(err):
			return &errs.ErrRecordIsExist
		}
		return nil
	})
}
