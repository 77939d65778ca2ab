package main

import (
	"context"
	"time"

	config "MarketChat/global/config"
	"MarketChat/logger"
	"MarketChat/module/chat/message"
	chatsvc "MarketChat/module/chat/service"
	"MarketChat/module/notify"
	userstore "MarketChat/module/user/store"
	"MarketChat/service/chat"
	"MarketChat/service/chat/bus"
	"MarketChat/service/chat/handlers"
	"MarketChat/service/kafka"
	mgoSrv "MarketChat/service/mgo"
	"MarketChat/service/storage"
	redis "MarketChat/service/storage/redis"
	"MarketChat/tools/safe"
	sec "MarketChat/tools/security"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// app 进程内的全部组件
type app struct {
	cfg      *config.AppConfig
	verifier *sec.Verifier
	users    userstore.Directory
	store    message.Store
	conv     *chatsvc.Conversations
	presence storage.Presence
	direct   notify.Dispatcher
	gw       *chat.Server

	closers []func()
}

func newApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	a := &app{cfg: cfg, verifier: sec.NewVerifier(cfg.JWT.SecurityOptions())}

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}
	a.conv = chatsvc.NewConversations(a.store, a.users)

	if cfg.Redis.Enabled {
		a.presence = storage.NewRedisPresence(redis.GetRedis(), cfg.Redis.PresenceTTL)
	} else {
		a.presence = storage.NewMemPresence()
	}

	push, err := a.initNotify(ctx)
	if err != nil {
		return nil, err
	}

	relay, err := a.initBus()
	if err != nil {
		return nil, err
	}

	g := cfg.Gateway
	a.gw = chat.NewServer(chat.Options{
		NodeID:   cfg.NodeID,
		Verifier: a.verifier,
		Users:    a.users,
		Bus:      relay,
		Presence: a.presence,
		Manager: chat.ManagerConf{
			MaxPerUser:  g.MaxPerUser,
			EvictOldest: g.EvictOldest,
		},
		SendQueue:       g.SendQueue,
		ReadLimit:       g.ReadLimit,
		WriteWait:       g.WriteWait,
		PongWait:        g.PongWait,
		PingPeriod:      g.PingPeriod,
		HandlerTimeout:  g.HandlerTimeout,
		EventsPerSecond: g.EventsPerSecond,
		Burst:           g.Burst,
	})
	handlers.Register(a.gw,
		handlers.NewMessageHandler(a.conv, push, cfg.Notify.PushTimeout),
		handlers.NewSeenHandler(a.conv),
		handlers.NewTypingHandler(),
	)
	if err := a.gw.Start(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.gw.Close)
	return a, nil
}

func (a *app) initStores(ctx context.Context) error {
	switch a.cfg.Store.Users {
	case "memory":
		a.users = userstore.NewMemDirectory()
	case "postgres":
		pool, err := config.ConfigPostgres(ctx, a.cfg)
		if err != nil {
			return err
		}
		a.users = userstore.NewPgDirectory(pool)
		a.closers = append(a.closers, pool.Close)
	default:
		a.users = userstore.NewMongoDirectory(mgoSrv.TryGetDB)
	}

	var mongoStore *message.MongoStore
	switch a.cfg.Store.Conversations {
	case "memory":
		a.store = message.NewMemStore()
	default:
		mongoStore = message.NewMongoStore(mgoSrv.TryGetDB)
		a.store = mongoStore
	}

	// mongo 连上后补建索引
	mongoUsers, _ := a.users.(*userstore.MongoDirectory)
	if mongoStore != nil || mongoUsers != nil {
		safe.Go("mongo-indexes", func() {
			if err := mgoSrv.WaitReady(ctx, mgoSrv.Manager()); err != nil {
				return
			}
			ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if mongoStore != nil {
				if err := mongoStore.EnsureIndexes(ictx); err != nil {
					logger.Error("[App] ensure message indexes", zap.Error(err))
				}
			}
			if mongoUsers != nil {
				if err := mongoUsers.EnsureIndexes(ictx); err != nil {
					logger.Error("[App] ensure user indexes", zap.Error(err))
				}
			}
		})
	}
	return nil
}

// initNotify 返回网关用的推送入口；REST 的 /send-notification 总是同步发送
func (a *app) initNotify(ctx context.Context) (notify.Dispatcher, error) {
	direct := notify.NewDirect(a.users, notify.NewHTTPSender(a.cfg.Notify.HTTP))
	a.direct = direct

	switch a.cfg.Notify.Mode {
	case "direct":
		return direct, nil
	case "kafka":
		if !a.cfg.Kafka.Enabled || kafka.SyncProd == nil {
			return nil, errors.New("notify.mode=kafka requires kafka.enabled")
		}
		topic := a.cfg.Kafka.PushTopic
		kafka.RegisterHandler(topic, notify.ConsumeHandler(direct))
		safe.Go("push-consumer", func() {
			if err := kafka.StartConsumerGroup(ctx, a.cfg.Kafka.GroupID, kafka.Topics()); err != nil {
				logger.Error("[App] push consumer stopped", zap.Error(err))
			}
		})
		a.closers = append(a.closers, kafka.Close)
		return notify.NewKafkaQueue(kafka.SyncProd, topic), nil
	default:
		return notify.Nop{}, nil
	}
}

func (a *app) initBus() (bus.Bus, error) {
	subject := a.cfg.Bus.Subject
	switch a.cfg.Bus.Driver {
	case "redis":
		if !a.cfg.Redis.Enabled {
			return nil, errors.New("bus.driver=redis requires redis.enabled")
		}
		return bus.NewRedisBus(redis.GetRedis(), subject)
	case "nats":
		nc, err := config.ConfigNats(a.cfg)
		if err != nil {
			return nil, err
		}
		return bus.NewNatsBus(nc, subject)
	default:
		return bus.NewLocalBus(), nil
	}
}

// Close 逆序关闭
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.cfg.Redis.Enabled {
		_ = redis.CloseRedis()
	}
}
