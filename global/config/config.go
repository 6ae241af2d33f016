package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"PPoker/tools/errs"

	"gopkg.in/yaml.v3"
)

// DevJWTSecret 内置的开发密钥，只允许在 memory 模式下使用
const DevJWTSecret = "ppoker-dev-secret"

// Global 进程级配置，serve 启动时由 Load 覆盖
var Global = Default()

// Default 代码内默认值
func Default() AppConfig {
	return AppConfig{
		NodeId:  "gateway_10",
		Storage: StorageMongo,
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		JWT: JWTConfig{
			Secret: DevJWTSecret,
			Alg:    "HS256",
			TTL:    24 * time.Hour,
		},
		Presence: PresenceConfig{
			RegistryBackend:   RegistryMemory,
			SweepInterval:     10 * time.Minute,
			InactivityTimeout: 30 * time.Minute,
			EvictReplaced:     true,
			WriteTimeout:      10 * time.Second,
			PingInterval:      30 * time.Second,
			SendQueueSize:     256,
		},
		Mongo: MongoConfig{
			Uri:         "mongodb://localhost:27017",
			Database:    "planning_poker",
			MaxPoolSize: 20,
			MaxRetry:    3,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		NATS: NATSConfig{
			Subject: "ppoker.global",
		},
		Kafka: KafkaConfig{
			Topic: "ppoker.presence",
		},
	}
}

// Load 默认值 -> yaml 文件（可选）-> 环境变量，最后校验
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errs.WrapMsg(err, "read config", "path", path)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errs.WrapMsg(err, "parse config", "path", path)
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *AppConfig, lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PPOKER_HTTP_ADDR", &cfg.HTTP.Addr)
	str("PPOKER_GRPC_ADDR", &cfg.GRPC.Addr)
	str("PPOKER_JWT_SECRET", &cfg.JWT.Secret)
	str("PPOKER_MONGO_URI", &cfg.Mongo.Uri)
	str("PPOKER_MONGO_DATABASE", &cfg.Mongo.Database)
	str("PPOKER_REDIS_ADDR", &cfg.Redis.Addr)
	str("PPOKER_REDIS_PASSWORD", &cfg.Redis.Password)
	str("PPOKER_POSTGRES_DSN", &cfg.Postgres.DSN)
	str("PPOKER_NATS_URL", &cfg.NATS.URL)
	str("PPOKER_REGISTRY_BACKEND", &cfg.Presence.RegistryBackend)
	str("PPOKER_LOG_LEVEL", &cfg.Log.Level)
	str("PPOKER_NODE_ID", &cfg.NodeId)
	str("PPOKER_STORAGE", &cfg.Storage)

	if v, ok := lookup("PPOKER_KAFKA_BROKERS"); ok && v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Kafka.Brokers = brokers
	}
	if v, ok := lookup("PPOKER_EVICT_REPLACED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Presence.EvictReplaced = b
		}
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errs.ErrArgs.WrapMsg("jwt secret is empty")
	}
	if c.JWT.Secret == DevJWTSecret && c.Storage != StorageMemory {
		return errs.ErrArgs.WrapMsg("jwt secret must be set (PPOKER_JWT_SECRET) unless storage is memory")
	}
	switch c.Presence.RegistryBackend {
	case RegistryMemory, RegistryRedis:
	default:
		return errs.ErrArgs.WrapMsg("unknown registry backend", "backend", c.Presence.RegistryBackend)
	}
	switch c.Storage {
	case StorageMongo, StorageMemory:
	default:
		return errs.ErrArgs.WrapMsg("unknown storage", "storage", c.Storage)
	}
	if c.Presence.SweepInterval <= 0 {
		return errs.ErrArgs.WrapMsg("sweep interval must be positive")
	}
	if c.Presence.InactivityTimeout <= 0 {
		return errs.ErrArgs.WrapMsg("inactivity timeout must be positive")
	}
	return nil
}

func GetJwtSecret() []byte {
	return []byte(Global.JWT.Secret)
}

// NodeNumber 由 NodeId 推出雪花 nodeID（0~1023）
func (c AppConfig) NodeNumber() int64 {
	var h int64
	for _, r := range c.NodeId {
		h = (h*31 + int64(r)) % 1024
	}
	return h
}
