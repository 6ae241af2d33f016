package config

import (
	"time"

	"PPoker/logger"
)

const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"

	StorageMongo  = "mongo"
	StorageMemory = "memory" // session/投票/用户都放内存，单机调试用
)

type AppConfig struct {
	NodeId   string         `yaml:"node_id"` // 节点ID，也用作雪花 nodeID 的种子
	Storage  string         `yaml:"storage"` // mongo | memory
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	JWT      JWTConfig      `yaml:"jwt"`
	Presence PresenceConfig `yaml:"presence"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Log      logger.Config  `yaml:"log"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"` // 为空则不校验 Origin
	CookieSecure   bool     `yaml:"cookie_secure"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"` // 为空则不启动 health 服务
}

type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Alg    string        `yaml:"alg"`
	TTL    time.Duration `yaml:"ttl"`
}

type PresenceConfig struct {
	RegistryBackend   string        `yaml:"registry_backend"` // memory | redis
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	EvictReplaced     bool          `yaml:"evict_replaced"` // 同一身份新连接绑定时踢掉旧连接
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	SendQueueSize     int           `yaml:"send_queue_size"`
}

type MongoConfig struct {
	Uri         string `yaml:"uri"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	MaxPoolSize int    `yaml:"max_pool_size"`
	MaxRetry    int    `yaml:"max_retry"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"` // 为空则不记录登录审计
}

type NATSConfig struct {
	URL     string `yaml:"url"` // 为空则不做跨实例广播
	Subject string `yaml:"subject"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // 为空则不发布在线状态事件
	Topic   string   `yaml:"topic"`
}
