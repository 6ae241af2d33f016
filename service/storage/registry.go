package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"PPoker/logger"
	"PPoker/service/presence"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ===== 配置 =====
type RegistryConfig struct {
	Prefix            string        // key 前缀，默认 ppk
	UseClusterTag     bool          // Redis Cluster 下用 hash-tag 把所有 key 放到同一个槽
	InactivityTimeout time.Duration // 超过这个时间没活动的登记会被 Sweep 清掉
}

// ===== Lua 脚本 =====

// 原子登记：已存在返回 -1
// KEYS[1] = reg key   KEYS[2] = idx zset   KEYS[3] = conn key
// ARGV[1] = identity  ARGV[2] = userId     ARGV[3] = connId(可为空)  ARGV[4] = nowMs
const luaRegister = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return -1
end
redis.call("HSET", KEYS[1], "userId", ARGV[2], "connId", ARGV[3], "login", ARGV[4], "last", ARGV[4])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[1])
if ARGV[3] ~= "" then
  redis.call("SET", KEYS[3], ARGV[1])
end
return 1
`

// 绑定/替换连接，返回被替换的 connId（未登记返回 nil）
// KEYS[1] = reg key   KEYS[2] = idx zset   KEYS[3] = new conn key
// ARGV[1] = identity  ARGV[2] = connId     ARGV[3] = nowMs  ARGV[4] = conn key 前缀
const luaBind = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
local prev = redis.call("HGET", KEYS[1], "connId") or ""
if prev ~= "" and prev ~= ARGV[2] then
  redis.call("DEL", ARGV[4] .. prev)
end
redis.call("HSET", KEYS[1], "connId", ARGV[2], "last", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
redis.call("SET", KEYS[3], ARGV[1])
if prev == ARGV[2] then
  return ""
end
return prev
`

// 按连接删除：只有登记里当前绑定的仍是这个连接才删
// KEYS[1] = conn key  KEYS[2] = idx zset
// ARGV[1] = connId    ARGV[2] = reg key 前缀
const luaRemoveByConn = `
local identity = redis.call("GET", KEYS[1])
if not identity then
  return 0
end
redis.call("DEL", KEYS[1])
local regKey = ARGV[2] .. identity
if redis.call("HGET", regKey, "connId") == ARGV[1] then
  redis.call("DEL", regKey)
  redis.call("ZREM", KEYS[2], identity)
  return 1
end
return 0
`

// KEYS[1] = reg key  KEYS[2] = idx zset
// ARGV[1] = identity ARGV[2] = conn key 前缀
const luaRemoveByIdentity = `
local conn = redis.call("HGET", KEYS[1], "connId")
if conn and conn ~= "" then
  redis.call("DEL", ARGV[2] .. conn)
end
local existed = redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return existed
`

// KEYS[1] = reg key  KEYS[2] = idx zset
// ARGV[1] = identity ARGV[2] = nowMs
const luaTouch = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return 1
`

// 清理 last < cutoff 的登记，返回被清理的身份
// KEYS[1] = idx zset
// ARGV[1] = cutoffMs ARGV[2] = reg key 前缀 ARGV[3] = conn key 前缀
const luaSweep = `
local victims = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1])
for _, id in ipairs(victims) do
  local regKey = ARGV[2] .. id
  local conn = redis.call("HGET", regKey, "connId")
  if conn and conn ~= "" then
    redis.call("DEL", ARGV[3] .. conn)
  end
  redis.call("DEL", regKey)
  redis.call("ZREM", KEYS[1], id)
end
return victims
`

// RedisRegistry 多实例共享的连接登记，所有写操作都是单个 Lua 脚本
type RedisRegistry struct {
	rdb  redis.UniversalClient
	conf RegistryConfig
	log  *zap.Logger
	now  func() time.Time

	luaRegister         *redis.Script
	luaBind             *redis.Script
	luaRemoveByConn     *redis.Script
	luaRemoveByIdentity *redis.Script
	luaTouch            *redis.Script
	luaSweep            *redis.Script
}

var _ presence.ConnectionRegistry = (*RedisRegistry)(nil)

func NewRedisRegistry(rdb redis.UniversalClient, conf RegistryConfig) *RedisRegistry {
	if conf.Prefix == "" {
		conf.Prefix = "ppk"
	}
	if conf.InactivityTimeout <= 0 {
		conf.InactivityTimeout = 30 * time.Minute
	}
	return &RedisRegistry{
		rdb:  rdb,
		conf: conf,
		log:  logger.Named("redis-registry"),
		now:  time.Now,

		luaRegister:         redis.NewScript(luaRegister),
		luaBind:             redis.NewScript(luaBind),
		luaRemoveByConn:     redis.NewScript(luaRemoveByConn),
		luaRemoveByIdentity: redis.NewScript(luaRemoveByIdentity),
		luaTouch:            redis.NewScript(luaTouch),
		luaSweep:            redis.NewScript(luaSweep),
	}
}

// ===== Key 构造 =====

// UseClusterTag=true: {ppk}:reg:<identity>
// false:              ppk:reg:<identity>
func (r *RedisRegistry) base() string {
	if r.conf.UseClusterTag {
		return "{" + r.conf.Prefix + "}"
	}
	return r.conf.Prefix
}

func (r *RedisRegistry) regPrefix() string  { return r.base() + ":reg:" }
func (r *RedisRegistry) connPrefix() string { return r.base() + ":conn:" }

func (r *RedisRegistry) regKey(identity string) string { return r.regPrefix() + identity }
func (r *RedisRegistry) connKey(connID string) string  { return r.connPrefix() + connID }

// 按最后活动时间排序的身份索引
func (r *RedisRegistry) indexKey() string { return r.base() + ":regidx" }

func (r *RedisRegistry) nowMs() int64 { return r.now().UnixMilli() }

// ===== ConnectionRegistry =====

func (r *RedisRegistry) IsConnected(ctx context.Context, identity string) bool {
	n, err := r.rdb.Exists(ctx, r.regKey(identity)).Result()
	if err != nil {
		r.log.Warn("exists failed", zap.String("identity", identity), zap.Error(err))
		return false
	}
	return n == 1
}

func (r *RedisRegistry) Register(ctx context.Context, identity, userID, connID string) (bool, error) {
	rc, err := r.luaRegister.Run(ctx, r.rdb,
		[]string{r.regKey(identity), r.indexKey(), r.connKey(connID)},
		identity, userID, connID, r.nowMs(),
	).Int64()
	if err != nil {
		return false, err
	}
	return rc == 1, nil
}

func (r *RedisRegistry) BindConnection(ctx context.Context, identity, connID string) (string, error) {
	prev, err := r.luaBind.Run(ctx, r.rdb,
		[]string{r.regKey(identity), r.indexKey(), r.connKey(connID)},
		identity, connID, r.nowMs(), r.connPrefix(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return prev, nil
}

func (r *RedisRegistry) RemoveByIdentity(ctx context.Context, identity string) {
	err := r.luaRemoveByIdentity.Run(ctx, r.rdb,
		[]string{r.regKey(identity), r.indexKey()},
		identity, r.connPrefix(),
	).Err()
	if err != nil {
		r.log.Warn("remove by identity failed", zap.String("identity", identity), zap.Error(err))
	}
}

func (r *RedisRegistry) RemoveByConnection(ctx context.Context, connID string) {
	err := r.luaRemoveByConn.Run(ctx, r.rdb,
		[]string{r.connKey(connID), r.indexKey()},
		connID, r.regPrefix(),
	).Err()
	if err != nil {
		r.log.Warn("remove by connection failed", zap.String("connId", connID), zap.Error(err))
	}
}

func (r *RedisRegistry) Touch(ctx context.Context, identity string) {
	err := r.luaTouch.Run(ctx, r.rdb,
		[]string{r.regKey(identity), r.indexKey()},
		identity, r.nowMs(),
	).Err()
	if err != nil {
		r.log.Debug("touch failed", zap.String("identity", identity), zap.Error(err))
	}
}

func (r *RedisRegistry) Info(ctx context.Context, identity string) (presence.Entry, bool) {
	m, err := r.rdb.HGetAll(ctx, r.regKey(identity)).Result()
	if err != nil {
		r.log.Warn("hgetall failed", zap.String("identity", identity), zap.Error(err))
		return presence.Entry{}, false
	}
	if len(m) == 0 {
		return presence.Entry{}, false
	}
	return entryFromHash(identity, m), true
}

func (r *RedisRegistry) Count(ctx context.Context) int {
	n, err := r.rdb.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		r.log.Warn("zcard failed", zap.Error(err))
		return 0
	}
	return int(n)
}

func (r *RedisRegistry) Stats(ctx context.Context) presence.Stats {
	identities, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		r.log.Warn("zrange failed", zap.Error(err))
		return presence.Stats{}
	}
	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(identities))
	for i, id := range identities {
		cmds[i] = pipe.HGetAll(ctx, r.regKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		r.log.Warn("stats pipeline failed", zap.Error(err))
		return presence.Stats{}
	}
	entries := make([]presence.Entry, 0, len(identities))
	for i, cmd := range cmds {
		if m := cmd.Val(); len(m) > 0 {
			entries = append(entries, entryFromHash(identities[i], m))
		}
	}
	return presence.ComputeStats(entries, r.now())
}

func (r *RedisRegistry) Sweep(ctx context.Context, now time.Time) []string {
	cutoff := now.Add(-r.conf.InactivityTimeout).UnixMilli()
	victims, err := r.luaSweep.Run(ctx, r.rdb,
		[]string{r.indexKey()},
		cutoff, r.regPrefix(), r.connPrefix(),
	).StringSlice()
	if err != nil {
		r.log.Warn("sweep failed", zap.Error(err))
		return nil
	}
	if len(victims) > 0 {
		r.log.Info("swept inactive registrations", zap.Int("count", len(victims)))
	}
	return victims
}

func entryFromHash(identity string, m map[string]string) presence.Entry {
	return presence.Entry{
		Identity:     identity,
		UserID:       m["userId"],
		ConnID:       m["connId"],
		LoginTime:    msToTime(m["login"]),
		LastActivity: msToTime(m["last"]),
	}
}

func msToTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
