package presence

import (
	"hash/fnv"
	"sync"

	"PPoker/logger"
	"PPoker/service/metrics"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const reconcileShards = 64

// Reconciler 以房间订阅为真相，重算某个 session 的在线成员并覆盖 tracker
type Reconciler struct {
	rooms   RoomSource
	tracker MembershipTracker
	metrics *metrics.Metrics
	log     *zap.Logger

	// 同一 session 的读房间 + 覆盖缓存必须串行，否则旧快照可能盖掉新快照
	locks [reconcileShards]sync.Mutex
}

func (r *Reconciler) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &r.locks[h.Sum32()%reconcileShards]
}

func NewReconciler(rooms RoomSource, tracker MembershipTracker, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		rooms:   rooms,
		tracker: tracker,
		metrics: m,
		log:     logger.Named("reconciler"),
	}
}

// ConnectedUsers 按身份去重。顺序取该身份最早的订阅，展示字段取最近的订阅。
func (r *Reconciler) ConnectedUsers(sessionID string) []ConnectedUser {
	subs := r.rooms.RoomMembers(RoomName(sessionID))
	subs = lo.Filter(subs, func(s Subscription, _ int) bool {
		return s.Identity.UserID != "" && s.Identity.Username != ""
	})

	latest := make(map[string]Subscription, len(subs))
	for _, s := range subs {
		cur, ok := latest[s.Identity.UserID]
		if !ok || !s.SubscribedAt.Before(cur.SubscribedAt) {
			latest[s.Identity.UserID] = s
		}
	}

	first := lo.UniqBy(subs, func(s Subscription) string { return s.Identity.UserID })
	return lo.Map(first, func(s Subscription, _ int) ConnectedUser {
		l := latest[s.Identity.UserID]
		return ConnectedUser{
			UserID:   l.Identity.UserID,
			Username: l.Identity.Username,
			SocketID: l.ConnID,
		}
	})
}

// Reconcile 覆盖 tracker 并返回快照；之后的广播都必须用这个快照
func (r *Reconciler) Reconcile(sessionID string) Snapshot {
	mu := r.lockFor(sessionID)
	mu.Lock()
	snap := Snapshot{SessionID: sessionID, Users: r.ConnectedUsers(sessionID)}
	drift := r.tracker.Replace(sessionID, snap.UserIDs())
	mu.Unlock()

	r.metrics.RecordReconcile(drift)
	r.metrics.SetSessionsTracked(len(r.tracker.AllCounts()))
	r.log.Debug("session reconciled",
		zap.String("sessionId", sessionID),
		zap.Int("count", snap.Count()),
		zap.Bool("drift", drift))
	return snap
}
