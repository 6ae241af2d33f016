package vote

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPoker/data/database"
	"PPoker/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store interface {
	// Upsert 同一轮重复投票覆盖旧值
	Upsert(ctx context.Context, v *Vote) (*Vote, error)
	ListRound(ctx context.Context, sessionID string, round int) ([]*Vote, error)
	DeleteRound(ctx context.Context, sessionID string, round int) (int64, error)
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
}

// ===== mongo =====

type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: database.Collection(db, &Vote{}), now: time.Now}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "round", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "round", Value: 1}}},
	})
	return errs.Wrap(err)
}

func (s *MongoStore) Upsert(ctx context.Context, v *Vote) (*Vote, error) {
	now := s.now()
	filter := bson.M{"session_id": v.SessionID, "user_id": v.UserID, "round": v.Round}
	update := bson.M{
		"$set":         bson.M{"value": v.Value, "username": v.Username, "updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var out Vote
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out); err != nil {
		return nil, errs.WrapMsg(err, "upsert vote", "sessionId", v.SessionID, "userId", v.UserID)
	}
	return &out, nil
}

func (s *MongoStore) ListRound(ctx context.Context, sessionID string, round int) ([]*Vote, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"session_id": sessionID, "round": round},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "list votes", "sessionId", sessionID)
	}
	out := make([]*Vote, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode votes", "sessionId", sessionID)
	}
	return out, nil
}

func (s *MongoStore) DeleteRound(ctx context.Context, sessionID string, round int) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"session_id": sessionID, "round": round})
	if err != nil {
		return 0, errs.WrapMsg(err, "delete round", "sessionId", sessionID)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, errs.WrapMsg(err, "delete votes", "sessionId", sessionID)
	}
	return res.DeletedCount, nil
}

// ===== memory =====

type key struct {
	session string
	user    string
	round   int
}

type MemoryStore struct {
	mu    sync.Mutex
	votes map[key]*Vote
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{votes: make(map[key]*Vote), now: time.Now}
}

func (m *MemoryStore) Upsert(_ context.Context, v *Vote) (*Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := key{v.SessionID, v.UserID, v.Round}
	cur, ok := m.votes[k]
	if !ok {
		cur = &Vote{ID: primitive.NewObjectID(), SessionID: v.SessionID, UserID: v.UserID, Round: v.Round, CreatedAt: now}
		m.votes[k] = cur
	}
	cur.Value, cur.Username, cur.UpdatedAt = v.Value, v.Username, now
	cp := *cur
	return &cp, nil
}

func (m *MemoryStore) ListRound(_ context.Context, sessionID string, round int) ([]*Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Vote, 0)
	for k, v := range m.votes {
		if k.session == sessionID && k.round == round {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeleteRound(_ context.Context, sessionID string, round int) (int64, error) {
	return m.deleteWhere(func(k key) bool { return k.session == sessionID && k.round == round }), nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) (int64, error) {
	return m.deleteWhere(func(k key) bool { return k.session == sessionID }), nil
}

func (m *MemoryStore) deleteWhere(match func(key) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.votes {
		if match(k) {
			delete(m.votes, k)
			n++
		}
	}
	return n
}
