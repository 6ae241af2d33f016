package session

import (
	"context"
	"errors"
	"time"

	"PPoker/data/database"
	"PPoker/service/presence"
	"PPoker/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store 持久化 session；找不到统一返回 errs.ErrSessionNotFound
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListVisible(ctx context.Context, userID string) ([]*Session, error)
	AddParticipant(ctx context.Context, id string, m Member) (*Session, error)
	RemoveParticipant(ctx context.Context, id, userID string) (bool, error)
	UpdateTicket(ctx context.Context, id string, t Ticket) error
	SetVotesRevealed(ctx context.Context, id string, revealed bool) error
	Delete(ctx context.Context, id string) error
}

type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: database.Collection(db, &Session{}), now: time.Now}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_by.user_id", Value: 1}}},
		{Keys: bson.D{{Key: "is_public", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	return errs.Wrap(err)
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, errs.ErrSessionNotFound.WrapMsg("invalid id", "sessionId", id)
	}
	return oid, nil
}

func (s *MongoStore) Create(ctx context.Context, sess *Session) error {
	now := s.now()
	if sess.ID.IsZero() {
		sess.ID = primitive.NewObjectID()
	}
	sess.CreatedAt, sess.UpdatedAt = now, now
	if sess.CurrentRound <= 0 {
		sess.CurrentRound = 1
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}
	if sess.Participants == nil {
		sess.Participants = []Member{}
	}
	_, err := s.coll.InsertOne(ctx, sess)
	return errs.Wrap(err)
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Session, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var out Session
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrSessionNotFound.WrapMsg("get", "sessionId", id)
		}
		return nil, errs.WrapMsg(err, "find session", "sessionId", id)
	}
	return &out, nil
}

// ListVisible 自己创建的 + 公开的，新的在前
func (s *MongoStore) ListVisible(ctx context.Context, userID string) ([]*Session, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"created_by.user_id": userID},
		bson.M{"is_public": true},
	}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, errs.WrapMsg(err, "list sessions")
	}
	out := make([]*Session, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode sessions")
	}
	return out, nil
}

// AddParticipant 已在列表里时不重复添加，返回更新后的 session
func (s *MongoStore) AddParticipant(ctx context.Context, id string, m Member) (*Session, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "participants.user_id": bson.M{"$ne": m.UserID}},
		bson.M{"$push": bson.M{"participants": m}, "$set": bson.M{"updated_at": s.now()}},
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "add participant", "sessionId", id)
	}
	return s.Get(ctx, id)
}

func (s *MongoStore) RemoveParticipant(ctx context.Context, id, userID string) (bool, error) {
	oid, err := objectID(id)
	if err != nil {
		return false, err
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$pull": bson.M{"participants": bson.M{"user_id": userID}}, "$set": bson.M{"updated_at": s.now()}},
	)
	if err != nil {
		return false, errs.WrapMsg(err, "remove participant", "sessionId", id)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) UpdateTicket(ctx context.Context, id string, t Ticket) error {
	return s.set(ctx, id, bson.M{"current_ticket": t})
}

func (s *MongoStore) SetVotesRevealed(ctx context.Context, id string, revealed bool) error {
	return s.set(ctx, id, bson.M{"votes_revealed": revealed})
}

func (s *MongoStore) set(ctx context.Context, id string, fields bson.M) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	fields["updated_at"] = s.now()
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": fields})
	if err != nil {
		return errs.WrapMsg(err, "update session", "sessionId", id)
	}
	if res.MatchedCount == 0 {
		return errs.ErrSessionNotFound.WrapMsg("update", "sessionId", id)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return errs.WrapMsg(err, "delete session", "sessionId", id)
	}
	if res.DeletedCount == 0 {
		return errs.ErrSessionNotFound.WrapMsg("delete", "sessionId", id)
	}
	return nil
}

// ===== 在线状态协议用的适配 =====

type presenceStore struct{ s Store }

// ForPresence 把 Store 包成在线状态协议要的 SessionStore
func ForPresence(s Store) presence.SessionStore { return presenceStore{s} }

func (p presenceStore) FindSession(ctx context.Context, id string) (*presence.SessionInfo, error) {
	sess, err := p.s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Info(), nil
}

func (p presenceStore) RemoveParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	return p.s.RemoveParticipant(ctx, sessionID, userID)
}
