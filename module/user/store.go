package user

import (
	"context"
	"errors"
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
	// Create 用户名重复返回 errs.ErrRecordIsExist
	Create(ctx context.Context, u *User) error
	FindByUsername(ctx context.Context, username string) (*User, error)
	TouchLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: database.Collection(db, &User{})}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errs.Wrap(err)
}

func (s *MongoStore) Create(ctx context.Context, u *User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.CreateTime.IsZero() {
		u.CreateTime = time.Now()
	}
	if _, err := s.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrRecordIsExist.WrapMsg("username taken", "username", u.Username)
		}
		return errs.WrapMsg(err, "insert user", "username", u.Username)
	}
	return nil
}

func (s *MongoStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	if err := s.coll.FindOne(ctx, bson.M{"username": username}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrRecordNotFound.WrapMsg("user", "username", username)
		}
		return nil, errs.WrapMsg(err, "find user", "username", username)
	}
	return &u, nil
}

func (s *MongoStore) TouchLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"last_login": at}})
	return errs.Wrap(err)
}

// MemoryStore 没配 mongo 时使用
type MemoryStore struct {
	mu     sync.RWMutex
	byName map[string]*User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byName: make(map[string]*User)}
}

func (m *MemoryStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[u.Username]; ok {
		return errs.ErrRecordIsExist.WrapMsg("username taken", "username", u.Username)
	}
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.CreateTime.IsZero() {
		u.CreateTime = time.Now()
	}
	cp := *u
	m.byName[u.Username] = &cp
	return nil
}

func (m *MemoryStore) FindByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byName[username]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("user", "username", username)
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) TouchLogin(_ context.Context, id primitive.ObjectID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byName {
		if u.ID == id {
			t := at
			u.LastLogin = &t
			return nil
		}
	}
	return nil
}
