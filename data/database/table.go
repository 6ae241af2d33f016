package database

import "go.mongodb.org/mongo-driver/mongo"

// Table 持久化模型对应的集合
type Table interface {
	GetTableName() string
}

func Collection(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
