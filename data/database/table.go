package database

import "go.mongodb.org/mongo-driver/mongo"

type Table interface {
	GetTableName() string
}

// Coll 按模型表名取集合
func Coll(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
