package store

import (
	"context"
	"errors"

	"MarketChat/data/database"
	"MarketChat/data/database/mgo/mongoutil"
	usermodel "MarketChat/module/user/model"
	"MarketChat/tools/errs"

	pkgerr "github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDirectory struct {
	db func() (*mongo.Database, bool)
}

func NewMongoDirectory(db func() (*mongo.Database, bool)) *MongoDirectory {
	return &MongoDirectory{db: db}
}

func (d *MongoDirectory) coll() (*mongo.Collection, error) {
	db, ok := d.db()
	if !ok {
		return nil, errs.ErrUnavailable.WrapMsg("mongo not ready")
	}
	return database.Coll(db, &usermodel.User{}), nil
}

func (d *MongoDirectory) Get(ctx context.Context, userID string) (*usermodel.User, error) {
	coll, err := d.coll()
	if err != nil {
		return nil, err
	}
	var u usermodel.User
	err = coll.FindOne(ctx, bson.M{
		usermodel.UserFieldUserID: userID,
		usermodel.UserFieldStatus: bson.M{"$ne": usermodel.UserClosed},
	}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("user not found")
	}
	if err != nil {
		return nil, wrapErr(err, "get user")
	}
	return &u, nil
}

func (d *MongoDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]usermodel.Profile, error) {
	ids := dedup(userIDs)
	out := make(map[string]usermodel.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	coll, err := d.coll()
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx,
		bson.M{usermodel.UserFieldUserID: bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"user_id": 1, "nickname": 1, "face_url": 1}),
	)
	if err != nil {
		return nil, wrapErr(err, "find profiles")
	}
	var users []*usermodel.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, wrapErr(err, "decode profiles")
	}
	for _, u := range users {
		out[u.UserID] = u.Profile()
	}
	return out, nil
}

// EnsureIndexes user_id 唯一
func (d *MongoDirectory) EnsureIndexes(ctx context.Context) error {
	coll, err := d.coll()
	if err != nil {
		return err
	}
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: usermodel.UserFieldUserID, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_user_id"),
	})
	return err
}

func wrapErr(err error, op string) error {
	if mongoutil.IsTransient(err) {
		return pkgerr.Wrap(errs.ErrUnavailable.WithDetail(err.Error()), op)
	}
	return pkgerr.Wrap(errs.ErrInternal.WithDetail(err.Error()), op)
}
