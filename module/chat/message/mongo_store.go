package message

import (
	"context"
	"errors"
	"time"

	"MarketChat/data/database"
	"MarketChat/data/database/mgo/mongoutil"
	"MarketChat/logger"
	chatmodel "MarketChat/module/chat/model"
	"MarketChat/tools/errs"

	pkgerr "github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// DBProvider 返回当前可用的库；Mongo 断线重连期间返回 false
type DBProvider func() (*mongo.Database, bool)

type MongoStore struct {
	db DBProvider
}

func NewMongoStore(db DBProvider) *MongoStore {
	return &MongoStore{db: db}
}

// FixedDB 用固定的 *mongo.Database 构造 DBProvider
func FixedDB(db *mongo.Database) DBProvider {
	return func() (*mongo.Database, bool) { return db, db != nil }
}

func (s *MongoStore) colls() (conv *mongo.Collection, msg *mongo.Collection, err error) {
	db, ok := s.db()
	if !ok {
		return nil, nil, errs.ErrUnavailable.WrapMsg("mongo not ready")
	}
	return database.Coll(db, &chatmodel.Conversation{}), database.Coll(db, &chatmodel.MessageModel{}), nil
}

// wrapMongo 驱动错误归类：无文档 -> NotFound，网络/超时 -> Unavailable
func wrapMongo(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := errs.AsCode(err); ok {
		return err
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return pkgerr.Wrap(errs.ErrNotFound.WithDetail("conversation not found"), op)
	case mongoutil.IsTransient(err):
		return pkgerr.Wrap(errs.ErrUnavailable.WithDetail(err.Error()), op)
	default:
		return pkgerr.Wrap(errs.ErrInternal.WithDetail(err.Error()), op)
	}
}

func (s *MongoStore) GetOrCreate(ctx context.Context, userA, userB string) (*chatmodel.Conversation, error) {
	if err := checkPair(userA, userB); err != nil {
		return nil, err
	}
	convColl, _, err := s.colls()
	if err != nil {
		return nil, err
	}

	key := PairKey(userA, userB)
	now := time.Now()
	filter := bson.M{chatmodel.ConversationFieldPairKey: key}
	update := bson.M{
		"$setOnInsert": bson.M{
			chatmodel.ConversationFieldPairKey:      key,
			chatmodel.ConversationFieldParticipants: sortedPair(userA, userB),
			chatmodel.ConversationFieldMaxSeq:       int64(0),
			chatmodel.ConversationFieldCreateTime:   now,
			chatmodel.ConversationFieldUpdateTime:   now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out chatmodel.Conversation
	err = convColl.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if mongo.IsDuplicateKeyError(err) {
		// 两端同时 upsert，输的一方重新读一次
		err = convColl.FindOne(ctx, filter).Decode(&out)
	}
	if err != nil {
		return nil, wrapMongo(err, "get or create conversation")
	}
	return &out, nil
}

func (s *MongoStore) Get(ctx context.Context, conversationID string) (*chatmodel.Conversation, error) {
	oid, err := parseConvID(conversationID)
	if err != nil {
		return nil, err
	}
	convColl, _, err := s.colls()
	if err != nil {
		return nil, err
	}
	var out chatmodel.Conversation
	if err := convColl.FindOne(ctx, bson.M{chatmodel.ConversationFieldID: oid}).Decode(&out); err != nil {
		return nil, wrapMongo(err, "get conversation")
	}
	return &out, nil
}

func (s *MongoStore) Append(ctx context.Context, in AppendParams) (*AppendResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	oid, err := parseConvID(in.ConversationID)
	if err != nil {
		return nil, err
	}
	convColl, msgColl, err := s.colls()
	if err != nil {
		return nil, err
	}

	// 1) 幂等：同一发送者同一 client_msg_id 直接返回旧消息
	if in.ClientMsgID != "" {
		if old, err := s.findByClientID(ctx, msgColl, oid, in.SenderID, in.ClientMsgID); err != nil {
			return nil, err
		} else if old != nil {
			return &AppendResult{Message: old, Duplicate: true}, nil
		}
	}

	// 2) 发号：$inc 是原子的，filter 带上 pair_key 顺便校验双方确实是这个会话的成员
	now := time.Now()
	var conv chatmodel.Conversation
	err = convColl.FindOneAndUpdate(ctx,
		bson.M{
			chatmodel.ConversationFieldID:      oid,
			chatmodel.ConversationFieldPairKey: PairKey(in.SenderID, in.RecipientID),
		},
		bson.M{
			"$inc": bson.M{chatmodel.ConversationFieldMaxSeq: int64(1)},
			"$set": bson.M{chatmodel.ConversationFieldUpdateTime: now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&conv)
	if err != nil {
		return nil, wrapMongo(err, "alloc seq")
	}

	// 3) 落消息
	msg := &chatmodel.MessageModel{
		ID:             primitive.NewObjectID(),
		ConversationID: oid,
		Seq:            conv.MaxSeq,
		SenderID:       in.SenderID,
		ClientMsgID:    in.ClientMsgID,
		Text:           in.Text,
		SendTime:       in.SendTime,
		CreateTime:     now,
	}
	if _, err := msgColl.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) && in.ClientMsgID != "" {
			// 并发重试撞上唯一索引，按幂等处理；浪费一个 seq 无所谓
			old, ferr := s.findByClientID(ctx, msgColl, oid, in.SenderID, in.ClientMsgID)
			if ferr == nil && old != nil {
				return &AppendResult{Message: old, Duplicate: true}, nil
			}
		}
		return nil, wrapMongo(err, "insert message")
	}

	// 4) 刷新最后一条快照，只在 seq 更大时覆盖
	_, err = convColl.UpdateOne(ctx,
		bson.M{
			chatmodel.ConversationFieldID: oid,
			"$or": bson.A{
				bson.M{chatmodel.ConversationFieldLastMessage: nil},
				bson.M{chatmodel.ConversationFieldLastSeq: bson.M{"$lt": msg.Seq}},
			},
		},
		bson.M{"$set": bson.M{chatmodel.ConversationFieldLastMessage: chatmodel.LastMessage{
			MessageID: msg.ID,
			SenderID:  msg.SenderID,
			Text:      msg.Text,
			SendTime:  msg.SendTime,
			Seq:       msg.Seq,
		}}},
	)
	if err != nil {
		// 消息已落库，快照落后不影响正确性
		logger.Warn("[ChatStore] update last message failed",
			zap.String("conv", in.ConversationID), zap.Int64("seq", msg.Seq), zap.Error(err))
	}
	return &AppendResult{Message: msg}, nil
}

func (s *MongoStore) findByClientID(ctx context.Context, coll *mongo.Collection, conv primitive.ObjectID, sender, clientID string) (*chatmodel.MessageModel, error) {
	var out chatmodel.MessageModel
	err := coll.FindOne(ctx, bson.M{
		chatmodel.MsgFieldConversationID: conv,
		chatmodel.MsgFieldSenderID:       sender,
		chatmodel.MsgFieldClientMsgID:    clientID,
	}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongo(err, "find by client id")
	}
	return &out, nil
}

func (s *MongoStore) Messages(ctx context.Context, conversationID string) ([]*chatmodel.MessageModel, error) {
	oid, err := parseConvID(conversationID)
	if err != nil {
		return nil, err
	}
	_, msgColl, err := s.colls()
	if err != nil {
		return nil, err
	}
	cur, err := msgColl.Find(ctx,
		bson.M{chatmodel.MsgFieldConversationID: oid},
		options.Find().SetSort(bson.D{{Key: chatmodel.MsgFieldSeq, Value: 1}}),
	)
	if err != nil {
		return nil, wrapMongo(err, "find messages")
	}
	out := make([]*chatmodel.MessageModel, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrapMongo(err, "decode messages")
	}
	return out, nil
}

func (s *MongoStore) MarkViewed(ctx context.Context, conversationID, readerID, peerID string) (int64, error) {
	if err := checkPair(readerID, peerID); err != nil {
		return 0, err
	}
	oid, err := parseConvID(conversationID)
	if err != nil {
		return 0, err
	}
	convColl, msgColl, err := s.colls()
	if err != nil {
		return 0, err
	}
	n, err := convColl.CountDocuments(ctx, bson.M{
		chatmodel.ConversationFieldID:      oid,
		chatmodel.ConversationFieldPairKey: PairKey(readerID, peerID),
	})
	if err != nil {
		return 0, wrapMongo(err, "check conversation")
	}
	if n == 0 {
		return 0, errs.ErrNotFound.WrapMsg("conversation not found")
	}

	// viewed 只会 false -> true，重复调用匹配不到任何文档
	res, err := msgColl.UpdateMany(ctx,
		bson.M{
			chatmodel.MsgFieldConversationID: oid,
			chatmodel.MsgFieldSenderID:       peerID,
			chatmodel.MsgFieldViewed:         false,
		},
		bson.M{"$set": bson.M{
			chatmodel.MsgFieldViewed:   true,
			chatmodel.MsgFieldViewTime: time.Now(),
		}},
	)
	if err != nil {
		return 0, wrapMongo(err, "mark viewed")
	}
	return res.ModifiedCount, nil
}

type unreadRow struct {
	ConversationID primitive.ObjectID `bson:"_id"`
	Unread         int64              `bson:"unread"`
}

func (s *MongoStore) Summaries(ctx context.Context, userID string) ([]*Summary, error) {
	if !ValidID(userID) {
		return nil, errs.ErrInvalidArgument.WrapMsg("invalid user id")
	}
	convColl, msgColl, err := s.colls()
	if err != nil {
		return nil, err
	}

	cur, err := convColl.Find(ctx,
		bson.M{
			chatmodel.ConversationFieldParticipants: userID,
			chatmodel.ConversationFieldLastMessage:  bson.M{"$ne": nil},
		},
		options.Find().SetSort(bson.D{{Key: chatmodel.ConversationFieldUpdateTime, Value: -1}}),
	)
	if err != nil {
		return nil, wrapMongo(err, "find conversations")
	}
	var convs []*chatmodel.Conversation
	if err := cur.All(ctx, &convs); err != nil {
		return nil, wrapMongo(err, "decode conversations")
	}
	if len(convs) == 0 {
		return []*Summary{}, nil
	}

	ids := make([]primitive.ObjectID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	// 未读 = 不是自己发的且未读，走 (conversation_id, viewed, sender_id) 索引聚合
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			chatmodel.MsgFieldConversationID: bson.M{"$in": ids},
			chatmodel.MsgFieldViewed:         false,
			chatmodel.MsgFieldSenderID:       bson.M{"$ne": userID},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":    "$" + chatmodel.MsgFieldConversationID,
			"unread": bson.M{"$sum": 1},
		}}},
	}
	aggCur, err := msgColl.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapMongo(err, "aggregate unread")
	}
	var rows []unreadRow
	if err := aggCur.All(ctx, &rows); err != nil {
		return nil, wrapMongo(err, "decode unread")
	}
	unread := make(map[primitive.ObjectID]int64, len(rows))
	for _, r := range rows {
		unread[r.ConversationID] = r.Unread
	}

	out := make([]*Summary, 0, len(convs))
	for _, c := range convs {
		out = append(out, &Summary{
			Conversation: c,
			PeerID:       c.PeerOf(userID),
			Unread:       unread[c.ID],
		})
	}
	return out, nil
}
