package message

import (
	"context"
	"fmt"

	chatmodel "MarketChat/module/chat/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes 启动时建索引，已存在的按名字跳过
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	db, ok := s.db()
	if !ok {
		return fmt.Errorf("mongo not ready")
	}

	collections := map[string][]mongo.IndexModel{
		chatmodel.ConversationTableName: {
			{
				Keys:    bson.D{{Key: chatmodel.ConversationFieldPairKey, Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_pair_key"),
			},
			{
				Keys: bson.D{{Key: chatmodel.ConversationFieldParticipants, Value: 1},
					{Key: chatmodel.ConversationFieldUpdateTime, Value: -1}},
				Options: options.Index().SetName("ix_participant_update"),
			},
		},
		chatmodel.MsgTableName: {
			{
				Keys: bson.D{{Key: chatmodel.MsgFieldConversationID, Value: 1},
					{Key: chatmodel.MsgFieldSeq, Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_conv_seq"),
			},
			{
				Keys: bson.D{{Key: chatmodel.MsgFieldConversationID, Value: 1},
					{Key: chatmodel.MsgFieldSenderID, Value: 1},
					{Key: chatmodel.MsgFieldClientMsgID, Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_client_msg").
					SetPartialFilterExpression(bson.M{chatmodel.MsgFieldClientMsgID: bson.M{"$type": "string"}}),
			},
			{
				Keys: bson.D{{Key: chatmodel.MsgFieldConversationID, Value: 1},
					{Key: chatmodel.MsgFieldViewed, Value: 1},
					{Key: chatmodel.MsgFieldSenderID, Value: 1}},
				Options: options.Index().SetName("ix_conv_unread"),
			},
		},
	}

	for collName, indexes := range collections {
		coll := db.Collection(collName)

		existing, err := coll.Indexes().ListSpecifications(ctx)
		if err != nil {
			return fmt.Errorf("list indexes for %s: %w", collName, err)
		}
		existingNames := make(map[string]struct{}, len(existing))
		for _, spec := range existing {
			existingNames[spec.Name] = struct{}{}
		}

		for _, idx := range indexes {
			if _, ok := existingNames[*idx.Options.Name]; ok {
				continue
			}
			if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
				return fmt.Errorf("create index %s on %s: %w", *idx.Options.Name, collName, err)
			}
		}
	}
	return nil
}
