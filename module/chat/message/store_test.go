package message

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"MarketChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newUser() string { return primitive.NewObjectID().Hex() }

// storeFactories MemStore 总是跑；设置 MONGO_URI 后同一套用例再跑一遍 MongoStore
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	out := map[string]func(t *testing.T) Store{
		"mem": func(*testing.T) Store { return NewMemStore() },
	}
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return out
	}
	out["mongo"] = func(t *testing.T) Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		require.NoError(t, err)
		db := cli.Database(fmt.Sprintf("marketchat_test_%d", time.Now().UnixNano()))
		t.Cleanup(func() {
			_ = db.Drop(context.Background())
			_ = cli.Disconnect(context.Background())
		})
		s := NewMongoStore(FixedDB(db))
		require.NoError(t, s.EnsureIndexes(ctx))
		return s
	}
	return out
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, mk := range storeFactories(t) {
		t.Run(name, func(t *testing.T) { fn(t, mk(t)) })
	}
}

func TestPairKeyOrderIndependent(t *testing.T) {
	a, b := newUser(), newUser()
	assert.Equal(t, PairKey(a, b), PairKey(b, a))
	assert.NotEqual(t, PairKey(a, b), PairKey(a, newUser()))
}

func TestGetOrCreateConcurrentFirstContact(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, b := newUser(), newUser()

		const n = 16
		ids := make([]string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				x, y := a, b
				if i%2 == 1 {
					x, y = b, a
				}
				c, err := s.GetOrCreate(ctx, x, y)
				if assert.NoError(t, err) {
					ids[i] = c.ID.Hex()
				}
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}

		c, err := s.Get(ctx, ids[0])
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b}, c.Participants)
		assert.True(t, c.HasParticipant(a))
		assert.Equal(t, b, c.PeerOf(a))
	})
}

func TestGetOrCreateRejectsBadPairs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := newUser()
		_, err := s.GetOrCreate(ctx, a, a)
		assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		_, err = s.GetOrCreate(ctx, a, "bogus")
		assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		_, err = s.Get(ctx, newUser())
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestAppendOrderingAndIdempotency(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, b := newUser(), newUser()
		c, err := s.GetOrCreate(ctx, a, b)
		require.NoError(t, err)
		cid := c.ID.Hex()

		first, err := s.Append(ctx, AppendParams{ConversationID: cid, SenderID: a, RecipientID: b, ClientMsgID: "k1", Text: "one"})
		require.NoError(t, err)
		assert.False(t, first.Duplicate)
		assert.Equal(t, int64(1), first.Message.Seq)
		assert.False(t, first.Message.SendTime.IsZero())

		again, err := s.Append(ctx, AppendParams{ConversationID: cid, SenderID: a, RecipientID: b, ClientMsgID: "k1", Text: "one"})
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, first.Message.ID, again.Message.ID)

		// 另一方用同一个 key 是另一条
		other, err := s.Append(ctx, AppendParams{ConversationID: cid, SenderID: b, RecipientID: a, ClientMsgID: "k1", Text: "two"})
		require.NoError(t, err)
		assert.False(t, other.Duplicate)
		assert.Greater(t, other.Message.Seq, first.Message.Seq)

		msgs, err := s.Messages(ctx, cid)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "one", msgs[0].Text)
		assert.Equal(t, "two", msgs[1].Text)
		assert.False(t, msgs[0].Viewed)

		got, err := s.Get(ctx, cid)
		require.NoError(t, err)
		require.NotNil(t, got.LastMessage)
		assert.Equal(t, "two", got.LastMessage.Text)
		assert.Equal(t, b, got.LastMessage.SenderID)
	})
}

func TestAppendRejects(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, b, stranger := newUser(), newUser(), newUser()
		c, err := s.GetOrCreate(ctx, a, b)
		require.NoError(t, err)
		cid := c.ID.Hex()

		_, err = s.Append(ctx, AppendParams{ConversationID: cid, SenderID: a, RecipientID: b, Text: "  "})
		assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		_, err = s.Append(ctx, AppendParams{ConversationID: cid, SenderID: stranger, RecipientID: b, Text: "hi"})
		assert.ErrorIs(t, err, errs.ErrNotFound)
		_, err = s.Append(ctx, AppendParams{ConversationID: "nope", SenderID: a, RecipientID: b, Text: "hi"})
		assert.ErrorIs(t, err, errs.ErrInvalidArgument)

		msgs, err := s.Messages(ctx, cid)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestConcurrentAppendsKeepDistinctSeq(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, b := newUser(), newUser()
		c, err := s.GetOrCreate(ctx, a, b)
		require.NoError(t, err)

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				from, to := a, b
				if i%2 == 1 {
					from, to = b, a
				}
				_, err := s.Append(ctx, AppendParams{
					ConversationID: c.ID.Hex(), SenderID: from, RecipientID: to,
					ClientMsgID: fmt.Sprintf("k%d", i), Text: fmt.Sprintf("m%d", i),
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		msgs, err := s.Messages(ctx, c.ID.Hex())
		require.NoError(t, err)
		require.Len(t, msgs, n)
		for i := 1; i < len(msgs); i++ {
			assert.Less(t, msgs[i-1].Seq, msgs[i].Seq)
		}
	})
}

func TestMarkViewedAndUnread(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a, b := newUser(), newUser()
		c, err := s.GetOrCreate(ctx, a, b)
		require.NoError(t, err)
		cid := c.ID.Hex()

		for _, txt := range []string{"1", "2", "3"} {
			_, err := s.Append(ctx, AppendParams{ConversationID: cid, SenderID: a, RecipientID: b, Text: txt})
			require.NoError(t, err)
		}
		_, err = s.Append(ctx, AppendParams{ConversationID: cid, SenderID: b, RecipientID: a, Text: "reply"})
		require.NoError(t, err)

		rows, err := s.Summaries(ctx, b)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0].Unread)
		assert.Equal(t, a, rows[0].PeerID)

		rows, err = s.Summaries(ctx, a)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1), rows[0].Unread)

		n, err := s.MarkViewed(ctx, cid, b, a)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		n, err = s.MarkViewed(ctx, cid, b, a)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		rows, err = s.Summaries(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rows[0].Unread)

		// b 自己发的那条不受影响
		rows, err = s.Summaries(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows[0].Unread)

		_, err = s.MarkViewed(ctx, cid, newUser(), a)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestSummariesSkipEmptyAndSortByRecent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		me, p1, p2, p3 := newUser(), newUser(), newUser(), newUser()
		c1, err := s.GetOrCreate(ctx, me, p1)
		require.NoError(t, err)
		c2, err := s.GetOrCreate(ctx, me, p2)
		require.NoError(t, err)
		_, err = s.GetOrCreate(ctx, me, p3)
		require.NoError(t, err)

		_, err = s.Append(ctx, AppendParams{ConversationID: c1.ID.Hex(), SenderID: p1, RecipientID: me, Text: "old"})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = s.Append(ctx, AppendParams{ConversationID: c2.ID.Hex(), SenderID: me, RecipientID: p2, Text: "new"})
		require.NoError(t, err)

		rows, err := s.Summaries(ctx, me)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, c2.ID, rows[0].Conversation.ID)
		assert.Equal(t, c1.ID, rows[1].Conversation.ID)
		assert.Equal(t, int64(0), rows[0].Unread)
		assert.Equal(t, int64(1), rows[1].Unread)
	})
}
