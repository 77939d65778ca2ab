package client

import (
	"testing"
	"time"

	chatsvc "MarketChat/module/chat/service"
	usermodel "MarketChat/module/user/model"
	"MarketChat/service/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummariesUnreadAndBadge(t *testing.T) {
	s := NewChatSummaries(selfID, []chatsvc.ChatSummary{
		{ConversationID: "c1", UnreadChatCounts: 2, LastTimestamp: time.Unix(10, 0)},
		{ConversationID: "c2", UnreadChatCounts: 1, LastTimestamp: time.Unix(20, 0)},
	})
	assert.Equal(t, int64(3), s.Badge())

	s.Open("c1")
	assert.Equal(t, int64(0), s.Unread("c1"))
	assert.Equal(t, int64(1), s.Badge())

	// 当前打开的会话不加未读
	live := func(conv, from string, at int64) chat.MessageOut {
		return chat.MessageOut{
			ConversationID: conv,
			From:           usermodel.Profile{ID: from},
			Message:        chatsvc.MessageView{ID: "m", Text: "t", Time: time.Unix(at, 0), User: usermodel.Profile{ID: from}},
		}
	}
	s.ApplyLive(live("c1", peerID, 30))
	assert.Equal(t, int64(0), s.Unread("c1"))

	s.ApplyLive(live("c2", peerID, 40))
	assert.Equal(t, int64(2), s.Unread("c2"))

	// 自己另一端发出的不算未读
	s.ApplyLive(live("c2", selfID, 50))
	assert.Equal(t, int64(2), s.Unread("c2"))

	s.Close()
	s.ApplyLive(live("c1", peerID, 60))
	assert.Equal(t, int64(1), s.Unread("c1"))

	s.ApplyLive(live("c3", peerID, 70))
	rows := s.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "c3", rows[0].ConversationID)
	assert.Equal(t, peerID, rows[0].Peer.ID)
	assert.Equal(t, int64(4), s.Badge())
}

func TestSummariesResetKeepsActiveAtZero(t *testing.T) {
	s := NewChatSummaries(selfID, nil)
	s.Open("c1")
	s.Reset([]chatsvc.ChatSummary{{ConversationID: "c1", UnreadChatCounts: 5}, {ConversationID: "c2", UnreadChatCounts: 1}})
	assert.Equal(t, int64(0), s.Unread("c1"))
	assert.Equal(t, int64(1), s.Badge())
	assert.Equal(t, "c1", s.Active())
}
