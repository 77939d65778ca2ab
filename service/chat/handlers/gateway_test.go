package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"MarketChat/module/chat/message"
	chatsvc "MarketChat/module/chat/service"
	"MarketChat/module/notify"
	usermodel "MarketChat/module/user/model"
	userstore "MarketChat/module/user/store"
	"MarketChat/service/chat"
	"MarketChat/service/chat/bus"
	"MarketChat/service/chat/handlers"
	"MarketChat/tools/errs"
	sec "MarketChat/tools/security"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var testSecret = []byte("gateway-test-secret")

type recordingPush struct {
	ch chan notify.Notification
}

func (p *recordingPush) Dispatch(_ context.Context, n notify.Notification) error {
	p.ch <- n
	return nil
}

// failingStore 落库永远失败
type failingStore struct {
	message.Store
}

func (failingStore) Append(context.Context, message.AppendParams) (*message.AppendResult, error) {
	return nil, errs.ErrUnavailable.WrapMsg("store down")
}

type fixture struct {
	t        *testing.T
	verifier *sec.Verifier
	users    *userstore.MemDirectory
	store    message.Store
	push     *recordingPush
	alice    *usermodel.User
	bob      *usermodel.User
	convID   string
}

func newFixture(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		t:        t,
		verifier: sec.NewVerifier(sec.DefaultOptions(testSecret)),
		store:    message.NewMemStore(),
		push:     &recordingPush{ch: make(chan notify.Notification, 16)},
		alice:    &usermodel.User{UserID: primitive.NewObjectID().Hex(), Nickname: "Alice"},
		bob:      &usermodel.User{UserID: primitive.NewObjectID().Hex(), Nickname: "Bob"},
	}
	f.users = userstore.NewMemDirectory(f.alice, f.bob)
	conv, err := f.store.GetOrCreate(context.Background(), f.alice.UserID, f.bob.UserID)
	require.NoError(t, err)
	f.convID = conv.ID.Hex()
	return f
}

// startNode 起一个网关节点，返回 ws 地址
func (f *fixture) startNode(nodeID string, b bus.Bus, store message.Store) string {
	conv := chatsvc.NewConversations(store, f.users)
	gw := chat.NewServer(chat.Options{
		NodeID:   nodeID,
		Verifier: f.verifier,
		Users:    f.users,
		Bus:      b,
	})
	handlers.Register(gw,
		handlers.NewMessageHandler(conv, f.push, time.Second),
		handlers.NewSeenHandler(conv),
		handlers.NewTypingHandler(),
	)
	require.NoError(f.t, gw.Start())

	r := gin.New()
	r.GET("/socket-message", gw.HandleWS)
	srv := httptest.NewServer(r)
	f.t.Cleanup(func() {
		gw.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket-message"
}

func (f *fixture) token(u *usermodel.User) string {
	pair, err := f.verifier.Issue(u.UserID)
	require.NoError(f.t, err)
	return pair.AccessToken
}

// dial 连接并等到 chat:ready，此时已入组
func (f *fixture) dial(url string, u *usermodel.User) *websocket.Conn {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+f.token(u))
	ws, _, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = ws.Close() })

	var ready chat.ReadyOut
	expectEvent(f.t, ws, chat.EventReady, &ready)
	assert.Equal(f.t, u.UserID, ready.User.ID)
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	raw, err := chat.EncodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

func expectEvent(t *testing.T, ws *websocket.Conn, event string, out any) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var fr chat.Frame
	require.NoError(t, json.Unmarshal(raw, &fr))
	require.Equal(t, event, fr.Event, "frame: %s", raw)
	if out != nil {
		require.NoError(t, json.Unmarshal(fr.Data, out))
	}
}

// expectSilence 读超时即通过；之后这条连接不能再用
func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, raw, err := ws.ReadMessage()
	assert.Error(t, err, "unexpected frame: %s", raw)
}

func (f *fixture) newMessage(to *usermodel.User, key, text string) chat.NewMessageIn {
	return chat.NewMessageIn{
		ConversationID: f.convID,
		To:             to.UserID,
		Message:        chat.OutgoingMessage{ClientKey: key, Text: text},
	}
}

func TestSendRelaysToRecipientAndAcksSender(t *testing.T) {
	f := newFixture(t)
	url := f.startNode("n1", nil, f.store)
	bob := f.dial(url, f.bob)
	alice := f.dial(url, f.alice)

	send(t, alice, chat.EventNew, f.newMessage(f.bob, "k1", "hello"))

	var ack chat.AckOut
	expectEvent(t, alice, chat.EventAck, &ack)
	assert.Equal(t, "k1", ack.ClientKey)
	assert.Equal(t, int64(1), ack.Seq)
	assert.False(t, ack.Duplicate)

	var got chat.MessageOut
	expectEvent(t, bob, chat.EventMessage, &got)
	assert.Equal(t, f.convID, got.ConversationID)
	assert.Equal(t, f.alice.UserID, got.From.ID)
	assert.Equal(t, "Alice", got.From.Name)
	assert.Equal(t, "hello", got.Message.Text)
	assert.Equal(t, ack.MessageID, got.Message.ID)
	assert.False(t, got.Message.Viewed)

	select {
	case n := <-f.push.ch:
		assert.Equal(t, f.bob.UserID, n.UserID)
		assert.Equal(t, "Alice", n.Title)
		assert.Equal(t, "hello", n.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("push not dispatched")
	}

	msgs, err := f.store.Messages(context.Background(), f.convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestDuplicateKeyAckedNotRelayedTwice(t *testing.T) {
	f := newFixture(t)
	url := f.startNode("n1", nil, f.store)
	bob := f.dial(url, f.bob)
	alice := f.dial(url, f.alice)

	send(t, alice, chat.EventNew, f.newMessage(f.bob, "same", "once"))
	var first chat.AckOut
	expectEvent(t, alice, chat.EventAck, &first)

	send(t, alice, chat.EventNew, f.newMessage(f.bob, "same", "once"))
	var second chat.AckOut
	expectEvent(t, alice, chat.EventAck, &second)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.MessageID, second.MessageID)

	expectEvent(t, bob, chat.EventMessage, nil)
	expectSilence(t, bob)

	msgs, err := f.store.Messages(context.Background(), f.convID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestStoreFailureNotRelayed(t *testing.T) {
	f := newFixture(t)
	url := f.startNode("n1", nil, failingStore{Store: f.store})
	bob := f.dial(url, f.bob)
	alice := f.dial(url, f.alice)

	send(t, alice, chat.EventNew, f.newMessage(f.bob, "k1", "lost"))

	var e chat.ErrorOut
	expectEvent(t, alice, chat.EventError, &e)
	assert.Equal(t, chat.EventNew, e.Event)
	assert.Equal(t, errs.UnavailableError, e.Code)
	expectSilence(t, bob)
}

func TestInvalidMessagesRejectedToSenderOnly(t *testing.T) {
	f := newFixture(t)
	url := f.startNode("n1", nil, f.store)
	alice := f.dial(url, f.alice)

	cases := []chat.NewMessageIn{
		f.newMessage(f.alice, "k1", "self"),
		f.newMessage(f.bob, "k2", "   "),
		{ConversationID: "", To: f.bob.UserID, Message: chat.OutgoingMessage{Text: "x"}},
	}
	for _, in := range cases {
		send(t, alice, chat.EventNew, in)
		var e chat.ErrorOut
		expectEvent(t, alice, chat.EventError, &e)
		assert.Equal(t, errs.InvalidArgumentError, e.Code)
	}

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("garbage")))
	expectEvent(t, alice, chat.EventError, nil)
}

func TestFanOutToEveryDeviceWithoutEcho(t *testing.T) {
	f := newFixture(t)
	url := f.startNode("n1", nil, f.store)
	bobPhone := f.dial(url, f.bob)
	bobLaptop := f.dial(url, f.bob)
	alicePhone := f.dial(url, f.alice)
	aliceLaptop := f.dial(url, f.alice)

	send(t, alicePhone, chat.EventNew, f.newMessage(f.bob, "k1", "to all of you"))
	expectEvent(t, alicePhone, chat.EventAck, nil)

	for _, ws := range []*websocket.Conn{bobPhone, bobLaptop} {
		var got chat.MessageOut
		expectEvent(t, ws, chat.EventMessage, &got)
		assert.Equal(t, "to all of you", got.Message.Text)
	}
	expectSilence(t, aliceLaptop)
}

func TestRelayAcrossNodes(t *testing.T) {
	f := newFixture(t)
	b := bus.NewLocalBus()
	url1 := f.startNode("n1", b, f.store)
	url2 := f.startNode("n2", b, f.store)

	bobRemote := f.dial(url2, f.bob)
	bobLocal := f.dial(url1, f.bob)
	alice := f.dial(url1, f.alice)

	send(t, alice, chat.EventNew, f.newMessage(f.bob, "k1", "across"))
	expectEvent(t, alice, chat.EventAck, nil)

	var remote, local chat.MessageOut
	expectEvent(t, bobRemote, chat.EventMessage, &remote)
	expectEvent(t, bobLocal, chat.EventMessage, &local)
	assert.Equal(t, remote.Message.ID, local.Message.ID)
	expectSilence(t, bobLocal)
}

func TestTypingRelayed(t *testing.T) {
	f := newFixture(t)
	url := f.startNode("n1", nil, f.store)
	bob := f.dial(url, f.bob)
	alice := f.dial(url, f.alice)

	send(t, alice, chat.EventTyping, chat.TypingIn{ConversationID: f.convID, To: f.bob.UserID, Active: true})
	var got chat.TypingOut
	expectEvent(t, bob, chat.EventTyping, &got)
	assert.Equal(t, f.alice.UserID, got.From)
	assert.True(t, got.Active)
	assert.True(t, got.Typing)
}

func TestSeenMarksViewedAndNotifiesPeer(t *testing.T) {
	f := newFixture(t)
	url := f.startNode("n1", nil, f.store)
	bob := f.dial(url, f.bob)
	alice := f.dial(url, f.alice)

	send(t, alice, chat.EventNew, f.newMessage(f.bob, "k1", "read me"))
	var ack chat.AckOut
	expectEvent(t, alice, chat.EventAck, &ack)
	expectEvent(t, bob, chat.EventMessage, nil)

	send(t, bob, chat.EventSeen, chat.SeenIn{ConversationID: f.convID, PeerID: f.alice.UserID, MessageID: ack.MessageID})
	var seen chat.SeenOut
	expectEvent(t, alice, chat.EventSeen, &seen)
	assert.Equal(t, f.convID, seen.ConversationID)
	assert.Equal(t, f.bob.UserID, seen.PeerID)
	assert.Equal(t, ack.MessageID, seen.MessageID)

	msgs, err := f.store.Messages(context.Background(), f.convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Viewed)
}

func TestHandshakeRejected(t *testing.T) {
	f := newFixture(t)
	url := f.startNode("n1", nil, f.store)

	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": f.alice.UserID,
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	cases := []struct {
		name   string
		token  string
		status int
		msg    string
	}{
		{"expired", expired, http.StatusUnauthorized, errs.MsgJwtExpired},
		{"invalid", "not-a-jwt", http.StatusForbidden, errs.MsgInvalidToken},
		{"missing", "", http.StatusForbidden, errs.MsgUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.token != "" {
				h.Set("Authorization", "Bearer "+tc.token)
			}
			_, resp, err := websocket.DefaultDialer.Dial(url, h)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
			var body struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.msg, body.Error)
		})
	}
}

func TestSendWhileRecipientOffline(t *testing.T) {
	f := newFixture(t)
	url := f.startNode("n1", nil, f.store)
	alice := f.dial(url, f.alice)

	var acks []chat.AckOut
	for i, text := range []string{"are you there?", "ping me back"} {
		send(t, alice, chat.EventNew, f.newMessage(f.bob, "off-"+text, text))
		var ack chat.AckOut
		expectEvent(t, alice, chat.EventAck, &ack)
		assert.Equal(t, int64(i+1), ack.Seq)
		acks = append(acks, ack)
	}
	for range acks {
		select {
		case n := <-f.push.ch:
			assert.Equal(t, f.bob.UserID, n.UserID)
		case <-time.After(2 * time.Second):
			t.Fatal("push not dispatched")
		}
	}

	// bob 上线后不补推历史，靠拉取拿到
	bob := f.dial(url, f.bob)
	expectSilence(t, bob)

	conv := chatsvc.NewConversations(f.store, f.users)
	ctx := context.Background()
	view, err := conv.Fetch(ctx, f.bob.UserID, f.convID)
	require.NoError(t, err)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, acks[0].MessageID, view.Messages[0].ID)
	assert.Equal(t, acks[1].MessageID, view.Messages[1].ID)
	assert.Equal(t, "are you there?", view.Messages[0].Text)
	for _, m := range view.Messages {
		assert.False(t, m.Viewed)
	}

	rows, err := conv.Summaries(ctx, f.bob.UserID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].UnreadChatCounts)
	assert.Equal(t, "ping me back", rows[0].LastMessage)

	// 发送方自己的未读不受影响
	rows, err = conv.Summaries(ctx, f.alice.UserID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].UnreadChatCounts)
}
