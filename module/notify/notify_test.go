package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"MarketChat/middleware"
	usermodel "MarketChat/module/user/model"
	userstore "MarketChat/module/user/store"
	"MarketChat/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type recordSender struct {
	tokens []string
	err    error
}

func (s *recordSender) Send(_ context.Context, token string, _ Notification) error {
	s.tokens = append(s.tokens, token)
	return s.err
}

func users() (*userstore.MemDirectory, *usermodel.User, *usermodel.User) {
	withToken := &usermodel.User{UserID: primitive.NewObjectID().Hex(), Nickname: "A", NotificationToken: "tok-a"}
	noToken := &usermodel.User{UserID: primitive.NewObjectID().Hex(), Nickname: "B"}
	return userstore.NewMemDirectory(withToken, noToken), withToken, noToken
}

func TestDirectDispatch(t *testing.T) {
	dir, a, b := users()
	sender := &recordSender{}
	d := NewDirect(dir, sender)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, Notification{UserID: a.UserID, Title: "hi"}))
	assert.Equal(t, []string{"tok-a"}, sender.tokens)

	err := d.Dispatch(ctx, Notification{UserID: b.UserID, Title: "hi"})
	assert.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Equal(t, http.StatusBadRequest, errs.HTTPStatus(err))

	err = d.Dispatch(ctx, Notification{UserID: primitive.NewObjectID().Hex(), Title: "hi"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, "User not found", errs.Message(err))

	assert.ErrorIs(t, d.Dispatch(ctx, Notification{UserID: a.UserID}), errs.ErrInvalidArgument)
	assert.Len(t, sender.tokens, 1)
}

func TestSendNotificationAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir, a, b := users()
	r := gin.New()
	NewAPI(NewDirect(dir, &recordSender{})).Register(middleware.NewRoutes(r, nil))

	post := func(body string) (int, string) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/send-notification", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		var out map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		if msg, ok := out["message"].(string); ok {
			return w.Code, msg
		}
		msg, _ := out["error"].(string)
		return w.Code, msg
	}

	code, msg := post(`{"userId":"` + a.UserID + `","title":"t","body":"b"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Notification sent successfully!", msg)

	code, msg = post(`{"userId":"` + b.UserID + `","title":"t"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "User does not have a notification token", msg)

	code, _ = post(`{"userId":"` + primitive.NewObjectID().Hex() + `","title":"t"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = post(`{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestHTTPSender(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		var req fcmRequest
		assert.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "tok", req.Message.Token)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender(HTTPSenderConfig{Endpoint: srv.URL, AuthToken: "secret", MaxFailures: 2, OpenInterval: time.Minute})
	ctx := context.Background()
	n := Notification{UserID: "u", Title: "t", Body: "b", Data: map[string]string{"k": "v"}}

	require.NoError(t, s.Send(ctx, "tok", n))

	fail.Store(true)
	assert.ErrorIs(t, s.Send(ctx, "tok", n), errs.ErrUnavailable)
	assert.ErrorIs(t, s.Send(ctx, "tok", n), errs.ErrUnavailable)
	before := calls.Load()
	// 熔断打开后不再请求
	err := s.Send(ctx, "tok", n)
	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.Equal(t, before, calls.Load())

	unconfigured := NewHTTPSender(HTTPSenderConfig{})
	assert.ErrorIs(t, unconfigured.Send(ctx, "tok", n), errs.ErrUnavailable)
}

func TestKafkaQueueAndConsumer(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	var captured []byte
	mp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		captured = val
		return nil
	})
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	defer func() { require.NoError(t, mp.Close()) }()

	q := NewKafkaQueue(mp, "push")
	ctx := context.Background()
	dir, a, b := users()

	require.NoError(t, q.Dispatch(ctx, Notification{UserID: a.UserID, Title: "hi"}))
	assert.ErrorIs(t, q.Dispatch(ctx, Notification{UserID: a.UserID, Title: "hi"}), errs.ErrUnavailable)
	assert.ErrorIs(t, q.Dispatch(ctx, Notification{}), errs.ErrInvalidArgument)

	sender := &recordSender{}
	h := ConsumeHandler(NewDirect(dir, sender))
	require.NoError(t, h("push", nil, captured))
	assert.Equal(t, []string{"tok-a"}, sender.tokens)

	// 没 token、坏数据都丢弃不重试
	nb, _ := json.Marshal(Notification{UserID: b.UserID, Title: "x"})
	assert.NoError(t, h("push", nil, nb))
	assert.NoError(t, h("push", nil, []byte("not json")))

	sender.err = errors.New("platform down")
	assert.Error(t, h("push", nil, captured))
}
