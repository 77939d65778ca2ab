package security

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"MarketChat/middleware"
	usermodel "MarketChat/module/user/model"
	userstore "MarketChat/module/user/store"
	"MarketChat/tools/errs"
	sec "MarketChat/tools/security"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("middleware-test")

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?token=q", nil)
	assert.Equal(t, "q", ExtractToken(r, nil))

	r.Header.Set("Authorization", "Bearer  h ")
	assert.Equal(t, "h", ExtractToken(r, nil))

	r = httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("X-Token", "custom")
	assert.Equal(t, "custom", ExtractToken(r, &Options{HeaderToken: "X-Token"}))
	assert.Empty(t, ExtractToken(r, DefaultOptions()))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := sec.NewVerifier(sec.DefaultOptions(testSecret))
	active := &usermodel.User{UserID: "65f0000000000000000000aa", Nickname: "A"}
	banned := &usermodel.User{UserID: "65f0000000000000000000bb", Status: usermodel.UserBanned}
	users := userstore.NewMemDirectory(active, banned)

	r := gin.New()
	routes := middleware.NewRoutes(r, Middleware(verifier, users, nil))
	routes.GET("/me", func(c *gin.Context) error {
		middleware.OK(c, gin.H{"id": UserID(c), "name": CurrentUser(c).Nickname})
		return nil
	}, middleware.RouteOpt{IsAuth: true})

	issue := func(u *usermodel.User) string {
		p, err := verifier.Issue(u.UserID)
		require.NoError(t, err)
		return p.AccessToken
	}
	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": active.UserID, "exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	cases := []struct {
		name   string
		token  string
		status int
		msg    string
	}{
		{"ok", issue(active), http.StatusOK, ""},
		{"expired", expired, http.StatusUnauthorized, errs.MsgJwtExpired},
		{"invalid", "xyz", http.StatusForbidden, errs.MsgInvalidToken},
		{"missing", "", http.StatusForbidden, errs.MsgUnauthorized},
		{"banned", issue(banned), http.StatusForbidden, errs.MsgUnauthorized},
		{"unknown user", issue(&usermodel.User{UserID: "65f0000000000000000000cc"}), http.StatusForbidden, errs.MsgUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tc.status == http.StatusOK {
				assert.Equal(t, active.UserID, body["id"])
				assert.Equal(t, "A", body["name"])
				return
			}
			assert.Equal(t, tc.msg, body["error"])
		})
	}
}
