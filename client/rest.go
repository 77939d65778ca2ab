package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	chatsvc "MarketChat/module/chat/service"
	"MarketChat/tools/errs"
	sec "MarketChat/tools/security"
)

// Tokens 当前会话的 access/refresh token，REST 和 ws 共用
type Tokens struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

func NewTokens(access, refresh string) *Tokens {
	return &Tokens{access: access, refresh: refresh}
}

func (t *Tokens) Access() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.access
}

func (t *Tokens) Refresh() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refresh
}

func (t *Tokens) Set(access, refresh string) {
	t.mu.Lock()
	t.access, t.refresh = access, refresh
	t.mu.Unlock()
}

// API 会话相关 REST 调用
type API struct {
	base   string
	http   *http.Client
	tokens *Tokens
}

func NewAPI(baseURL string, tokens *Tokens, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &API{base: strings.TrimRight(baseURL, "/"), http: hc, tokens: tokens}
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errs.Wrap(err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return errs.Wrap(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := a.tokens.Access(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return errs.ErrUnavailable.WrapMsg("request failed", "path", path, "err", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.WrapMsg(err, "decode response", "path", path)
	}
	return nil
}

// With 打开与 peer 的会话（不存在则创建）
func (a *API) With(ctx context.Context, peerID string) (*chatsvc.ConversationView, error) {
	var out chatsvc.ConversationView
	if err := a.do(ctx, http.MethodGet, "/conversation/with/"+url.PathEscape(peerID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Chat(ctx context.Context, conversationID string) (*chatsvc.ConversationView, error) {
	var out chatsvc.ConversationView
	if err := a.do(ctx, http.MethodGet, "/conversation/chats/"+url.PathEscape(conversationID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) LastChats(ctx context.Context) ([]chatsvc.ChatSummary, error) {
	var out struct {
		Chats []chatsvc.ChatSummary `json:"chats"`
	}
	if err := a.do(ctx, http.MethodGet, "/conversation/last-chats", nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

func (a *API) Seen(ctx context.Context, conversationID, peerID string) error {
	return a.do(ctx, http.MethodPatch,
		"/conversation/seen/"+url.PathEscape(conversationID)+"/"+url.PathEscape(peerID), nil, nil)
}

// RefreshTokens 用 refresh token 换一对新 token 并写回 Tokens
func (a *API) RefreshTokens(ctx context.Context) (string, error) {
	var pair sec.TokenPair
	in := map[string]string{"refreshToken": a.tokens.Refresh()}
	if err := a.do(ctx, http.MethodPost, "/auth/refresh-token", in, &pair); err != nil {
		return "", err
	}
	a.tokens.Set(pair.AccessToken, pair.RefreshToken)
	return pair.AccessToken, nil
}
