package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"MarketChat/tools/errs"
)

// APIError 服务端 {error, code} 响应
type APIError struct {
	Status  int
	Message string
	Code    int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// Unwrap 还原成服务端的错误码，便于 errors.Is(err, errs.ErrNotFound)
func (e *APIError) Unwrap() error {
	code := e.Code
	if code == 0 {
		code = codeForStatus(e.Status, e.Message)
	}
	return errs.NewCodeError(code, e.Message)
}

// Expired 握手或接口返回 "jwt expired"，可以刷新后重试一次
func (e *APIError) Expired() bool {
	return e.Message == errs.MsgJwtExpired
}

func codeForStatus(status int, msg string) int {
	switch status {
	case http.StatusUnauthorized:
		if msg == errs.MsgJwtExpired {
			return errs.AuthExpiredError
		}
		return errs.UnauthorizedError
	case http.StatusForbidden:
		if msg == errs.MsgInvalidToken {
			return errs.AuthInvalidError
		}
		if msg == errs.MsgUnauthorized {
			return errs.UnauthorizedError
		}
		return errs.ForbiddenError
	case http.StatusNotFound:
		return errs.NotFoundError
	case http.StatusUnprocessableEntity:
		return errs.InvalidArgumentError
	case http.StatusBadRequest:
		return errs.PreconditionError
	case http.StatusServiceUnavailable:
		return errs.UnavailableError
	}
	return errs.ServerInternalError
}

func readAPIError(resp *http.Response) *APIError {
	e := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	if resp.Body == nil {
		return e
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		e.Message = body.Error
		e.Code = body.Code
	}
	return e
}
