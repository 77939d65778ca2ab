package errs

import "net/http"

const (
	UnauthorizedError    = 1000
	AuthExpiredError     = 1001
	AuthInvalidError     = 1002
	ForbiddenError       = 1003
	NotFoundError        = 1004
	InvalidArgumentError = 1005
	UnavailableError     = 1006
	ServerInternalError  = 1007
	PreconditionError    = 1008
)

// 握手/中间件里直接返回给客户端的文案，客户端按 "jwt expired" 判断是否刷新
const (
	MsgUnauthorized = "Unauthorized request!"
	MsgJwtExpired   = "jwt expired"
	MsgInvalidToken = "Invalid token!"
)

var (
	ErrUnauthorized    = NewCodeError(UnauthorizedError, MsgUnauthorized)
	ErrAuthExpired     = NewCodeError(AuthExpiredError, MsgJwtExpired)
	ErrAuthInvalid     = NewCodeError(AuthInvalidError, MsgInvalidToken)
	ErrForbidden       = NewCodeError(ForbiddenError, "forbidden")
	ErrNotFound        = NewCodeError(NotFoundError, "not found")
	ErrInvalidArgument = NewCodeError(InvalidArgumentError, "invalid argument")
	ErrUnavailable     = NewCodeError(UnavailableError, "service unavailable")
	ErrInternal        = NewCodeError(ServerInternalError, "server internal error")
	ErrPrecondition    = NewCodeError(PreconditionError, "precondition failed")
)

func init() {
	_ = DefaultCodeRelation.Add(UnauthorizedError, AuthExpiredError)
	_ = DefaultCodeRelation.Add(UnauthorizedError, AuthInvalidError)
}

// HTTPStatus 错误码 -> HTTP 状态
func HTTPStatus(err error) int {
	ce, ok := AsCode(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ce.Code {
	case AuthExpiredError:
		return http.StatusUnauthorized
	case UnauthorizedError, AuthInvalidError, ForbiddenError:
		return http.StatusForbidden
	case NotFoundError:
		return http.StatusNotFound
	case InvalidArgumentError:
		return http.StatusUnprocessableEntity
	case PreconditionError:
		return http.StatusBadRequest
	case UnavailableError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message 返回给客户端的文案，带 detail 时优先 detail
func Message(err error) string {
	ce, ok := AsCode(err)
	if !ok {
		return ErrInternal.Msg
	}
	if ce.Detail != "" {
		return ce.Detail
	}
	return ce.Msg
}
