package errs

import (
	"fmt"

	pkgerr "github.com/pkg/errors"
)

// ErrPanic 把 recover 到的值转成 ErrInternal，detail 不回给客户端
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		if ce, ok := AsCode(err); ok {
			return pkgerr.WithStack(ce)
		}
	}
	ce := ErrInternal.clone()
	return pkgerr.WithStack(pkgerr.WithMessage(ce, fmt.Sprint(r)))
}
