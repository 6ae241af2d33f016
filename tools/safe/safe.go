package safe

import (
	"fmt"
	"reflect"

	"PPoker/logger"
	"PPoker/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required fields during struct initialization.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Call runs f and turns a panic into errs.ErrInternal so one bad event
// cannot take the connection's goroutine down.
func Call(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered", zap.Any("panic", r), zap.Stack("stack"))
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("[SafeGo] panic recovered", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		f()
	}()
}
