package registry

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/pkg/errors"
)

// Builtin is the import path of the pseudo-package holding predeclared types
const Builtin = ""

func init() {
	for _, v := range []any{
		false, int(0), int8(0), int16(0), int32(0), int64(0),
		uint(0), uint8(0), uint16(0), uint32(0), uint64(0), uintptr(0),
		float32(0), float64(0), complex64(0), complex128(0), "",
	} {
		RegisterType(reflect.TypeOf(v))
	}
	RegisterName(Builtin, "error", reflect.TypeOf((*error)(nil)).Elem())
	RegisterName(Builtin, "byte", reflect.TypeOf(byte(0)))
	RegisterName(Builtin, "rune", reflect.TypeOf(rune(0)))
	RegisterName(Builtin, "any", reflect.TypeOf((*any)(nil)).Elem())

	RegisterType(reflect.TypeOf((*runtime.Error)(nil)).Elem())
	RegisterType(reflect.TypeOf(stderrors.New("")))
	RegisterType(reflect.TypeOf(fmt.Errorf("%w", stderrors.New(""))))
	RegisterType(reflect.TypeOf(errors.New("")))
	RegisterType(reflect.TypeOf(errors.WithStack(stderrors.New(""))))
	RegisterType(reflect.TypeOf(errors.WithMessage(stderrors.New(""), "")))
	Register(time.Time{})
	Register(time.Duration(0))
}
