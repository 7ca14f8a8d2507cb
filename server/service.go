package server

import (
	"context"
	"fmt"
	"go/token"
	"reflect"
	"runtime/debug"
)

// methodType is one RPC method: func (*T) M([ctx context.Context,] args *A, reply *R) error.
type methodType struct {
	method    reflect.Method
	withCtx   bool
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// NewService scans rcvr for RPC methods. The service is named after the struct type,
// or name when given.
func NewService(rcvr any, name string) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	if !token.IsExported(name) {
		return nil, fmt.Errorf("rpc: service name %q is not exported", name)
	}
	srv := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.RegisterMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("rpc: %s has no methods of the form M([ctx,] *Args, *Reply) error", name)
	}
	return srv, nil
}

// RegisterMethods keeps the exported methods with an RPC signature and skips the rest.
func (s *service) RegisterMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}
		in := 1
		withCtx := false
		switch mt.NumIn() {
		case 3:
		case 4:
			if mt.In(1) != contextType {
				continue
			}
			withCtx = true
			in = 2
		default:
			continue
		}
		if mt.In(in).Kind() != reflect.Ptr || mt.In(in+1).Kind() != reflect.Ptr {
			continue
		}
		s.method[method.Name] = &methodType{
			method:    method,
			withCtx:   withCtx,
			ArgType:   mt.In(in).Elem(),
			ReplyType: mt.In(in + 1).Elem(),
		}
	}
}

// panicError is a recovered handler panic.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("handler panic: %v", p.value) }

// Call invokes the method. A panic in the method is returned as an error.
func (s *service) Call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	var results []reflect.Value
	if mType.withCtx {
		results = mType.method.Func.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv})
	} else {
		results = mType.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
	}
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
