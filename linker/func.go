package linker

import (
	"context"
	"fmt"
	"reflect"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-embed/abi"
	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/resource"
	"github.com/wippyai/wasm-embed/store"
)

var contextType = reflect.TypeFor[context.Context]()

type callerMode uint8

const (
	noCaller callerMode = iota
	passCaller
	passContext
)

// hostFunc is a Go function analyzed for use as a host import.
// The first Go parameter may be *store.Caller[D] or context.Context.
// Values are lifted and lowered through the abi package.
type hostFunc[D store.View] struct {
	fn      reflect.Value
	ins     []reflect.Type
	params  []wit.Type
	results []wit.Type
	self    reflect.Type
	ctor    reflect.Type
	typeID  uint32
	mode    callerMode
	hasErr  bool
}

// funcRole says how a function relates to a resource type.
type funcRole uint8

const (
	roleFunc funcRole = iota
	roleMethod
	roleConstructor
)

func analyze[D store.View](fn any) (*hostFunc[D], error) {
	return analyzeFor[D](fn, roleFunc, nil, 0)
}

// analyzeFor analyzes fn in a resource role. A method takes res as its
// first value parameter, passed by the guest as a borrowed handle. A
// constructor returns res, which is stored in the table and handed to the
// guest as a handle.
func analyzeFor[D store.View](fn any, role funcRole, res reflect.Type, typeID uint32) (*hostFunc[D], error) {
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, errors.InvalidInput(errors.PhaseLinking, fmt.Sprintf("expected a function, got %T", fn))
	}
	ft := rv.Type()
	if ft.IsVariadic() {
		return nil, errors.Unsupported(errors.PhaseLinking, "variadic host function")
	}

	h := &hostFunc[D]{fn: rv, typeID: typeID}
	i := 0
	if ft.NumIn() > 0 {
		switch ft.In(0) {
		case reflect.TypeFor[*store.Caller[D]]():
			h.mode = passCaller
			i++
		case contextType:
			h.mode = passContext
			i++
		}
	}

	if role == roleMethod {
		if i >= ft.NumIn() || ft.In(i) != res {
			return nil, errors.InvalidInput(errors.PhaseLinking,
				fmt.Sprintf("method must take %s as its first value parameter", res))
		}
		h.self = res
		h.params = append(h.params, wit.U32{})
		i++
	}

	for ; i < ft.NumIn(); i++ {
		t, err := abi.TypeOf(ft.In(i))
		if err != nil {
			return nil, err
		}
		h.ins = append(h.ins, ft.In(i))
		h.params = append(h.params, t)
	}

	n := ft.NumOut()
	if n > 0 && abi.IsError(ft.Out(n-1)) {
		h.hasErr = true
		n--
	}

	if role == roleConstructor {
		if n != 1 || ft.Out(0) != res {
			return nil, errors.InvalidInput(errors.PhaseLinking,
				fmt.Sprintf("constructor must return %s", res))
		}
		h.ctor = res
		h.results = []wit.Type{wit.U32{}}
		return h, nil
	}

	switch n {
	case 0:
	case 1:
		t, err := abi.TypeOf(ft.Out(0))
		if err != nil {
			return nil, err
		}
		h.results = []wit.Type{t}
	default:
		return nil, errors.Unsupported(errors.PhaseLinking, "more than one result besides error")
	}
	return h, nil
}

func (h *hostFunc[D]) signature() engine.FuncType {
	params, results := abi.Signature(h.params, h.results, true)
	return engine.FuncType{Params: params, Results: results}
}

func (h *hostFunc[D]) invoke(c *store.Caller[D], stack []uint64) error {
	cx := c.ABI()
	lifted, retptr, err := cx.LiftArgs(h.params, h.results, stack)
	if err != nil {
		return err
	}

	args := make([]reflect.Value, 0, len(lifted)+1)
	switch h.mode {
	case passCaller:
		args = append(args, reflect.ValueOf(c))
	case passContext:
		args = append(args, reflect.ValueOf(c.Context()))
	}

	if h.self != nil {
		handle := resource.Handle(lifted[0].Uint())
		v, err := c.Table().GetTyped(handle, h.typeID)
		if err != nil {
			return errors.ResourceNotFound(uint32(handle), err)
		}
		args = append(args, reflect.ValueOf(v))
		lifted = lifted[1:]
	}

	for i, v := range lifted {
		av, err := abi.Assign(v, h.ins[i], false)
		if err != nil {
			return err
		}
		args = append(args, av)
	}

	out := h.fn.Call(args)
	if h.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			return e.Interface().(error)
		}
		out = out[:len(out)-1]
	}

	if h.ctor != nil {
		handle, err := c.Table().InsertTyped(h.typeID, out[0].Interface())
		if err != nil {
			return err
		}
		out = []reflect.Value{reflect.ValueOf(uint32(handle))}
	}

	return cx.LowerReturn(h.results, out, retptr, stack)
}
