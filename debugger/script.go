package debugger

import (
	"errors"
	"fmt"
	"time"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/dop251/goja"
)

// ScriptTimeout bounds a single condition evaluation.
var ScriptTimeout = 250 * time.Millisecond

var errNoState = errors.New("script condition evaluated without state")

// ScriptCondition is a JavaScript expression evaluated against the position
// reached after a step. Its runtime sees:
//
//	step pc op gas depth msize status   numbers, or strings for op and status
//	stack(i)                            i'th word from the top as hex, undefined past the bottom
//	storage(key)                        word at key (hex or decimal string, or number) as hex
//	memory(offset, n)                   n bytes at offset as hex
//
// A ScriptCondition keeps one runtime and is not safe for concurrent use.
type ScriptCondition struct {
	src  string
	prog *goja.Program
	vm   *goja.Runtime
	c    *state.Containers
}

// NewScriptCondition compiles src. Syntax errors surface here rather than on
// the first evaluation.
func NewScriptCondition(src string) (*ScriptCondition, error) {
	prog, err := goja.Compile("breakpoint", src, false)
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	sc := &ScriptCondition{src: src, prog: prog, vm: goja.New()}
	sc.bind()
	return sc, nil
}

func (sc *ScriptCondition) Source() string {
	return sc.src
}

func (sc *ScriptCondition) bind() {
	vm := sc.vm
	vm.Set("stack", func(i int) goja.Value {
		if sc.c == nil || i < 0 || i >= sc.c.Stack.Len() {
			return goja.Undefined()
		}
		return vm.ToValue(sc.c.Stack.Back(i).Hex())
	})
	vm.Set("storage", func(key goja.Value) goja.Value {
		if sc.c == nil {
			panic(vm.NewGoError(errNoState))
		}
		k, err := config.ParseWord(key.String())
		if err != nil {
			panic(vm.NewTypeError("storage: %v", err))
		}
		v := sc.c.Storage.Get(k)
		return vm.ToValue(v.Hex())
	})
	vm.Set("memory", func(offset, n int64) goja.Value {
		if sc.c == nil {
			panic(vm.NewGoError(errNoState))
		}
		if offset < 0 || n < 0 || n > 1<<16 {
			panic(vm.NewTypeError("memory: bad range %d+%d", offset, n))
		}
		return vm.ToValue(common.Bytes2Hex(sc.c.Memory.Read(uint64(offset), uint64(n))))
	})
}

// Eval runs the condition for pos. Any thrown exception, or a run longer
// than ScriptTimeout, is returned as an error.
func (sc *ScriptCondition) Eval(pos timetravel.Position, c *state.Containers) (bool, error) {
	sc.c = c
	defer func() { sc.c = nil }()

	vm := sc.vm
	vm.Set("step", pos.Step)
	vm.Set("pc", pos.PC)
	vm.Set("op", pos.Op.String())
	vm.Set("gas", pos.Gas)
	vm.Set("status", pos.Status.String())
	vm.Set("depth", c.Stack.Len())
	vm.Set("msize", c.Memory.Len())

	timer := time.AfterFunc(ScriptTimeout, func() {
		vm.Interrupt("condition timed out")
	})
	v, err := vm.RunProgram(sc.prog)
	timer.Stop()
	vm.ClearInterrupt()
	if err != nil {
		return false, fmt.Errorf("condition %q at step %d: %w", sc.src, pos.Step, err)
	}
	return v.ToBoolean(), nil
}
