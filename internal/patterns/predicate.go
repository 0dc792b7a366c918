package patterns

import (
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// predicateTimeout bounds a single predicate evaluation. A rule that runs
// longer is treated as a non-match, not an error: the detection path never
// fails upward.
const predicateTimeout = 50 * time.Millisecond

// predicate wraps a user-supplied JavaScript matcher in a sandboxed
// interpreter. The VM has no host bindings: the function sees only the
// text argument. goja runtimes are not goroutine-safe, so evaluations
// serialize on a per-rule mutex.
type predicate struct {
	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

func newPredicate(source string) (*predicate, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(256)

	v, err := vm.RunString("(" + source + ")")
	if err != nil {
		return nil, fmt.Errorf("predicate does not parse: %w", err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("predicate is not a function")
	}
	return &predicate{vm: vm, fn: fn}, nil
}

func (p *predicate) match(text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	timer := time.AfterFunc(predicateTimeout, func() {
		p.vm.Interrupt("predicate timeout exceeded")
	})
	defer timer.Stop()
	defer p.vm.ClearInterrupt()

	res, err := p.fn(goja.Undefined(), p.vm.ToValue(text))
	if err != nil {
		return false
	}
	return res.ToBoolean()
}
