package seq2seq

import (
	"sync"

	"github.com/unixpickle/anydiff"
)

// propagateConcurrently runs every back-propagation
// function on its own goroutine.
//
// Each function writes to a private gradient with the
// same variables as g.
// The private gradients are added into g one at a time
// as the functions finish.
func propagateConcurrently(g anydiff.Grad, fs ...func(g anydiff.Grad)) {
	var lock sync.Mutex
	var wg sync.WaitGroup
	for _, f := range fs {
		local := zeroGradLike(g)
		wg.Add(1)
		go func(f func(g anydiff.Grad)) {
			defer wg.Done()
			f(local)
			lock.Lock()
			defer lock.Unlock()
			for v, x := range local {
				if dest, ok := g[v]; ok {
					dest.Add(x)
				}
			}
		}(f)
	}
	wg.Wait()
}

func zeroGradLike(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for v, x := range g {
		res[v] = x.Creator().MakeVector(x.Len())
	}
	return res
}
