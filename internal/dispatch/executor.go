package dispatch

import (
	"runtime/debug"
	"sync"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

// executor runs submitted invocations one at a time in submission order. The queue is
// unbounded so a handler waiting in Prompt never blocks the pump that delivers its reply.
type executor struct {
	mu      sync.Mutex
	queue   []func()
	active  bool
	running sync.WaitGroup
}

func (e *executor) submit(run func()) {
	e.running.Add(1)
	e.mu.Lock()
	e.queue = append(e.queue, run)
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.mu.Unlock()
	go e.drain()
}

func (e *executor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.active = false
			e.mu.Unlock()
			return
		}
		run := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.runOne(run)
	}
}

func (e *executor) runOne(run func()) {
	defer e.running.Done()
	defer func() {
		if p := recover(); p != nil {
			log.Component("dispatch").WithField("panic", p).Error("Command invocation panicked")
			log.Component("dispatch").Debug(string(debug.Stack()))
		}
	}()
	run()
}

// pending counts queued invocations that have not started yet.
func (e *executor) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *executor) wait() {
	e.running.Wait()
}
