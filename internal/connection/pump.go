package connection

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/whatsapp"
)

// Subscriber consumes inbound events of one socket generation. Handle receives the events
// queued since its last call, in arrival order, and is never called concurrently with itself.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, sock whatsapp.Socket, batch []interface{})
}

const maxBatch = 64

type pump struct {
	sub  Subscriber
	ch   chan interface{}
	done chan struct{}
}

func newPump(sub Subscriber, size int) *pump {
	return &pump{
		sub:  sub,
		ch:   make(chan interface{}, size),
		done: make(chan struct{}),
	}
}

func (p *pump) run(ctx context.Context, sock whatsapp.Socket, gen uint64) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-p.ch:
			batch := []interface{}{evt}
		drain:
			for len(batch) < maxBatch {
				select {
				case next := <-p.ch:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			p.deliver(ctx, sock, gen, batch)
		}
	}
}

func (p *pump) deliver(ctx context.Context, sock whatsapp.Socket, gen uint64, batch []interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Component("connection").WithFields(logrus.Fields{
				"subscriber": p.sub.Name(),
				"generation": gen,
				"panic":      r,
			}).Error("Subscriber panicked, batch dropped")
			log.Component("connection").Debug(string(debug.Stack()))
		}
	}()
	p.sub.Handle(ctx, sock, batch)
}

// push blocks until the subscriber has room or the generation ends.
func (p *pump) push(ctx context.Context, evt interface{}) bool {
	select {
	case p.ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
