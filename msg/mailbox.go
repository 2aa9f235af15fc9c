package msg

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/sarchlab/ossim/sim"
)

// ErrClosed is returned when sending to, or receiving from an empty, closed
// mailbox.
var ErrClosed = errors.New("mailbox closed")

// HookPosMailboxRecv marks when a message is taken from the mailbox.
var HookPosMailboxRecv = &sim.HookPos{Name: "Mailbox Recv"}

// A Sender can deliver messages to the controller.
type Sender interface {
	Send(m Msg) error
}

// A Mailbox is an unbounded FIFO channel from many workers to one receiver.
// Messages are delivered in the order Send was called, without loss or
// duplication, and Send never blocks. Hooks run on the receiving goroutine.
type Mailbox struct {
	sim.HookableBase

	lock   sync.Mutex
	queue  deque.Deque[Msg]
	notify chan struct{}
	closed bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		notify: make(chan struct{}, 1),
	}
}

// Send appends m to the mailbox.
func (b *Mailbox) Send(m Msg) error {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return ErrClosed
	}

	b.queue.PushBack(m)
	b.lock.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}

	return nil
}

// SendFrame unmarshals a frame and appends the message to the mailbox.
// Frames that do not hold a valid message are refused.
func (b *Mailbox) SendFrame(frame []byte) error {
	m, err := Unmarshal(frame)
	if err != nil {
		return err
	}

	return b.Send(m)
}

// TryReceive takes the oldest message without waiting.
func (b *Mailbox) TryReceive() (Msg, bool) {
	m, ok, _ := b.take()
	return m, ok
}

// Receive takes the oldest message, waiting at most timeout for one to
// arrive. A zero timeout waits until a message arrives or ctx is done. It
// returns false, with a nil error, when the timeout elapses first.
func (b *Mailbox) Receive(
	ctx context.Context,
	timeout time.Duration,
) (Msg, bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		m, ok, err := b.take()
		if ok || err != nil {
			return m, ok, err
		}

		select {
		case <-b.notify:
		case <-expired:
			m, ok, err := b.take()
			return m, ok, err
		case <-ctx.Done():
			return Msg{}, false, ctx.Err()
		}
	}
}

func (b *Mailbox) take() (Msg, bool, error) {
	b.lock.Lock()

	if b.queue.Len() == 0 {
		closed := b.closed
		b.lock.Unlock()

		if closed {
			return Msg{}, false, ErrClosed
		}

		return Msg{}, false, nil
	}

	m := b.queue.PopFront()
	b.lock.Unlock()

	b.received(m)

	return m, true, nil
}

// TakeFrom removes every queued message of sender, oldest first. The other
// messages keep their order.
func (b *Mailbox) TakeFrom(sender string) []Msg {
	var taken []Msg

	b.lock.Lock()
	for n := b.queue.Len(); n > 0; n-- {
		m := b.queue.PopFront()
		if m.Sender == sender {
			taken = append(taken, m)
			continue
		}

		b.queue.PushBack(m)
	}
	b.lock.Unlock()

	for _, m := range taken {
		b.received(m)
	}

	return taken
}

func (b *Mailbox) received(m Msg) {
	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(sim.HookCtx{
		Domain: b,
		Pos:    HookPosMailboxRecv,
		Item:   m,
	})
}

// Len returns the number of messages waiting.
func (b *Mailbox) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.queue.Len()
}

// Close stops the mailbox from accepting messages. Messages already queued
// can still be received.
func (b *Mailbox) Close() {
	b.lock.Lock()
	b.closed = true
	b.lock.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}
