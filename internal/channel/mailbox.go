package channel

import "sync"

// Mailbox is an unbounded FIFO between a transport and one subscriber. Put never blocks, so a
// slow subscriber cannot stall the publisher or reorder what it receives.
type Mailbox struct {
	mu     sync.Mutex
	items  []Delivery
	closed bool

	notify chan struct{}
	done   chan struct{}
	out    chan Delivery
}

func NewMailbox() *Mailbox {
	m := &Mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Delivery),
	}
	go m.run()

	return m
}

// Put queues d. It reports false once the mailbox is closed.
func (m *Mailbox) Put(d Delivery) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, d)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}

	return true
}

func (m *Mailbox) Out() <-chan Delivery {
	return m.out
}

// Close drops anything still queued and closes Out.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.items = nil
	close(m.done)
}

func (m *Mailbox) run() {
	defer close(m.out)

	for {
		m.mu.Lock()
		if len(m.items) == 0 {
			m.mu.Unlock()
			select {
			case <-m.notify:
				continue
			case <-m.done:
				return
			}
		}
		d := m.items[0]
		m.items = m.items[1:]
		m.mu.Unlock()

		select {
		case m.out <- d:
		case <-m.done:
			return
		}
	}
}
