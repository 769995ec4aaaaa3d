package playback

// Observer receives state snapshots. It runs without any controller lock held and may call
// back into the controller; such nested changes are delivered after the current one.
type Observer func(State)

type delivery struct {
	state  State
	target uint64 // 0 means every observer
}

// pushLocked queues s for delivery. Callers hold c.mu so that queue order matches the order in
// which snapshots were taken.
func (c *Controller) pushLocked(d delivery) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	if c.obsClosed {
		return
	}
	c.queue = append(c.queue, d)
}

// drain delivers queued snapshots in order. Only one goroutine drains at a time; others
// return immediately and leave their snapshots to the active drainer.
func (c *Controller) drain() {
	c.obsMu.Lock()
	if c.draining {
		c.obsMu.Unlock()
		return
	}
	c.draining = true

	for len(c.queue) > 0 && !c.obsClosed {
		d := c.queue[0]
		c.queue = c.queue[1:]

		var ids []uint64
		if d.target != 0 {
			ids = []uint64{d.target}
		} else {
			ids = make([]uint64, len(c.order))
			copy(ids, c.order)
		}

		for _, id := range ids {
			if c.obsClosed {
				break
			}
			fn, ok := c.observers[id]
			if !ok {
				continue
			}

			c.obsMu.Unlock()
			fn(d.state)
			c.obsMu.Lock()
		}
	}

	c.draining = false
	c.obsMu.Unlock()
}

func (c *Controller) removeObserver(id uint64) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	if _, ok := c.observers[id]; !ok {
		return
	}
	delete(c.observers, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
