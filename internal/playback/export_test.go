package playback

func (c *Controller) TickGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tickGen
}

func (c *Controller) Refresh(gen uint64) {
	c.refresh(gen)
}
