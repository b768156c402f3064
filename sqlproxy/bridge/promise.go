package bridge

// Promise is a simple notification primitive for asynchronous events.
type Promise chan struct{}

// Resolve wakes any clients currently waiting on the Promise.
func (p Promise) Resolve() {
	close(p)
}

// Wait synchronously blocks until the Promise is resolved.
func (p Promise) Wait() {
	<-p
}
