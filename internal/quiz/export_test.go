package quiz

// Flush waits until every event posted before the call has been processed.
func (o *Orchestrator) Flush() {
	done := make(chan struct{})
	o.post(func() { close(done) })
	select {
	case <-done:
	case <-o.done:
	}
}
