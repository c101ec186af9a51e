package worker

import "sync"

// StopSignal is a close-once cancellation token observed between items.
type StopSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopSignal returns an unfired signal.
func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Stop fires the signal. It reports true only for the call that fired it.
func (s *StopSignal) Stop() bool {
	fired := false
	s.once.Do(func() {
		close(s.ch)
		fired = true
	})
	return fired
}

// Done is closed once the signal fires.
func (s *StopSignal) Done() <-chan struct{} {
	return s.ch
}

// Stopped reports whether the signal has fired.
func (s *StopSignal) Stopped() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
