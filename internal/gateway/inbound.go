package gateway

import "sync"

// inbound runs chat events of one conversation strictly in arrival order, off
// the whatsmeow dispatch goroutine. Different conversations progress
// independently.
type inbound struct {
	mu    sync.Mutex
	lanes map[string][]func()
	wg    sync.WaitGroup
}

func newInbound() *inbound {
	return &inbound{lanes: make(map[string][]func())}
}

// push queues fn behind the earlier events of conversationID.
func (in *inbound) push(conversationID string, fn func()) {
	in.wg.Add(1)
	in.mu.Lock()
	pending, running := in.lanes[conversationID]
	in.lanes[conversationID] = append(pending, fn)
	in.mu.Unlock()

	if !running {
		go in.drain(conversationID)
	}
}

func (in *inbound) drain(conversationID string) {
	for {
		in.mu.Lock()
		pending := in.lanes[conversationID]
		if len(pending) == 0 {
			delete(in.lanes, conversationID)
			in.mu.Unlock()
			return
		}
		fn := pending[0]
		in.lanes[conversationID] = pending[1:]
		in.mu.Unlock()

		fn()
		in.wg.Done()
	}
}

// pending returns how many conversations have events in flight.
func (in *inbound) pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.lanes)
}

// wait blocks until every queued event has been handled.
func (in *inbound) wait() { in.wg.Wait() }
