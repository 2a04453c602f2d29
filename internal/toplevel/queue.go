package toplevel

// Queue is an unbounded FIFO of events from a bridge goroutine to the state
// machine. Send never waits on the consumer, so a slow consumer cannot stall
// the bridge's protocol loop.
type Queue struct {
	in  chan Event
	out chan Event
}

func NewQueue() *Queue {
	q := &Queue{
		in:  make(chan Event),
		out: make(chan Event),
	}
	go q.pump()
	return q
}

// Send must not be called after Close.
func (q *Queue) Send(ev Event) {
	q.in <- ev
}

func (q *Queue) Events() <-chan Event {
	return q.out
}

// Close stops accepting events. Events already queued are still delivered,
// then Events is closed.
func (q *Queue) Close() {
	close(q.in)
}

func (q *Queue) pump() {
	var pending []Event
	in := q.in

	for in != nil || len(pending) > 0 {
		var out chan Event
		var next Event
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}

		select {
		case ev, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, ev)
		case out <- next:
			pending[0] = Event{}
			pending = pending[1:]
		}
	}
	close(q.out)
}
