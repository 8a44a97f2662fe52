package dispatch

import "github.com/glennswest/netpkt/packet"

// queueItem pairs a packet with the work a PriorityQueue consumer
// should run once it's this packet's turn.
type queueItem struct {
	p    packet.Packet
	work func(packet.Packet)
}

// PriorityQueue reorders a single connection's incoming packets so
// that Urgent packets may be processed ahead of Normal or Low ones
// while packets within the same Priority class are processed in the
// order they arrived. TransportStream.ReceiveLoop already
// serializes arrivals into one goroutine per connection; Dispatcher.
// Dispatch enqueues each packet here, and the queue's delivery
// goroutine runs the middleware pipeline and handler in the reordered
// sequence.
type PriorityQueue struct {
	lanes [4]chan queueItem
	done  chan struct{}
}

// NewPriorityQueue starts the queue's delivery goroutine. laneSize is
// the per-priority-class buffer depth; Enqueue blocks once a lane
// fills, applying backpressure to the connection's receive loop.
func NewPriorityQueue(laneSize int) *PriorityQueue {
	if laneSize <= 0 {
		laneSize = 16
	}
	q := &PriorityQueue{done: make(chan struct{})}
	for i := range q.lanes {
		q.lanes[i] = make(chan queueItem, laneSize)
	}
	go q.run()
	return q
}

// Enqueue schedules work to run once p reaches the front of its
// priority lane.
func (q *PriorityQueue) Enqueue(p packet.Packet, work func(packet.Packet)) {
	q.lanes[p.Priority] <- queueItem{p: p, work: work}
}

// Close stops the delivery goroutine. Items already enqueued but not
// yet delivered are discarded.
func (q *PriorityQueue) Close() { close(q.done) }

func (q *PriorityQueue) run() {
	urgent := q.lanes[packet.PriorityUrgent]
	high := q.lanes[packet.PriorityHigh]
	normal := q.lanes[packet.PriorityNormal]
	low := q.lanes[packet.PriorityLow]

	for {
		// Bias toward Urgent without literal starvation of the other
		// lanes: drain anything already waiting there first, then fall
		// into a fair blocking select across all four.
		select {
		case item := <-urgent:
			item.work(item.p)
			continue
		case <-q.done:
			return
		default:
		}

		select {
		case item := <-urgent:
			item.work(item.p)
		case item := <-high:
			item.work(item.p)
		case item := <-normal:
			item.work(item.p)
		case item := <-low:
			item.work(item.p)
		case <-q.done:
			return
		}
	}
}
