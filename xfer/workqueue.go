package xfer

// WorkQueue is a single-flight FIFO dispatcher. At most one transfer is
// current at a time, and the command runs against the current transfer.
//
// The command may re-enter the queue through EnqueueOrRun, Next or Restart.
// A nested call never recurses: it only requests another iteration from the
// frame already driving the loop.
//
// A WorkQueue is not safe for concurrent use; every call must hold the lock
// that protects the queue (the bus lock for all engine queues).
type WorkQueue struct {
	curr    *Transfer
	head    *Transfer
	tail    *Transfer
	command func(q *WorkQueue)

	running bool // a frame is driving the loop
	repeat  bool // cleared by a nested call to request another iteration
	ranOnce bool // the command ran at least once in the current loop
}

// NewWorkQueue returns a queue that runs command against each transfer.
func NewWorkQueue(command func(q *WorkQueue)) *WorkQueue {
	q := &WorkQueue{}
	q.init(command)
	return q
}

func (q *WorkQueue) init(command func(q *WorkQueue)) {
	q.command = command
}

// Current returns the transfer the command is running against, or nil.
func (q *WorkQueue) Current() *Transfer { return q.curr }

// Len returns the number of waiting transfers, excluding the current one.
func (q *WorkQueue) Len() int {
	n := 0
	for x := q.head; x != nil; x = x.waitNext {
		n++
	}
	return n
}

// Empty reports whether the queue has neither a current nor a waiting
// transfer.
func (q *WorkQueue) Empty() bool { return q.curr == nil && q.head == nil }

// Running reports whether a frame is driving the loop.
func (q *WorkQueue) Running() bool { return q.running }

// RanOnce reports whether the command already ran in the current loop. A
// command that sees true is running because of a nested request.
func (q *WorkQueue) RanOnce() bool { return q.ranOnce }

// enqueue appends x unless it already waits on a queue.
func (q *WorkQueue) enqueue(x *Transfer) {
	if x.waitQ != nil {
		return
	}
	x.waitQ = q
	x.waitPrev = q.tail
	x.waitNext = nil
	if q.tail != nil {
		q.tail.waitNext = x
	} else {
		q.head = x
	}
	q.tail = x
}

// dequeue removes x from whichever queue it waits on.
func dequeue(x *Transfer) {
	q := x.waitQ
	if q == nil {
		return
	}
	if x.waitPrev != nil {
		x.waitPrev.waitNext = x.waitNext
	} else {
		q.head = x.waitNext
	}
	if x.waitNext != nil {
		x.waitNext.waitPrev = x.waitPrev
	} else {
		q.tail = x.waitPrev
	}
	x.waitQ, x.waitNext, x.waitPrev = nil, nil, nil
}

// EnqueueOrRun queues x and, when no transfer is current, runs the command.
// A nil x releases the current transfer and runs the next waiting one.
// Passing the current transfer reruns the command against it.
func (q *WorkQueue) EnqueueOrRun(x *Transfer) {
	if x != nil {
		if q.curr != x {
			q.enqueue(x)
			if q.curr != nil {
				return
			}
		}
	} else {
		q.curr = nil
	}

	if q.running {
		q.repeat = false
		return
	}

	q.ranOnce = false
	for {
		q.running = true
		q.repeat = true
		if q.curr == nil {
			next := q.head
			if next == nil {
				break
			}
			dequeue(next)
			q.curr = next
		}
		q.command(q)
		q.ranOnce = true
		if q.repeat {
			break
		}
	}
	q.running = false
}

// Next releases the current transfer and runs the next waiting one.
func (q *WorkQueue) Next() { q.EnqueueOrRun(nil) }

// Restart reruns the command against the current transfer, or starts the
// next waiting one when none is current.
func (q *WorkQueue) Restart() { q.EnqueueOrRun(q.curr) }
