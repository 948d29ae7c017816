package chat

import (
	"hash/fnv"

	"ChatRelay/logger"
)

type fanoutJob struct {
	conns   []*Client
	payload []byte
	except  string // conn id to skip ("" = deliver to all)
}

// Fanout delivers one serialized payload to many connections through a set
// of sharded workers. Jobs for the same key (conversation id) land on the
// same worker, preserving per-conversation delivery order; order across
// conversations is undefined. Delivery is isolated per connection: a full
// queue or closed socket on one member never stalls the rest, the dead
// connection is handed to onDead for teardown instead.
type Fanout struct {
	shards []chan fanoutJob
	onDead func(*Client)
}

func NewFanout(workers, queue int, onDead func(*Client)) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 256
	}
	f := &Fanout{shards: make([]chan fanoutJob, workers), onDead: onDead}
	for i := range f.shards {
		ch := make(chan fanoutJob, queue)
		f.shards[i] = ch
		go f.worker(ch)
	}
	return f
}

func (f *Fanout) worker(jobs <-chan fanoutJob) {
	for job := range jobs {
		for _, c := range job.conns {
			if job.except != "" && c.ConnID == job.except {
				continue
			}
			if !c.Enqueue(job.payload) {
				// Slow or closing client: drop the connection, never block
				// the broadcaster.
				logger.Warnf("[fanout] send queue full, dropping conn=%s user=%s", c.ConnID, c.UserID())
				if f.onDead != nil {
					f.onDead(c)
				}
			}
		}
	}
}

// Broadcast enqueues a delivery job on the shard owning key. except may be
// nil; it is used to avoid echoing typing/call frames back to the sender.
func (f *Fanout) Broadcast(key string, conns []*Client, payload []byte, except *Client) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	job := fanoutJob{conns: conns, payload: payload}
	if except != nil {
		job.except = except.ConnID
	}
	f.shards[f.shardFor(key)] <- job
}

func (f *Fanout) shardFor(key string) int {
	if len(f.shards) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(f.shards)))
}

// Close stops the workers once pending jobs drain.
func (f *Fanout) Close() {
	for _, ch := range f.shards {
		close(ch)
	}
}
