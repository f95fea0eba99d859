package replication

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"redis/internal/protocol"
)

// generateReplID mints a random 40-character replication ID, same shape as
// the teacher's generateReplID — cryptographically random, with a
// timestamp-based fallback if the system's entropy source is unavailable.
func generateReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%040d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}

// replicaSink is one connected replica's write side plus acknowledgment
// bookkeeping. Generalized from the teacher's ReplicaInfo: dropped
// CapabilityPSYNC2 and ListeningPort/Sentinel-facing fields since partial
// resync and Sentinel discovery are not in scope here.
type replicaSink struct {
	id          string
	conn        net.Conn
	addr        string
	connectedAt time.Time
	ackedOffset int64
}

// ReplicaRegistry is the master-side bookkeeping for connected replicas:
// write propagation, offset accounting, and WAIT's ack rendezvous. It
// replaces the teacher's ReplicationManager's master-half — the backlog
// and partial-resync machinery have no counterpart here since PSYNC always
// full-resyncs (see DESIGN.md).
type ReplicaRegistry struct {
	mu     sync.Mutex
	cond   *sync.Cond
	replID string
	offset int64
	sinks  map[string]*replicaSink
	logger *zap.Logger
}

func NewReplicaRegistry(logger *zap.Logger) *ReplicaRegistry {
	r := &ReplicaRegistry{
		replID: generateReplID(),
		sinks:  make(map[string]*replicaSink),
		logger: logger.Named("replication"),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *ReplicaRegistry) ReplID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replID
}

func (r *ReplicaRegistry) MasterOffset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

func (r *ReplicaRegistry) ReplicaCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// Add registers conn as a new replica sink, returning its registry id —
// an opaque uuid rather than an incrementing counter, so ids stay unique
// across the life of the process even as replicas come and go.
func (r *ReplicaRegistry) Add(conn net.Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	sink := &replicaSink{
		id:          id,
		conn:        conn,
		addr:        conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		ackedOffset: 0,
	}
	r.sinks[id] = sink
	r.logger.Info("replica attached", zap.String("id", id), zap.String("addr", sink.addr))
	return id
}

// Remove drops a replica sink, called when its ack-reading goroutine sees
// the connection die.
func (r *ReplicaRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sinks[id]; ok {
		delete(r.sinks, id)
		r.cond.Broadcast()
	}
}

// Propagate writes frame to every connected replica, best-effort, then
// advances the master offset by its length exactly once regardless of how
// many (or how few) replicas successfully received it. Write failures are
// logged and the failing replica stays registered; only its ack-reading
// goroutine removes it.
func (r *ReplicaRegistry) Propagate(frame []byte) {
	r.mu.Lock()
	sinks := make([]*replicaSink, 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	r.offset += int64(len(frame))
	r.mu.Unlock()

	var writeErr error
	for _, s := range sinks {
		if _, err := s.conn.Write(frame); err != nil {
			writeErr = multierr.Append(writeErr, fmt.Errorf("replica %s: %w", s.id, err))
		}
	}
	if writeErr != nil {
		r.logger.Warn("propagation failed for some replicas", zap.Error(writeErr))
	}
}

// sendGetAck broadcasts REPLCONF GETACK * to every attached replica,
// best-effort, as step 4 of WaitForReplication.
func (r *ReplicaRegistry) sendGetAck() {
	frame := protocol.EncodeArray([]string{"REPLCONF", "GETACK", "*"})

	r.mu.Lock()
	sinks := make([]*replicaSink, 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	r.mu.Unlock()

	for _, s := range sinks {
		if _, err := s.conn.Write(frame); err != nil {
			r.logger.Warn("GETACK write failed", zap.String("id", s.id), zap.Error(err))
		}
	}
}

// UpdateAck records the offset a replica has acknowledged via REPLCONF ACK,
// and wakes any WaitForReplication callers that may now be satisfied.
func (r *ReplicaRegistry) UpdateAck(id string, offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sink, ok := r.sinks[id]; ok {
		sink.ackedOffset = offset
		r.cond.Broadcast()
	}
}

// WaitForReplication implements WAIT numreplicas timeoutMs's rendezvous
// (§4.8): no replicas attached answers 0 immediately; no write has ever
// been propagated answers with the full replica count immediately;
// otherwise it broadcasts REPLCONF GETACK * and waits for acks to catch up
// to the offset captured at call time, or for timeout to elapse. A zero
// timeout waits without a deadline.
func (r *ReplicaRegistry) WaitForReplication(numReplicas int, timeout time.Duration) int {
	r.mu.Lock()
	total := len(r.sinks)
	target := r.offset
	r.mu.Unlock()

	if total == 0 {
		return 0
	}
	if target == 0 {
		return total
	}

	r.sendGetAck()

	r.mu.Lock()
	defer r.mu.Unlock()

	count := func() int {
		n := 0
		for _, s := range r.sinks {
			if s.ackedOffset >= target {
				n++
			}
		}
		return n
	}

	if n := count(); n >= numReplicas {
		return n
	}

	done := make(chan struct{})
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			r.mu.Lock()
			select {
			case <-done:
			default:
				close(done)
			}
			r.cond.Broadcast()
			r.mu.Unlock()
		})
		defer timer.Stop()
	}

	for {
		select {
		case <-done:
			return count()
		default:
		}
		if n := count(); n >= numReplicas {
			return n
		}
		r.cond.Wait()
	}
}

// EncodePropagationFrame renders a write command the way it crosses the
// wire to replicas: a plain RESP array, command name first.
func EncodePropagationFrame(name string, args []string) []byte {
	return protocol.EncodeArray(append([]string{name}, args...))
}
