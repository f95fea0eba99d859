package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"redis/internal/protocol"
	"redis/internal/replication"
)

func (h *CommandHandler) registerReplicationCommands() {
	h.register("REPLCONF", 2, 0, true, false, handleReplconf)
	h.register("PSYNC", 3, 3, true, false, handlePsync)
	h.register("INFO", 1, 2, true, false, handleInfo)
	h.register("WAIT", 3, 3, true, false, handleWait)
}

// handleReplconf answers the handshake subcommands a connecting replica
// sends before PSYNC (listening-port, capa). ACK/GETACK never reach here —
// those travel over the promoted replica connection, outside ordinary
// client dispatch, and are handled by ReplicaRegistry's ack reader and by
// MasterLink respectively.
func handleReplconf(h *CommandHandler, connID int64, args []string) []byte {
	return protocol.EncodeSimpleString("OK")
}

// handlePsync answers PSYNC <replid> <offset> with a FULLRESYNC header
// followed by the canned empty RDB bulk, then tells the dispatcher to hand
// this connection off to the replica-streaming path. Partial resync is not
// supported — every PSYNC is answered as a full resync, regardless of the
// replid/offset the replica offered.
func handlePsync(h *CommandHandler, connID int64, args []string) []byte {
	if h.replicas == nil {
		return protocol.EncodeError("ERR this instance has no replication role")
	}
	header := protocol.EncodeFullResyncHeader(h.replicas.ReplID(), h.replicas.MasterOffset())
	rdb := protocol.EncodeRDBBulk(replication.EmptyRDB())
	return append(header, rdb...)
}

// handleInfo answers INFO [section]. Only the replication section is
// modeled; any other named section comes back as an empty bulk. Concurrent
// callers (health checkers tend to hammer this) collapse onto one snapshot
// read via h.infoGroup.
func handleInfo(h *CommandHandler, connID int64, args []string) []byte {
	section := "default"
	if len(args) > 0 {
		section = strings.ToLower(args[0])
	}
	if section != "default" && section != "all" && section != "replication" {
		return protocol.EncodeBulkString("")
	}

	v, _, _ := h.infoGroup.Do("info", func() (interface{}, error) {
		return h.renderReplicationInfo(), nil
	})
	return protocol.EncodeBulkString(v.(string))
}

func (h *CommandHandler) renderReplicationInfo() string {
	var b strings.Builder
	b.WriteString("# Replication\r\n")
	if h.isMaster != nil && h.isMaster() {
		b.WriteString("role:master\r\n")
	} else {
		b.WriteString("role:slave\r\n")
	}

	replID, offset := h.replicationIdentity()
	fmt.Fprintf(&b, "master_replid:%s\r\n", replID)
	fmt.Fprintf(&b, "master_repl_offset:%d\r\n", offset)
	return b.String()
}

// replicationIdentity reports the replid/offset pair for both roles
// unconditionally: the registry on a master, the master link on a
// replica. Both lines are required regardless of role (see DESIGN.md).
func (h *CommandHandler) replicationIdentity() (string, int64) {
	if h.replicas != nil {
		return h.replicas.ReplID(), h.replicas.MasterOffset()
	}
	if h.masterLink != nil {
		return h.masterLink.MasterReplID(), h.masterLink.Offset()
	}
	return "", 0
}

// handleWait implements WAIT numreplicas timeout, blocking until
// numreplicas have acknowledged the master's current offset or timeout
// (ms) elapses, per §4.8's WaitRendezvous algorithm.
func handleWait(h *CommandHandler, connID int64, args []string) []byte {
	numReplicas, err1 := strconv.Atoi(args[0])
	timeoutMs, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || timeoutMs < 0 {
		return protocol.EncodeError("ERR value is not an integer or out of range")
	}
	if h.replicas == nil {
		return protocol.EncodeInteger(0)
	}

	n := h.replicas.WaitForReplication(numReplicas, time.Duration(timeoutMs)*time.Millisecond)
	return protocol.EncodeInteger(n)
}
