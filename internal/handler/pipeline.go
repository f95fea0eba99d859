package handler

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"redis/internal/protocol"
	"redis/internal/replication"
)

// ConnectionConfig holds per-connection tuning, generalized from the
// teacher's PipelineConfig — MaxCommands/SlowThreshold/CommandTimeout are
// dropped since there is no per-command timeout or batch cap in this
// design; ReadTimeout survives as the idle-disconnect deadline.
type ConnectionConfig struct {
	ReadTimeout time.Duration
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{ReadTimeout: 30 * time.Second}
}

// ConnectionLoop owns one client connection end to end: read, decode,
// dispatch, encode, flush, repeat — draining every pipelined frame already
// buffered before blocking on the network again, the same read-one/
// execute-one/flush-all shape as the teacher's HandlePipeline, rebuilt
// against the byte-buffer codec instead of a bufio.Reader-based parser.
func (h *CommandHandler) ConnectionLoop(connID int64, conn net.Conn, config ConnectionConfig, replicas *replication.ReplicaRegistry) {
	defer h.RemoveConnection(connID)
	defer conn.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	var pending bytes.Buffer

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadlineOrDefault(config.ReadTimeout)))
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}

		for {
			cmd, consumed, derr := protocol.DecodeCommand(buf)
			if derr == protocol.ErrIncomplete {
				break
			}
			if derr != nil {
				pending.Write(protocol.EncodeError("ERR Protocol error: " + derr.Error()))
				buf = buf[:0]
				break
			}

			buf = buf[consumed:]
			result := h.Dispatch(connID, cmd.Args)
			pending.Write(result.Response)

			if result.PromoteToReplica {
				if _, werr := conn.Write(pending.Bytes()); werr != nil {
					return
				}
				pending.Reset()
				h.runReplicaAckLoop(conn, buf, replicas)
				return
			}
		}

		if pending.Len() > 0 {
			if _, werr := conn.Write(pending.Bytes()); werr != nil {
				return
			}
			pending.Reset()
		}

		if err != nil {
			if err == io.EOF {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				h.logger.Debug("idle timeout, disconnecting", zap.Int64("conn", connID))
				return
			}
			return
		}
	}
}

func readDeadlineOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// runReplicaAckLoop takes over a connection that just completed PSYNC: it
// registers the sink with replicas and thereafter reads nothing but
// REPLCONF ACK <offset> frames off the socket, forwarding each into
// ReplicaRegistry.UpdateAck. leftover is any bytes already read past the
// PSYNC frame that belong to this phase.
func (h *CommandHandler) runReplicaAckLoop(conn net.Conn, leftover []byte, replicas *replication.ReplicaRegistry) {
	if replicas == nil {
		return
	}
	id := replicas.Add(conn)
	defer replicas.Remove(id)

	buf := append([]byte(nil), leftover...)
	tmp := make([]byte, 4096)

	for {
		conn.SetReadDeadline(time.Time{})
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}

		for {
			cmd, consumed, derr := protocol.DecodeCommand(buf)
			if derr == protocol.ErrIncomplete {
				break
			}
			if derr != nil {
				buf = buf[:0]
				break
			}
			buf = buf[consumed:]

			if len(cmd.Args) == 3 && strings.EqualFold(cmd.Args[0], "REPLCONF") && strings.EqualFold(cmd.Args[1], "ACK") {
				if offset, perr := strconv.ParseInt(cmd.Args[2], 10, 64); perr == nil {
					replicas.UpdateAck(id, offset)
				}
			}
		}

		if err != nil {
			return
		}
	}
}
