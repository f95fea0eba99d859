package replication

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"redis/internal/protocol"
)

// LinkState mirrors the teacher's MasterState, trimmed to the states this
// handshake actually passes through — no partial-resync "continue" state,
// since PSYNC here is always a full resync.
type LinkState string

const (
	LinkDisconnected LinkState = "disconnected"
	LinkConnecting   LinkState = "connecting"
	LinkSyncing      LinkState = "syncing"
	LinkConnected    LinkState = "connected"
)

// ApplyFunc runs one command received over the replication stream against
// the local store, without generating a client reply. The server supplies
// this via SetApplyFunc, wrapping the handler's SilentDispatch — MasterLink
// never imports internal/handler
// directly, mirroring the teacher's SetCommandExecutor callback, which
// exists for the same reason: avoiding a replication<->handler import cycle.
type ApplyFunc func(args []string)

// MasterLink is the replica side of replication: it owns the connection to
// the master, drives the handshake, and applies the propagated command
// stream, tracking the replica's own byte-exact offset into that stream.
type MasterLink struct {
	mu         sync.Mutex
	host       string
	port       int
	conn       net.Conn
	reader     *bufio.Reader
	state      LinkState
	masterRepl string
	offset     int64

	apply  ApplyFunc
	logger *zap.Logger
}

func NewMasterLink(host string, port int, logger *zap.Logger) *MasterLink {
	return &MasterLink{
		host:   host,
		port:   port,
		state:  LinkDisconnected,
		logger: logger.Named("masterlink"),
	}
}

func (m *MasterLink) SetApplyFunc(fn ApplyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply = fn
}

func (m *MasterLink) State() LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MasterLink) Offset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// MasterReplID returns the replid this replica learned from its master's
// FULLRESYNC header, empty until the handshake completes.
func (m *MasterLink) MasterReplID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterRepl
}

// Run dials the master, performs the handshake, and then applies the
// replication stream until conn dies or stop is closed. It blocks — callers
// run it in its own goroutine, the way the teacher's performHandshake runs
// detached from ConnectToMaster.
func (m *MasterLink) Run(listeningPort int, stop <-chan struct{}) error {
	m.setState(LinkConnecting)

	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		m.setState(LinkDisconnected)
		return fmt.Errorf("dial master: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.reader = bufio.NewReader(conn)
	m.mu.Unlock()

	if err := m.handshake(listeningPort); err != nil {
		conn.Close()
		m.setState(LinkDisconnected)
		return fmt.Errorf("handshake: %w", err)
	}

	m.setState(LinkConnected)
	m.logger.Info("handshake complete, applying replication stream",
		zap.String("master_replid", m.masterRepl), zap.Int64("offset", m.offset))

	go func() {
		<-stop
		conn.Close()
	}()

	return m.streamLoop()
}

// handshake runs PING, REPLCONF listening-port, REPLCONF capa, PSYNC, and
// consumes the FULLRESYNC header plus the RDB bulk that follows it — the
// same four-step sequence as the teacher's performHandshake, replayed with
// the new codec instead of hand-built wire strings.
func (m *MasterLink) handshake(listeningPort int) error {
	if err := m.roundTrip(protocol.EncodeArray([]string{"PING"}), "PONG"); err != nil {
		return err
	}

	lpCmd := protocol.EncodeArray([]string{"REPLCONF", "listening-port", strconv.Itoa(listeningPort)})
	if err := m.roundTrip(lpCmd, "OK"); err != nil {
		return err
	}

	capaCmd := protocol.EncodeArray([]string{"REPLCONF", "capa", "psync2"})
	if err := m.roundTrip(capaCmd, "OK"); err != nil {
		return err
	}

	m.setState(LinkSyncing)
	psyncCmd := protocol.EncodeArray([]string{"PSYNC", "?", "-1"})
	if _, err := m.conn.Write(psyncCmd); err != nil {
		return err
	}

	line, err := m.readLine()
	if err != nil {
		return fmt.Errorf("reading FULLRESYNC: %w", err)
	}
	parts := strings.Fields(strings.TrimPrefix(line, "+"))
	if len(parts) < 3 || parts[0] != "FULLRESYNC" {
		return fmt.Errorf("unexpected PSYNC reply: %q", line)
	}
	m.mu.Lock()
	m.masterRepl = parts[1]
	m.offset, _ = strconv.ParseInt(parts[2], 10, 64)
	m.mu.Unlock()

	return m.consumeRDBBulk()
}

// consumeRDBBulk reads the RDB payload FULLRESYNC ships — a bulk header
// with no trailing CRLF, per the codec's EncodeRDBBulk asymmetry.
func (m *MasterLink) consumeRDBBulk() error {
	line, err := m.readLine()
	if err != nil {
		return fmt.Errorf("reading RDB header: %w", err)
	}
	if !strings.HasPrefix(line, "$") {
		return fmt.Errorf("expected RDB bulk header, got %q", line)
	}
	size, err := strconv.Atoi(strings.TrimPrefix(line, "$"))
	if err != nil || size < 0 {
		return fmt.Errorf("malformed RDB bulk length %q", line)
	}

	buf := make([]byte, size)
	if _, err := readFull(m.reader, buf); err != nil {
		return fmt.Errorf("reading RDB payload: %w", err)
	}
	// The canned RDB is always empty-database; there is nothing to load.
	return nil
}

// streamLoop applies propagated commands until the connection dies. Each
// frame's exact wire length advances the offset — the same byte-exact
// accounting the handshake offset started from.
func (m *MasterLink) streamLoop() error {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)

	for {
		n, err := m.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			m.setState(LinkDisconnected)
			return err
		}

		for {
			cmd, consumed, derr := protocol.DecodeCommand(buf)
			if derr == protocol.ErrIncomplete {
				break
			}
			if derr != nil {
				m.logger.Warn("dropping malformed frame from master", zap.Error(derr))
				buf = buf[:0]
				break
			}

			buf = buf[consumed:]
			m.applyFrame(cmd.Args)
			m.advanceOffset(int64(consumed))
		}
	}
}

// applyFrame handles REPLCONF GETACK specially — the ACK it sends upstream
// must report the offset as of just *before* this frame, per §4.5's
// asymmetry ("the reported offset excludes the GETACK frame itself"), so
// this runs before streamLoop advances past the frame. Every other command
// is applied silently through the injected ApplyFunc.
func (m *MasterLink) applyFrame(args []string) {
	if len(args) == 0 {
		return
	}
	name := strings.ToUpper(args[0])

	switch {
	case name == "PING":
		return
	case name == "REPLCONF" && len(args) >= 2 && strings.EqualFold(args[1], "GETACK"):
		m.sendAck()
		return
	}

	m.mu.Lock()
	apply := m.apply
	m.mu.Unlock()
	if apply != nil {
		apply(args)
	}
}

func (m *MasterLink) sendAck() {
	offset := m.Offset()
	ack := protocol.EncodeArray([]string{"REPLCONF", "ACK", strconv.FormatInt(offset, 10)})
	if _, err := m.conn.Write(ack); err != nil {
		m.logger.Warn("failed to send REPLCONF ACK", zap.Error(err))
	}
}

func (m *MasterLink) advanceOffset(n int64) {
	m.mu.Lock()
	m.offset += n
	m.mu.Unlock()
}

func (m *MasterLink) setState(s LinkState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// roundTrip sends cmd and expects a simple-string reply containing want,
// the same PING/REPLCONF expectation the teacher's handshake checked with
// strings.Contains.
func (m *MasterLink) roundTrip(cmd []byte, want string) error {
	if _, err := m.conn.Write(cmd); err != nil {
		return err
	}
	line, err := m.readLine()
	if err != nil {
		return err
	}
	if !strings.Contains(line, want) {
		return fmt.Errorf("unexpected reply %q, want containing %q", line, want)
	}
	return nil
}

func (m *MasterLink) readLine() (string, error) {
	line, err := m.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
