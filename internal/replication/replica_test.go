package replication

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"redis/internal/protocol"
)

// newTestLink wires a MasterLink directly onto one end of a net.Pipe,
// skipping the dial/handshake so streamLoop can be driven in isolation.
func newTestLink() (*MasterLink, net.Conn) {
	m := NewMasterLink("127.0.0.1", 0, zap.NewNop())
	serverSide, testSide := net.Pipe()
	m.conn = serverSide
	m.reader = bufio.NewReader(serverSide)
	return m, testSide
}

func TestStreamLoopAppliesFramesAndAdvancesOffsetByExactLength(t *testing.T) {
	require := require.New(t)
	m, master := newTestLink()

	var applied [][]string
	m.SetApplyFunc(func(args []string) { applied = append(applied, args) })

	go m.streamLoop()

	frame := protocol.EncodeArray([]string{"SET", "k", "v"})
	_, err := master.Write(frame)
	require.NoError(err)

	require.Eventually(func() bool { return m.Offset() == int64(len(frame)) }, time.Second, 5*time.Millisecond)
	require.Eventually(func() bool { return len(applied) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal([]string{"SET", "k", "v"}, applied[0])
}

// TestGetAckReportsOffsetExcludingItself verifies the asymmetry: the ack
// sent for REPLCONF GETACK reports the offset accumulated *before* the
// GETACK frame's own bytes are counted.
func TestGetAckReportsOffsetExcludingItself(t *testing.T) {
	require := require.New(t)
	m, master := newTestLink()
	m.SetApplyFunc(func(args []string) {})

	go m.streamLoop()

	setFrame := protocol.EncodeArray([]string{"SET", "k", "v"})
	_, err := master.Write(setFrame)
	require.NoError(err)
	require.Eventually(func() bool { return m.Offset() == int64(len(setFrame)) }, time.Second, 5*time.Millisecond)

	getAckFrame := protocol.EncodeArray([]string{"REPLCONF", "GETACK", "*"})
	_, err = master.Write(getAckFrame)
	require.NoError(err)

	reply := make([]byte, 256)
	master.SetReadDeadline(time.Now().Add(time.Second))
	n, err := master.Read(reply)
	require.NoError(err)

	cmd, _, err := protocol.DecodeCommand(reply[:n])
	require.NoError(err)
	require.Equal([]string{"REPLCONF", "ACK", strconv.FormatInt(int64(len(setFrame)), 10)}, cmd.Args)

	require.Eventually(func() bool { return m.Offset() == int64(len(setFrame)+len(getAckFrame)) }, time.Second, 5*time.Millisecond)
}

func TestApplyFrameIgnoresPing(t *testing.T) {
	require := require.New(t)
	m, master := newTestLink()

	called := false
	m.SetApplyFunc(func(args []string) { called = true })

	go m.streamLoop()

	_, err := master.Write(protocol.EncodeArray([]string{"PING"}))
	require.NoError(err)

	time.Sleep(20 * time.Millisecond)
	require.False(called)
}
