package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startTestServer(t *testing.T, cfg *Config) (*Server, func()) {
	t.Helper()
	srv := NewServer(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)

	return srv, func() {
		cancel()
		select {
		case <-runErr:
		case <-time.After(time.Second):
		}
	}
}

func sendAndRead(t *testing.T, conn net.Conn, frame string) string {
	t.Helper()
	_, err := conn.Write([]byte(frame))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestServerServesClientCommands(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.Host = "127.0.0.1"
	srv, stop := startTestServer(t, cfg)
	defer stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "+PONG\r\n", sendAndRead(t, conn, "*1\r\n$4\r\nPING\r\n"))
	require.Equal(t, "+OK\r\n", sendAndRead(t, conn, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"))
}

func TestReplicaAppliesMasterWrites(t *testing.T) {
	masterCfg := DefaultConfig()
	masterCfg.Port = 0
	masterCfg.Host = "127.0.0.1"
	master, stopMaster := startTestServer(t, masterCfg)
	defer stopMaster()

	masterPort := master.Addr().(*net.TCPAddr).Port

	replicaCfg := DefaultConfig()
	replicaCfg.Port = 0
	replicaCfg.Host = "127.0.0.1"
	replicaCfg.Role = "replica"
	replicaCfg.MasterHost = "127.0.0.1"
	replicaCfg.MasterPort = masterPort
	replica, stopReplica := startTestServer(t, replicaCfg)
	defer stopReplica()

	conn, err := net.Dial("tcp", master.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, "+OK\r\n", sendAndRead(t, conn, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"))

	require.Eventually(t, func() bool {
		v, ok, _ := replica.Store().Get("k")
		return ok && v == "v"
	}, 2*time.Second, 10*time.Millisecond)
}
