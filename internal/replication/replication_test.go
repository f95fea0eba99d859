package replication

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func drain(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func TestPropagateAdvancesOffsetOnceAcrossAllSinks(t *testing.T) {
	require := require.New(t)
	r := NewReplicaRegistry(zap.NewNop())

	serverA, clientA := net.Pipe()
	serverB, clientB := net.Pipe()
	go drain(clientA)
	go drain(clientB)
	r.Add(serverA)
	r.Add(serverB)

	frame := EncodePropagationFrame("SET", []string{"k", "v"})
	r.Propagate(frame)
	require.Equal(int64(len(frame)), r.MasterOffset())

	r.Propagate(frame)
	require.Equal(int64(2*len(frame)), r.MasterOffset())
	require.Equal(2, r.ReplicaCount())
}

func TestPropagateKeepsFailedSinks(t *testing.T) {
	require := require.New(t)
	r := NewReplicaRegistry(zap.NewNop())

	serverA, clientA := net.Pipe()
	r.Add(serverA)
	clientA.Close()
	serverA.Close()

	r.Propagate(EncodePropagationFrame("SET", []string{"k", "v"}))
	require.Equal(1, r.ReplicaCount())
}

func TestWaitForReplicationNoReplicasReturnsZero(t *testing.T) {
	require := require.New(t)
	r := NewReplicaRegistry(zap.NewNop())

	n := r.WaitForReplication(1, 50*time.Millisecond)
	require.Equal(0, n)
}

func TestWaitForReplicationNoWritesYetReturnsFullCount(t *testing.T) {
	require := require.New(t)
	r := NewReplicaRegistry(zap.NewNop())

	serverA, clientA := net.Pipe()
	serverB, clientB := net.Pipe()
	go drain(clientA)
	go drain(clientB)
	r.Add(serverA)
	r.Add(serverB)

	n := r.WaitForReplication(5, 50*time.Millisecond)
	require.Equal(2, n)
}

func TestWaitForReplicationSatisfiedByAck(t *testing.T) {
	require := require.New(t)
	r := NewReplicaRegistry(zap.NewNop())

	server, client := net.Pipe()
	go drain(client)
	id := r.Add(server)

	r.Propagate(EncodePropagationFrame("SET", []string{"k", "v"}))
	target := r.MasterOffset()

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.UpdateAck(id, target)
	}()

	n := r.WaitForReplication(1, time.Second)
	require.Equal(1, n)
}

func TestWaitForReplicationTimesOutUnacked(t *testing.T) {
	require := require.New(t)
	r := NewReplicaRegistry(zap.NewNop())

	server, client := net.Pipe()
	go drain(client)
	r.Add(server)

	r.Propagate(EncodePropagationFrame("SET", []string{"k", "v"}))

	n := r.WaitForReplication(1, 50*time.Millisecond)
	require.Equal(0, n)
}

func TestEncodePropagationFrameIsPlainArray(t *testing.T) {
	require := require.New(t)
	got := EncodePropagationFrame("SET", []string{"k", "v"})
	require.Equal([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"), got)
}
