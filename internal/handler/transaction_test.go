package handler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiQueuesAndExecRunsInOrder(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	require.Equal([]byte("+OK\r\n"), h.Dispatch(1, []string{"MULTI"}).Response)
	require.Equal([]byte("+QUEUED\r\n"), h.Dispatch(1, []string{"SET", "k", "1"}).Response)
	require.Equal([]byte("+QUEUED\r\n"), h.Dispatch(1, []string{"INCR", "k"}).Response)

	result := h.Dispatch(1, []string{"EXEC"})
	require.Equal([]byte("*2\r\n+OK\r\n:2\r\n"), result.Response)

	v, _, _ := h.store.Get("k")
	require.Equal("2", v)
}

func TestExecWithoutMultiErrors(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	result := h.Dispatch(1, []string{"EXEC"})
	require.Equal([]byte("-ERR EXEC without MULTI\r\n"), result.Response)
}

func TestDiscardClearsQueue(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	h.Dispatch(1, []string{"MULTI"})
	h.Dispatch(1, []string{"SET", "k", "1"})
	require.Equal([]byte("+OK\r\n"), h.Dispatch(1, []string{"DISCARD"}).Response)

	require.Equal([]byte("-ERR EXEC without MULTI\r\n"), h.Dispatch(1, []string{"EXEC"}).Response)
	require.Equal("none", h.store.TypeName("k"))
}

// PING bypasses queuing even inside MULTI, since it's registered with
// bypassesQueue=true.
func TestQueueBypassCommandRunsImmediatelyInsideMulti(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	h.Dispatch(1, []string{"MULTI"})
	result := h.Dispatch(1, []string{"PING"})
	require.Equal([]byte("+PONG\r\n"), result.Response)

	tx := h.txManager.GetTransaction(1)
	require.Len(tx.Queue, 0)
}

func TestTransactionsAreIsolatedPerConnection(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	h.Dispatch(1, []string{"MULTI"})
	h.Dispatch(1, []string{"SET", "k", "1"})

	result := h.Dispatch(2, []string{"EXEC"})
	require.Equal([]byte("-ERR EXEC without MULTI\r\n"), result.Response)
}
