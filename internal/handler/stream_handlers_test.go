package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"redis/internal/protocol"
)

func TestXAddAndXRange(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	result := h.Dispatch(1, []string{"XADD", "s", "1-1", "field", "value"})
	require.Equal([]byte("$3\r\n1-1\r\n"), result.Response)

	result = h.Dispatch(1, []string{"XRANGE", "s", "-", "+"})
	require.Equal([]byte(
		"*1\r\n"+
			"*2\r\n$3\r\n1-1\r\n*2\r\n$5\r\nfield\r\n$5\r\nvalue\r\n",
	), result.Response)
}

func TestXAddRejectsNonIncreasingID(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	h.Dispatch(1, []string{"XADD", "s", "5-0", "f", "v"})
	result := h.Dispatch(1, []string{"XADD", "s", "4-0", "f", "v"})
	require.Contains(string(result.Response), "-ERR")
}

func TestXReadBlockWakesOnXAdd(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	done := make(chan []byte, 1)
	go func() {
		result := h.Dispatch(1, []string{"XREAD", "BLOCK", "0", "STREAMS", "s", "$"})
		done <- result.Response
	}()

	time.Sleep(20 * time.Millisecond)
	h.Dispatch(2, []string{"XADD", "s", "1-1", "f", "v"})

	select {
	case resp := <-done:
		require.Contains(string(resp), "1-1")
		require.Contains(string(resp), "s")
	case <-time.After(time.Second):
		t.Fatal("XREAD BLOCK never woke up")
	}
}

func TestXReadBlockTimesOut(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	result := h.Dispatch(1, []string{"XREAD", "BLOCK", "30", "STREAMS", "s", "$"})
	require.Equal([]byte("*-1\r\n"), result.Response)
}

// xinfoField finds name's paired value in XINFO's flat field list.
func xinfoField(t *testing.T, fields []protocol.Value, name string) protocol.Value {
	t.Helper()
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i].Str == name {
			return fields[i+1]
		}
	}
	t.Fatalf("field %q not found in XINFO reply", name)
	return protocol.Value{}
}

func TestXInfoReportsLengthAndLastID(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	h.Dispatch(1, []string{"XADD", "s", "1-1", "f", "v"})
	h.Dispatch(1, []string{"XADD", "s", "2-0", "f", "v"})

	result := h.Dispatch(1, []string{"XINFO", "STREAM", "s"})
	reply, _, err := protocol.Decode(result.Response)
	require.NoError(err)

	require.Equal(int64(2), xinfoField(t, reply.Array, "length").Int)
	require.Equal("2-0", xinfoField(t, reply.Array, "last-generated-id").Str)

	first := xinfoField(t, reply.Array, "first-entry")
	require.Equal("1-1", first.Array[0].Str)
	require.Equal([]string{"f", "v"}, []string{first.Array[1].Array[0].Str, first.Array[1].Array[1].Str})

	last := xinfoField(t, reply.Array, "last-entry")
	require.Equal("2-0", last.Array[0].Str)
	require.Equal([]string{"f", "v"}, []string{last.Array[1].Array[0].Str, last.Array[1].Array[1].Str})
}
