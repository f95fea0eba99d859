package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"redis/internal/replication"
	"redis/internal/storage"
)

func TestInfoReplicationSectionReportsMasterRole(t *testing.T) {
	require := require.New(t)
	replicas := replication.NewReplicaRegistry(zap.NewNop())
	h := NewCommandHandler(storage.NewStore(), replicas, func() bool { return true }, 10*time.Millisecond, zap.NewNop())

	result := h.Dispatch(1, []string{"INFO", "replication"})
	body := string(result.Response)
	require.Contains(body, "role:master")
	require.Contains(body, "master_replid:")
	require.Contains(body, "master_repl_offset:0")
}

// TestInfoReplicationSectionReportsSlaveRoleViaMasterLink covers the
// replica path, which the master-role tests above never exercise: with no
// ReplicaRegistry at all, the identity lines must still come from the
// wired MasterLink rather than disappearing.
func TestInfoReplicationSectionReportsSlaveRoleViaMasterLink(t *testing.T) {
	require := require.New(t)
	h := NewCommandHandler(storage.NewStore(), nil, func() bool { return false }, 10*time.Millisecond, zap.NewNop())
	h.SetMasterLink(replication.NewMasterLink("127.0.0.1", 6380, zap.NewNop()))

	result := h.Dispatch(1, []string{"INFO", "replication"})
	body := string(result.Response)
	require.Contains(body, "role:slave")
	require.Contains(body, "master_replid:")
	require.Contains(body, "master_repl_offset:0")
}

func TestInfoUnsupportedSectionIsEmptyBulk(t *testing.T) {
	require := require.New(t)
	h := newTestHandler()

	result := h.Dispatch(1, []string{"INFO", "cpu"})
	require.Equal([]byte("$0\r\n\r\n"), result.Response)
}

func TestWaitWithNoReplicasReturnsZero(t *testing.T) {
	require := require.New(t)
	replicas := replication.NewReplicaRegistry(zap.NewNop())
	h := NewCommandHandler(storage.NewStore(), replicas, func() bool { return true }, 10*time.Millisecond, zap.NewNop())

	result := h.Dispatch(1, []string{"WAIT", "1", "50"})
	require.Equal([]byte(":0\r\n"), result.Response)
}

func TestPsyncPromotesConnectionAndReportsOffset(t *testing.T) {
	require := require.New(t)
	replicas := replication.NewReplicaRegistry(zap.NewNop())
	h := NewCommandHandler(storage.NewStore(), replicas, func() bool { return true }, 10*time.Millisecond, zap.NewNop())

	result := h.Dispatch(1, []string{"PSYNC", "?", "-1"})
	require.True(result.PromoteToReplica)
	require.Equal(int64(0), result.FullResyncOffset)
	require.Contains(string(result.Response), "FULLRESYNC")
}
