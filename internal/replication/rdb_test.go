package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyRDBDecodesAndStartsWithRedisMagic(t *testing.T) {
	require := require.New(t)
	data := EmptyRDB()
	require.NotEmpty(data)
	require.Equal("REDIS", string(data[:5]))
}
