package paprika_test

import (
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/paprika/page"
	"github.com/erigontech/paprika/paprika"
)

func TestConfig_Validate_RejectsNonPageMultiple(t *testing.T) {
	cfg := paprika.Config{CapacityBytes: datasize.ByteSize(page.Size + 1)}
	require.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsOverMaxCapacity(t *testing.T) {
	cfg := paprika.Config{CapacityBytes: datasize.ByteSize(paprika.MaxCapacity + page.Size)}
	require.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsCapacityTooSmallForRing(t *testing.T) {
	cfg := paprika.Config{
		CapacityBytes: datasize.ByteSize(page.Size * 4),
		HistoryDepth:  8,
	}
	require.Error(t, cfg.Validate())
}

func TestConfig_Validate_AcceptsDefaults(t *testing.T) {
	cfg := paprika.Config{CapacityBytes: datasize.ByteSize(page.Size * 4096)}
	require.NoError(t, cfg.Validate())
}
