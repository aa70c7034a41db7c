package submem

import (
	stderrors "errors"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/submem/internal/hostdevice"
	"github.com/vkngwrapper/submem/memutils"
)

func TestWithKindMatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("device lost")
	err := withKind(errors.Wrap(cause, "allocating block 0"), ErrAllocationFailure)

	require.True(t, stderrors.Is(err, ErrAllocationFailure))
	require.True(t, stderrors.Is(err, cause))
	require.True(t, errors.Is(err, ErrAllocationFailure))
	require.True(t, errors.Is(err, cause))
	require.False(t, stderrors.Is(err, ErrInvalidOptions))
	require.False(t, errors.Is(err, ErrInvalidOptions))

	require.Contains(t, err.Error(), ErrAllocationFailure.Error())
	require.Contains(t, err.Error(), "device lost")
}

func TestAllocationFailureVisibleToStandardErrors(t *testing.T) {
	dev, _, manager := readyManager(t, ManagerSetup{})
	dev.FailAllocations = true

	_, err := manager.CreateBuffer(4*KiB, storageUsage, deviceLocal)
	require.Error(t, err)
	require.True(t, stderrors.Is(err, ErrAllocationFailure))
	require.True(t, stderrors.Is(err, hostdevice.ErrOutOfDeviceMemory))
}

func TestInvalidOptionsVisibleToStandardErrors(t *testing.T) {
	dev := hostdevice.New(hostdevice.DefaultOptions())

	_, err := New(nil, dev, nil, nil, CreateOptions{BlockSize: 1000})
	require.Error(t, err)
	require.True(t, stderrors.Is(err, ErrInvalidOptions))
	require.True(t, stderrors.Is(err, memutils.ErrPowerOfTwo))
}
