package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"udpft/internal/engine"
	"udpft/pkg/wire"
)

func testPeer(t *testing.T) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:19001")
	require.NoError(t, err)
	return addr
}

func TestSessionLifecycleHappyPath(t *testing.T) {
	s := New(testPeer(t))
	require.Equal(t, StateClosed, s.State())

	require.NoError(t, s.OnSyn())
	require.Equal(t, StateSynReceived, s.State())

	cfg := engine.Config{Timeout: 300 * time.Millisecond, MaxRetries: 60}
	require.NoError(t, s.OnOperation(wire.Upload, "report.txt", wire.StopAndWait, cfg))
	require.Equal(t, StateOpNegotiated, s.State())
	require.Equal(t, wire.Upload, s.Operation())
	require.Equal(t, "report.txt", s.Filename())
	require.NotNil(t, s.Engine())

	require.NoError(t, s.BeginData())
	require.Equal(t, StateData, s.State())

	require.NoError(t, s.OnFin())
	require.Equal(t, StateClosing, s.State())

	s.Close()
	require.Equal(t, StateClosed, s.State())
}

func TestSessionRejectsOutOfOrderEvents(t *testing.T) {
	s := New(testPeer(t))
	cfg := engine.Config{Timeout: 300 * time.Millisecond, MaxRetries: 60}
	err := s.OnOperation(wire.Upload, "x", wire.StopAndWait, cfg)
	require.Error(t, err)
	require.IsType(t, TransitionError{}, err)

	require.NoError(t, s.OnSyn())
	require.Error(t, s.OnSyn()) // SYN twice is rejected
}

func TestSessionValidDataSeqGuardrails(t *testing.T) {
	s := New(testPeer(t))
	require.NoError(t, s.OnSyn())
	cfg := engine.Config{Timeout: 300 * time.Millisecond, MaxRetries: 60}

	require.NoError(t, s.OnOperation(wire.Upload, "a", wire.StopAndWait, cfg))
	require.True(t, s.ValidDataSeq(0))
	require.True(t, s.ValidDataSeq(1))
	require.False(t, s.ValidDataSeq(2))

	s2 := New(testPeer(t))
	require.NoError(t, s2.OnSyn())
	require.NoError(t, s2.OnOperation(wire.Upload, "a", wire.SelectiveRepeat, cfg))
	require.False(t, s2.ValidDataSeq(0))
	require.False(t, s2.ValidDataSeq(1))
	require.True(t, s2.ValidDataSeq(2))
}

func TestSessionAcceptsDataOnlyDuringTransfer(t *testing.T) {
	s := New(testPeer(t))
	require.False(t, s.AcceptsData())
	require.NoError(t, s.OnSyn())
	require.False(t, s.AcceptsData())

	cfg := engine.Config{Timeout: 300 * time.Millisecond, MaxRetries: 60}
	require.NoError(t, s.OnOperation(wire.Download, "a", wire.StopAndWait, cfg))
	require.True(t, s.AcceptsData())

	require.NoError(t, s.OnFin())
	require.False(t, s.AcceptsData())
}

func TestSessionPendingDownloadStagingIsOneShot(t *testing.T) {
	s := New(testPeer(t))
	require.Nil(t, s.TakePendingDownload())

	chunks := [][]byte{[]byte("a"), []byte("b")}
	s.SetPendingDownload(chunks)
	require.Equal(t, chunks, s.TakePendingDownload())
	require.Nil(t, s.TakePendingDownload())
}

func TestRegistryGetOrCreateAndReap(t *testing.T) {
	reg := NewRegistry()
	peer := testPeer(t)

	s1, created1 := reg.GetOrCreate(peer)
	require.True(t, created1)
	s2, created2 := reg.GetOrCreate(peer)
	require.False(t, created2)
	require.Same(t, s1, s2)
	require.Equal(t, 1, reg.Len())

	s1.Touch(time.Now().Add(-time.Hour))
	reaped := reg.ReapIdle(time.Now(), time.Minute)
	require.Len(t, reaped, 1)
	require.Equal(t, 0, reg.Len())

	_, ok := reg.Get(peer)
	require.False(t, ok)
}
