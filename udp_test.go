//go:build linux

package uringloop

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func udpLoopbackSocket(t *testing.T) (fd int, addr *syscall.SockaddrInet4) {
	t.Helper()
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { syscall.Close(fd) })

	require.NoError(t, syscall.Bind(fd, &syscall.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))

	sa, err := syscall.Getsockname(fd)
	require.NoError(t, err)
	return fd, sa.(*syscall.SockaddrInet4)
}

func TestUDPSendRecvRoundtrip(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	fdA, addrA := udpLoopbackSocket(t)
	fdB, addrB := udpLoopbackSocket(t)

	var gotPayload []byte
	var gotPeer *syscall.SockaddrInet4
	received := false

	hb := NewUDPHandle(l, fdB,
		func(max uint32) []byte { return make([]byte, max) },
		func(fn func()) { fn() },
	)
	hb.OnReceive = func(buf []byte, n int, peer syscall.Sockaddr, partial bool, err error) {
		require.NoError(t, err)
		gotPayload = append([]byte(nil), buf[:n]...)
		gotPeer, _ = peer.(*syscall.SockaddrInet4)
		received = true
	}
	hb.Recvmsg()

	ha := NewUDPHandle(l, fdA,
		func(max uint32) []byte { return make([]byte, max) },
		func(fn func()) { fn() },
	)
	ha.EnqueueSend(addrB, []byte("hello"))

	deadline := time.Now().Add(2 * time.Second)
	for !received && time.Now().Before(deadline) {
		require.NoError(t, l.Poll(100*time.Millisecond))
	}

	require.True(t, received)
	assert.Equal(t, "hello", string(gotPayload))
	if assert.NotNil(t, gotPeer) {
		assert.Equal(t, addrA.Port, gotPeer.Port)
		assert.Equal(t, addrA.Addr, gotPeer.Addr)
	}
}

func TestUDPRecvNoBufferSynthesizesENOBUFS(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	fd, _ := udpLoopbackSocket(t)

	var gotErr error
	h := NewUDPHandle(l, fd,
		func(max uint32) []byte { return nil },
		func(fn func()) { fn() },
	)
	h.OnReceive = func(buf []byte, n int, peer syscall.Sockaddr, partial bool, err error) {
		gotErr = err
	}

	h.Recvmsg()
	assert.ErrorIs(t, gotErr, ErrNoBuffer)
}

func TestUDPRecvTruncatesOversizedDatagram(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	fdA, _ := udpLoopbackSocket(t)
	fdB, addrB := udpLoopbackSocket(t)

	var gotN int
	var gotPartial bool
	received := false

	// Deliberately hand back a buffer smaller than the datagram the
	// sender transmits, forcing the kernel to set MSG_TRUNC.
	hb := NewUDPHandle(l, fdB,
		func(max uint32) []byte { return make([]byte, 4) },
		func(fn func()) { fn() },
	)
	hb.OnReceive = func(buf []byte, n int, peer syscall.Sockaddr, partial bool, err error) {
		require.NoError(t, err)
		gotN = n
		gotPartial = partial
		received = true
	}
	hb.Recvmsg()

	ha := NewUDPHandle(l, fdA,
		func(max uint32) []byte { return make([]byte, max) },
		func(fn func()) { fn() },
	)
	ha.EnqueueSend(addrB, []byte("this datagram is longer than the recv buffer"))

	deadline := time.Now().Add(2 * time.Second)
	for !received && time.Now().Before(deadline) {
		require.NoError(t, l.Poll(100*time.Millisecond))
	}

	require.True(t, received)
	assert.Equal(t, 4, gotN)
	assert.True(t, gotPartial)
}

func TestUDPSendQueueDrainsInOrder(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	fdA, _ := udpLoopbackSocket(t)
	fdB, addrB := udpLoopbackSocket(t)

	var got []string
	hb := NewUDPHandle(l, fdB,
		func(max uint32) []byte { return make([]byte, max) },
		func(fn func()) { fn() },
	)
	hb.OnReceive = func(buf []byte, n int, peer syscall.Sockaddr, partial bool, err error) {
		require.NoError(t, err)
		got = append(got, string(buf[:n]))
	}
	hb.Recvmsg()

	ha := NewUDPHandle(l, fdA,
		func(max uint32) []byte { return make([]byte, max) },
		func(fn func()) { fn() },
	)
	ha.EnqueueSend(addrB, []byte("one"))
	ha.EnqueueSend(addrB, []byte("two"))

	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		require.NoError(t, l.Poll(100*time.Millisecond))
	}

	require.Len(t, got, 2)
	assert.Equal(t, []string{"one", "two"}, got)
}
