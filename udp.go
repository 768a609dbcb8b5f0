//go:build linux

package uringloop

import (
	"container/list"
	"encoding/binary"
	"syscall"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/behrlich/go-uringloop/internal/extloop"
)

// sockaddrBufSize is sized to hold the largest sockaddr this handle
// will ever encode: sockaddr_un (family + a 108-byte path).
const sockaddrBufSize = 128

// sendRequest is one queued datagram, per spec.md §3 "UDP Send
// Request". It travels through exactly one of the handle's three
// queues at a time: writeQueue, writePendingQueue, writeCompletedQueue.
type sendRequest struct {
	tag cqeTag // must stay the first field, see cqeTag

	handle *UDPHandle
	dest   syscall.Sockaddr // nil: send on a connected socket
	buf    []byte

	iov     [1]syscall.Iovec
	name    [sockaddrBufSize]byte
	namelen uint32
	msg     syscall.Msghdr

	status int32
	id     string

	elem *list.Element
}

// recvState is the handle's single in-flight receive, per spec.md §3
// "UDP Receive State". Only one recvmsg may be outstanding per handle
// at a time (the READ_PENDING guard).
type recvState struct {
	tag cqeTag // must stay the first field, see cqeTag

	handle *UDPHandle

	iov  [1]syscall.Iovec
	name [sockaddrBufSize]byte
	msg  syscall.Msghdr
	buf  []byte

	readPending bool
	partial     bool
}

// UDPHandle is the public UDP datagram engine spec.md §4.4-4.5
// describe as two halves (send/recv) sharing one fd. Its three send
// queues and single recv slot are intrusive list state, matching the
// teacher's preference for container/list over channels at this layer.
type UDPHandle struct {
	loop *Loop
	fd   int

	alloc AllocFunc
	feed  FeedFunc
	start extloop.StartStopper

	// OnReceive is called once per completed (or failed) recvmsg.
	// peer is nil when the underlying read failed. partial reports the
	// kernel's MSG_TRUNC flag.
	OnReceive func(buf []byte, n int, peer syscall.Sockaddr, partial bool, err error)

	writeQueue          *list.List
	writePendingQueue   *list.List
	writeCompletedQueue *list.List

	recv *recvState

	closing bool
	id      string
}

// AllocFunc is re-exported from internal/extloop for callers outside
// this module.
type AllocFunc = extloop.AllocFunc

// FeedFunc is re-exported from internal/extloop for callers outside
// this module.
type FeedFunc = extloop.FeedFunc

// NewUDPHandle wires a socket fd to a loop, an allocator, and an
// io_feed completion callback, per spec.md §6 `udp_handle_init`.
func NewUDPHandle(loop *Loop, fd int, alloc AllocFunc, feed FeedFunc) *UDPHandle {
	return &UDPHandle{
		loop:                loop,
		fd:                  fd,
		alloc:               alloc,
		feed:                feed,
		start:               extloop.NoopStartStopper{},
		writeQueue:          list.New(),
		writePendingQueue:   list.New(),
		writeCompletedQueue: list.New(),
		id:                  uuid.NewString(),
	}
}

// SetReusePort sets SO_REUSEPORT on fd so several UDP handles, possibly
// in different processes, can bind the same port and let the kernel
// spread datagrams across them. Call before binding fd and handing it
// to NewUDPHandle.
func SetReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// WithStartStopper attaches the io_start/io_stop liveness hooks
// spec.md §6 attributes to the enclosing loop.
func (h *UDPHandle) WithStartStopper(ss extloop.StartStopper) {
	h.start = ss
}

// Close marks the handle as closing: further recvmsg completions are
// discarded and no further sends are pumped.
func (h *UDPHandle) Close() {
	h.closing = true
}

// EnqueueSend appends a datagram to writeQueue and pumps the send
// engine. dest is nil to send on a connected socket's implicit peer.
func (h *UDPHandle) EnqueueSend(dest syscall.Sockaddr, buf []byte) {
	req := &sendRequest{tag: tagSend, handle: h, dest: dest, buf: buf, id: uuid.NewString()}
	req.elem = h.writeQueue.PushBack(req)
	if h.writeQueue.Len() == 1 && h.writePendingQueue.Len() == 0 {
		h.start.Start()
	}
	h.Sendmsg()
}

// Sendmsg implements udp_sendmsg (spec.md §4.4): drain writeQueue,
// preparing one SENDMSG SQE per request and moving each to
// writePendingQueue. Atomicity of datagram writes means there is never
// a partial-write loop here — a SENDMSG either completes the whole
// datagram or fails.
func (h *UDPHandle) Sendmsg() {
	r, err := h.loop.ring()
	if err != nil {
		return
	}

	for e := h.writeQueue.Front(); e != nil; {
		next := e.Next()
		req := e.Value.(*sendRequest)

		if err := encodeMsghdr(req); err != nil {
			programmerError("sendmsg", err)
		}

		userData := uint64(uintptr(unsafe.Pointer(req)))
		if perr := h.loop.prepWithRetry(r, func() error {
			return r.PrepSendmsg(h.fd, &req.msg, 0, userData)
		}); perr != nil {
			return
		}
		h.loop.offloadIfBusy(r)

		h.writeQueue.Remove(e)
		req.elem = h.writePendingQueue.PushBack(req)
		e = next
	}
}

// sendmsgDone implements the transient-vs-terminal branch of spec.md
// §4.4: a transient send-buffer condition requeues to writeQueue's
// tail (sendmsg_pump retries it on the next tick); anything else is
// terminal and moves the request to writeCompletedQueue.
func (l *Loop) sendmsgDone(req *sendRequest, status int32) {
	h := req.handle
	h.writePendingQueue.Remove(req.elem)

	if status < 0 {
		errno := syscall.Errno(-status)
		if errno == syscall.EAGAIN || errno == syscall.EWOULDBLOCK || errno == syscall.ENOBUFS {
			req.elem = h.writeQueue.PushBack(req)
			h.Sendmsg()
			return
		}
	}

	req.status = status
	req.elem = h.writeCompletedQueue.PushBack(req)

	if h.writeQueue.Len() == 0 && h.writePendingQueue.Len() == 0 {
		h.start.Stop()
	}

	if h.feed != nil {
		h.feed(func() {
			h.writeCompletedQueue.Remove(req.elem)
			if status < 0 {
				logDebugf(l.logger, "udp send failed fd=%d id=%s errno=%d", h.fd, req.id, -status)
			}
		})
	}
}

// Recvmsg implements recvmsg_start (spec.md §4.5): if a receive is
// already in flight, this is a no-op. Otherwise allocate a buffer,
// build the message header against the handle's reusable peer-address
// scratch, arm readPending, and prep (but do not submit — C3 submits
// at the next tick).
func (h *UDPHandle) Recvmsg() {
	if h.closing {
		return
	}
	r, err := h.loop.ring()
	if err != nil {
		return
	}
	if h.recv != nil && h.recv.readPending {
		return
	}

	buf := h.alloc(h.loop.maxDatagramSize)
	if len(buf) == 0 {
		if h.OnReceive != nil {
			h.OnReceive(nil, 0, nil, false, ErrNoBuffer)
		}
		return
	}

	rs := h.recv
	if rs == nil {
		rs = &recvState{tag: tagRecv, handle: h}
		h.recv = rs
	}
	rs.buf = buf
	rs.iov[0] = syscall.Iovec{Base: &buf[0], Len: uint64(len(buf))}
	rs.msg = syscall.Msghdr{
		Name:    &rs.name[0],
		Namelen: uint32(len(rs.name)),
		Iov:     &rs.iov[0],
		Iovlen:  1,
	}
	rs.readPending = true
	rs.partial = false

	userData := uint64(uintptr(unsafe.Pointer(rs)))
	if err := h.loop.prepWithRetry(r, func() error {
		return r.PrepRecvmsg(h.fd, &rs.msg, 0, userData)
	}); err != nil {
		rs.readPending = false
		return
	}
	h.loop.offloadIfBusy(r)
}

// recvmsgDone implements spec.md §4.5's full recv completion branch
// set: closing handles discard outright; EBADF (fd torn down
// concurrently) is rewritten to ECANCELED so callers see one consistent
// cancellation error; a benign EAGAIN/EWOULDBLOCK self-rearms without
// reporting anything to the caller; any other negative status is
// reported once; a non-negative status delivers the datagram and
// self-rearms when the handle is still interested.
func (l *Loop) recvmsgDone(rs *recvState, status int32) {
	rs.readPending = false

	h := rs.handle
	if h == nil || h.closing {
		return
	}

	if status < 0 {
		errno := syscall.Errno(-status)
		if errno == syscall.EBADF {
			errno = syscall.ECANCELED
		}
		if errno == syscall.EAGAIN || errno == syscall.EWOULDBLOCK {
			h.Recvmsg()
			return
		}
		logDebugf(l.logger, "udp recv failed fd=%d id=%s errno=%d", h.fd, h.id, int32(errno))
		if h.OnReceive != nil {
			h.OnReceive(nil, 0, nil, false, errno)
		}
		return
	}

	rs.partial = rs.msg.Flags&syscall.MSG_TRUNC != 0
	peer, _ := decodeSockaddr(rs.name[:rs.msg.Namelen])

	if h.OnReceive != nil {
		h.OnReceive(rs.buf[:status], int(status), peer, rs.partial, nil)
	}

	if !h.closing {
		h.Recvmsg()
	}
}

// encodeMsghdr fills req.msg/req.iov/req.name from req.buf and
// req.dest, dispatching on address family per spec.md §6.4. Connected
// sends (dest == nil) leave Name/Namelen zero.
func encodeMsghdr(req *sendRequest) error {
	req.iov[0] = syscall.Iovec{Len: uint64(len(req.buf))}
	if len(req.buf) > 0 {
		req.iov[0].Base = &req.buf[0]
	}

	req.msg = syscall.Msghdr{
		Iov:    &req.iov[0],
		Iovlen: 1,
	}

	if req.dest == nil {
		return nil
	}

	n, err := encodeSockaddr(req.name[:], req.dest)
	if err != nil {
		return err
	}
	req.namelen = n
	req.msg.Name = &req.name[0]
	req.msg.Namelen = n
	return nil
}

// encodeSockaddr writes sa's wire form into buf, dispatching on
// AF_INET / AF_INET6 / AF_UNIX and panicking via programmerError on
// anything else, per spec.md §6.4's family-dispatch rule.
func encodeSockaddr(buf []byte, sa syscall.Sockaddr) (uint32, error) {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		if len(buf) < 16 {
			return 0, ErrBadFamily
		}
		binary.LittleEndian.PutUint16(buf[0:2], syscall.AF_INET)
		binary.BigEndian.PutUint16(buf[2:4], uint16(a.Port))
		copy(buf[4:8], a.Addr[:])
		return 16, nil
	case *syscall.SockaddrInet6:
		if len(buf) < 28 {
			return 0, ErrBadFamily
		}
		binary.LittleEndian.PutUint16(buf[0:2], syscall.AF_INET6)
		binary.BigEndian.PutUint16(buf[2:4], uint16(a.Port))
		binary.BigEndian.PutUint32(buf[4:8], 0) // flowinfo
		copy(buf[8:24], a.Addr[:])
		binary.LittleEndian.PutUint32(buf[24:28], a.ZoneId)
		return 28, nil
	case *syscall.SockaddrUnix:
		if len(a.Name)+3 > len(buf) {
			return 0, ErrBadFamily
		}
		binary.LittleEndian.PutUint16(buf[0:2], syscall.AF_UNIX)
		n := copy(buf[2:], a.Name)
		return uint32(2 + n + 1), nil
	default:
		programmerError("encode_sockaddr", ErrBadFamily)
		return 0, ErrBadFamily
	}
}

// decodeSockaddr is encodeSockaddr's inverse, used to report a
// datagram's source address to OnReceive.
func decodeSockaddr(buf []byte) (syscall.Sockaddr, error) {
	if len(buf) < 2 {
		return nil, ErrBadFamily
	}
	family := binary.LittleEndian.Uint16(buf[0:2])
	switch family {
	case syscall.AF_INET:
		if len(buf) < 16 {
			return nil, ErrBadFamily
		}
		sa := &syscall.SockaddrInet4{Port: int(binary.BigEndian.Uint16(buf[2:4]))}
		copy(sa.Addr[:], buf[4:8])
		return sa, nil
	case syscall.AF_INET6:
		if len(buf) < 28 {
			return nil, ErrBadFamily
		}
		sa := &syscall.SockaddrInet6{
			Port:   int(binary.BigEndian.Uint16(buf[2:4])),
			ZoneId: binary.LittleEndian.Uint32(buf[24:28]),
		}
		copy(sa.Addr[:], buf[8:24])
		return sa, nil
	case syscall.AF_UNIX:
		name := string(buf[2:])
		for i, b := range buf[2:] {
			if b == 0 {
				name = string(buf[2 : 2+i])
				break
			}
		}
		return &syscall.SockaddrUnix{Name: name}, nil
	default:
		return nil, ErrBadFamily
	}
}
