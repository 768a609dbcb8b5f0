// Command uringloop-probe is a small diagnostic and smoke-test binary
// for go-uringloop: it reports what the running kernel's io_uring
// supports, then optionally runs a loopback readiness watch or a UDP
// echo exercising the full loop.
package main

import (
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	uringloop "github.com/behrlich/go-uringloop"
)

func main() {
	root := &cobra.Command{
		Use:   "uringloop-probe",
		Short: "Inspect io_uring kernel support and exercise the loop core",
	}

	root.AddCommand(newProbeCommand(), newWatchCommand(), newEchoCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newProbeCommand() *cobra.Command {
	var pinCPU int

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report kernel io_uring capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pinCPU >= 0 {
				if err := pinToCPU(pinCPU); err != nil {
					return fmt.Errorf("pin-cpu=%d: %w", pinCPU, err)
				}
			}

			p, err := uringloop.Probe()
			if err != nil {
				return fmt.Errorf("probe: %w", err)
			}
			fmt.Printf("features=0x%x ext_arg=%v poll_add=%v sendmsg=%v recvmsg=%v sq_entries=%d cq_entries=%d\n",
				p.Features, p.HasExtArg, p.HasPollAdd, p.HasSendmsg, p.HasRecvmsg, p.SQEntries, p.CQEntries)
			return nil
		},
	}

	cmd.Flags().IntVar(&pinCPU, "pin-cpu", -1, "pin this process to the given CPU before probing (-1: don't pin)")
	return cmd
}

// pinToCPU restricts the calling OS thread's scheduling affinity to a
// single CPU, so a probe run reflects one core's view of the kernel
// (relevant to SQPOLL thread placement on NUMA machines).
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

func newWatchCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a loopback socketpair for one readiness edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
			if err != nil {
				return err
			}
			defer syscall.Close(fds[0])
			defer syscall.Close(fds[1])

			loop, err := uringloop.NewLoop()
			if err != nil {
				return err
			}
			defer loop.Close()

			fired := false
			w := uringloop.NewWatcher(fds[0], uringloop.PollReadable, true, func(events uringloop.PollMask) {
				fired = true
				fmt.Printf("fd %d ready: events=0x%x\n", fds[0], events)
			})
			loop.RegisterWatcher(w)

			if _, err := syscall.Write(fds[1], []byte("ping")); err != nil {
				return err
			}

			if err := loop.Poll(timeout); err != nil {
				return err
			}
			if !fired {
				return fmt.Errorf("watch: no readiness event within %s", timeout)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "how long to wait for readiness")
	return cmd
}

func newEchoCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Send one UDP datagram to a loopback socket and read it back",
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, 0)
			if err != nil {
				return err
			}
			defer syscall.Close(fd)

			addr := &syscall.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}
			if err := syscall.Bind(fd, addr); err != nil {
				return err
			}
			bound, err := syscall.Getsockname(fd)
			if err != nil {
				return err
			}
			self := bound.(*syscall.SockaddrInet4)

			loop, err := uringloop.NewLoop()
			if err != nil {
				return err
			}
			defer loop.Close()

			done := make(chan struct{}, 1)
			handle := uringloop.NewUDPHandle(loop, fd,
				func(max uint32) []byte { return make([]byte, max) },
				func(fn func()) { fn() },
			)
			handle.OnReceive = func(buf []byte, n int, peer syscall.Sockaddr, partial bool, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "recv error: %v\n", err)
					return
				}
				fmt.Printf("echoed %q from %v\n", buf[:n], peerString(peer))
				done <- struct{}{}
			}
			handle.Recvmsg()

			handle.EnqueueSend(self, []byte("hello uringloop"))

			deadline := time.Now().Add(timeout)
			for time.Now().Before(deadline) {
				if err := loop.Poll(50 * time.Millisecond); err != nil {
					return err
				}
				select {
				case <-done:
					return nil
				default:
				}
			}
			return fmt.Errorf("echo: no datagram within %s", timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "how long to wait for the echo")
	return cmd
}

func peerString(sa syscall.Sockaddr) string {
	a, ok := sa.(*syscall.SockaddrInet4)
	if !ok {
		return "<unknown>"
	}
	ip := net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3])
	return fmt.Sprintf("%s:%d", ip, a.Port)
}
