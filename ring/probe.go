//go:build linux

package ring

import (
	"github.com/behrlich/go-uringloop/ring/internal/sys"
)

// Probe contains information about supported io_uring operations.
type Probe struct {
	probe    sys.Probe
	features uint32
}

// Probe queries the kernel for supported operations.
// Returns a Probe that can be used to check operation support.
func (r *Ring) Probe() (*Probe, error) {
	p := &Probe{
		features: r.features,
	}
	err := sys.RegisterProbe(r.fd, &p.probe)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Named operations a caller outside this package can ask SupportsOp
// about without importing the internal opcode table.
const (
	OpPollAdd = sys.Op(sys.IORING_OP_POLL_ADD)
	OpSendmsg = sys.Op(sys.IORING_OP_SENDMSG)
	OpRecvmsg = sys.Op(sys.IORING_OP_RECVMSG)
)

// SupportsOp returns true if the kernel supports the given operation.
func (p *Probe) SupportsOp(op sys.Op) bool {
	if uint8(op) > p.probe.LastOp || int(op) >= len(p.probe.Ops) {
		return false
	}
	return p.probe.Ops[op].Flags&sys.IO_URING_OP_SUPPORTED != 0
}

// LastOp returns the highest operation code supported by the kernel.
func (p *Probe) LastOp() sys.Op {
	return sys.Op(p.probe.LastOp)
}

// Features returns the feature flags from ring setup.
func (p *Probe) Features() uint32 {
	return p.features
}

// HasExtArg returns true if extended enter arguments are supported,
// the kernel-atomic sigmask path waitForCQE (poller.go) relies on.
func (r *Ring) HasExtArg() bool {
	return r.features&sys.IORING_FEAT_EXT_ARG != 0
}
