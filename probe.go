//go:build linux

package uringloop

import "github.com/behrlich/go-uringloop/ring"

// KernelProbe summarizes what the running kernel's io_uring supports,
// the information cmd/uringloop-probe reports before doing anything
// else.
type KernelProbe struct {
	Features   uint32
	HasExtArg  bool
	HasPollAdd bool
	HasSendmsg bool
	HasRecvmsg bool
	SQEntries  uint32
	CQEntries  uint32
}

// Probe opens a throwaway ring just long enough to query
// IORING_REGISTER_PROBE and the negotiated feature bits, then tears it
// down. It exists for diagnostics (cmd/uringloop-probe) — NewLoop does
// not call it.
func Probe() (*KernelProbe, error) {
	r, err := ring.New(DefaultSQEntries)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	p, err := r.Probe()
	if err != nil {
		return nil, err
	}

	return &KernelProbe{
		Features:   r.Features(),
		HasExtArg:  r.HasExtArg(),
		HasPollAdd: p.SupportsOp(ring.OpPollAdd),
		HasSendmsg: p.SupportsOp(ring.OpSendmsg),
		HasRecvmsg: p.SupportsOp(ring.OpRecvmsg),
		SQEntries:  r.SQEntries(),
		CQEntries:  r.CQEntries(),
	}, nil
}
