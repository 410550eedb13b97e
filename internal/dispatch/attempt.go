package dispatch

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Source is where the funds of a native transfer come from.
type Source int

const (
	SourceOperator Source = iota
	SourceContract
)

func (s Source) String() string {
	switch s {
	case SourceContract:
		return "contract"
	default:
		return "operator"
	}
}

// State of a single transfer: Pending -> Submitted -> Confirmed | Failed.
type State int

const (
	Pending State = iota
	Submitted
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Attempt is one transfer to one recipient. It is never retried.
type Attempt struct {
	Recipient common.Address
	Amount    *big.Int
	Source    Source
	State     State
	Tx        common.Hash
	Err       error
}

func (a *Attempt) submitted(hash common.Hash) {
	a.Tx, a.State = hash, Submitted
}

func (a *Attempt) fail(err error) {
	a.Err, a.State = err, Failed
}

type Summary struct {
	Requested int
	Confirmed int
	Attempts  []Attempt
}

func (s *Summary) Failed() int {
	n := 0
	for _, a := range s.Attempts {
		if a.State == Failed {
			n++
		}
	}
	return n
}
