package multisig

import (
	"github.com/go-faster/errors"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

const (
	// MaxSigners is the largest signer list the 8-bit signer index can address.
	MaxSigners = 255
	// MaxProposers is the largest proposer list the 8-bit proposer index can address.
	MaxProposers = 255
	// MaxActions is the largest number of actions a single order can carry.
	MaxActions = 255

	// ArbitrarySeqno is reported as the next order seqno of a multisig
	// that lets proposers choose order seqnos freely.
	ArbitrarySeqno int64 = -1
)

// Configuration holds the parameters of a multisig account.
type Configuration struct {
	Threshold int
	// Signers are addressed by their position, the approval mask of an order uses the same indexes.
	Signers []ton.AccountID
	// Proposers can create orders but never approve them.
	Proposers           []ton.AccountID
	AllowArbitrarySeqno bool
	// NextOrderSeqno is ArbitrarySeqno when AllowArbitrarySeqno is set.
	NextOrderSeqno int64
}

// NewConfiguration returns a configuration of a multisig that has not created any orders yet.
func NewConfiguration(threshold int, signers, proposers []ton.AccountID, allowArbitrarySeqno bool) Configuration {
	cfg := Configuration{
		Threshold:           threshold,
		Signers:             signers,
		Proposers:           proposers,
		AllowArbitrarySeqno: allowArbitrarySeqno,
	}
	if allowArbitrarySeqno {
		cfg.NextOrderSeqno = ArbitrarySeqno
	}
	return cfg
}

// Validate reports every violated invariant of the configuration.
// Each reported error matches ErrInvalidConfiguration.
func (c Configuration) Validate() error {
	var err error
	switch n := len(c.Signers); {
	case n == 0:
		err = multierr.Append(err, errors.Wrap(ErrInvalidConfiguration, "no signers"))
	case n > MaxSigners:
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfiguration, "%d signers, at most %d allowed", n, MaxSigners))
	}
	if len(c.Proposers) > MaxProposers {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfiguration, "%d proposers, at most %d allowed", len(c.Proposers), MaxProposers))
	}
	if c.Threshold < 1 || c.Threshold > len(c.Signers) {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfiguration, "threshold %d is out of range [1, %d]", c.Threshold, len(c.Signers)))
	}
	if i, j, ok := firstDuplicate(c.Signers); ok {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfiguration, "signers #%d and #%d are the same account", i, j))
	}
	if i, j, ok := firstDuplicate(c.Proposers); ok {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfiguration, "proposers #%d and #%d are the same account", i, j))
	}
	switch {
	case c.AllowArbitrarySeqno && c.NextOrderSeqno != ArbitrarySeqno:
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfiguration, "next order seqno must be %d with arbitrary seqnos", ArbitrarySeqno))
	case !c.AllowArbitrarySeqno && c.NextOrderSeqno < 0:
		err = multierr.Append(err, errors.Wrapf(ErrInvalidConfiguration, "negative next order seqno %d", c.NextOrderSeqno))
	}
	return err
}

// SignerIndex returns the position of the account in the signer list.
func (c Configuration) SignerIndex(account ton.AccountID) (uint8, bool) {
	return indexOf(c.Signers, account)
}

// ProposerIndex returns the position of the account in the proposer list.
func (c Configuration) ProposerIndex(account ton.AccountID) (uint8, bool) {
	return indexOf(c.Proposers, account)
}

// CheckSeqno tells whether an order with the given seqno can be created now.
func (c Configuration) CheckSeqno(seqno int64) error {
	if seqno < 0 {
		return errors.Wrapf(ErrSeqnoConflict, "negative order seqno %d", seqno)
	}
	if c.AllowArbitrarySeqno {
		return nil
	}
	if seqno != c.NextOrderSeqno {
		return errors.Wrapf(ErrSeqnoConflict, "expected order seqno %d, got %d", c.NextOrderSeqno, seqno)
	}
	return nil
}

// NextSnapshot returns the configuration as it is after an order has been created.
// The receiver is left untouched.
func (c Configuration) NextSnapshot() Configuration {
	next := c.clone()
	if !next.AllowArbitrarySeqno {
		next.NextOrderSeqno++
	}
	return next
}

// SameSigners reports whether both configurations resolve signer indexes identically.
func (c Configuration) SameSigners(other Configuration) bool {
	return c.Threshold == other.Threshold && slices.Equal(c.Signers, other.Signers)
}

func (c Configuration) clone() Configuration {
	c.Signers = slices.Clone(c.Signers)
	c.Proposers = slices.Clone(c.Proposers)
	return c
}

// SignersFromIndexes converts an index-keyed signer map into the ordered list
// used by Configuration. Indexes must form the range [0, len(m)).
func SignersFromIndexes(m map[uint8]ton.AccountID) ([]ton.AccountID, error) {
	keys := make([]uint8, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	list := make([]ton.AccountID, 0, len(keys))
	for i, k := range keys {
		if int(k) != i {
			return nil, errors.Wrapf(ErrInvalidConfiguration, "index %d is missing", i)
		}
		list = append(list, m[k])
	}
	return list, nil
}

func indexOf(list []ton.AccountID, account ton.AccountID) (uint8, bool) {
	idx := slices.Index(list, account)
	if idx < 0 || idx > 255 {
		return 0, false
	}
	return uint8(idx), true
}

func firstDuplicate(list []ton.AccountID) (int, int, bool) {
	seen := make(map[ton.AccountID]int, len(list))
	for i, a := range list {
		if j, ok := seen[a]; ok {
			return j, i, true
		}
		seen[a] = i
	}
	return 0, 0, false
}
