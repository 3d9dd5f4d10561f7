package multisig

import (
	"github.com/go-faster/errors"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
	"golang.org/x/exp/slices"
)

// Status is the lifecycle stage of an order.
type Status int

const (
	StatusUninitialized Status = iota
	StatusPending
	StatusExecuted
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusPending:
		return "pending"
	case StatusExecuted:
		return "executed"
	case StatusExpired:
		return "expired"
	}
	return "unknown"
}

// Order is the state of an order account.
// Every transition returns a new value, the receiver is never modified.
type Order struct {
	MultisigAddress ton.AccountID
	OrderSeqno      int64
	// Inited is set once the order has accepted its init message.
	Inited bool
	// Executed is set once the actions have been sent to the multisig for execution.
	Executed       bool
	Threshold      int
	Signers        []ton.AccountID
	ApprovalsMask  ApprovalMask
	ApprovalsNum   int
	ExpirationDate int64
	Actions        []Action
}

// NewOrder returns the not yet initialized order addressed by (multisig, seqno).
func NewOrder(multisig ton.AccountID, seqno int64) Order {
	return Order{MultisigAddress: multisig, OrderSeqno: seqno}
}

// Status returns the lifecycle stage of the order at the given unix time.
func (o Order) Status(now int64) Status {
	switch {
	case !o.Inited:
		return StatusUninitialized
	case o.Executed:
		return StatusExecuted
	case now > o.ExpirationDate:
		return StatusExpired
	}
	return StatusPending
}

// Approvals returns one flag per signer index.
func (o Order) Approvals() []bool {
	approvals := make([]bool, len(o.Signers))
	for i := range approvals {
		approvals[i] = o.ApprovalsMask.Has(uint8(i))
	}
	return approvals
}

// Init applies the init message sent by the multisig.
// It returns the actions to dispatch when the order reaches its threshold right away.
func (o Order) Init(m InitOrderMessage, now int64) (Order, []Action, error) {
	if o.Inited {
		if o.Executed {
			return o, nil, errors.Wrapf(ErrAlreadyExecuted, "order %d", o.OrderSeqno)
		}
		if !m.ApproveOnInit {
			return o, nil, errors.Wrapf(ErrAlreadyInitialized, "order %d", o.OrderSeqno)
		}
		if o.Threshold != m.Threshold || o.ExpirationDate != m.ExpirationDate || !slices.Equal(o.Signers, m.Signers) {
			return o, nil, errors.Wrapf(ErrConfigurationMismatch, "order %d was initialized with other parameters", o.OrderSeqno)
		}
		return o.Approve(m.SignerIndex, now)
	}
	if now > m.ExpirationDate {
		return o, nil, errors.Wrapf(ErrExpired, "expiration date %d is before %d", m.ExpirationDate, now)
	}
	if m.Threshold < 1 || m.Threshold > len(m.Signers) {
		return o, nil, errors.Wrapf(ErrInvalidConfiguration, "threshold %d is out of range [1, %d]", m.Threshold, len(m.Signers))
	}
	if err := validateActions(m.Actions); err != nil {
		return o, nil, err
	}
	next := o
	next.Inited = true
	next.Threshold = m.Threshold
	next.Signers = slices.Clone(m.Signers)
	next.ExpirationDate = m.ExpirationDate
	next.Actions = slices.Clone(m.Actions)
	if !m.ApproveOnInit {
		return next, nil, nil
	}
	return next.Approve(m.SignerIndex, now)
}

// Create initializes the order on behalf of initiator, resolved against cfg.
// A signer initiator counts as the first approval, a proposer does not approve.
func (o Order) Create(cfg Configuration, initiator ton.AccountID, actions []Action, expirationDate, now int64) (Order, []Action, error) {
	if o.Inited {
		return o, nil, errors.Wrapf(ErrAlreadyInitialized, "order %d", o.OrderSeqno)
	}
	m := InitOrderMessage{
		Threshold:      cfg.Threshold,
		Signers:        cfg.Signers,
		ExpirationDate: expirationDate,
		Actions:        actions,
	}
	if idx, ok := cfg.SignerIndex(initiator); ok {
		m.ApproveOnInit, m.SignerIndex = true, idx
	} else if _, ok := cfg.ProposerIndex(initiator); !ok {
		return o, nil, errors.Wrapf(ErrUnknownSigner, "%v is neither a signer nor a proposer", initiator.ToRaw())
	}
	return o.Init(m, now)
}

// Approve records the approval of the signer with the given index.
// Once the threshold is reached the order is marked executed and its actions are returned, in execution order.
// On error the returned order equals the receiver.
func (o Order) Approve(signerIndex uint8, now int64) (Order, []Action, error) {
	switch {
	case !o.Inited:
		return o, nil, errors.Wrapf(ErrNotInitialized, "order %d", o.OrderSeqno)
	case o.Executed:
		return o, nil, errors.Wrapf(ErrAlreadyExecuted, "order %d", o.OrderSeqno)
	case now > o.ExpirationDate:
		return o, nil, errors.Wrapf(ErrExpired, "order %d expired at %d", o.OrderSeqno, o.ExpirationDate)
	case int(signerIndex) >= len(o.Signers):
		return o, nil, errors.Wrapf(ErrUnknownSigner, "signer index %d, order has %d signers", signerIndex, len(o.Signers))
	case o.ApprovalsMask.Has(signerIndex):
		return o, nil, errors.Wrapf(ErrAlreadyApproved, "signer %d", signerIndex)
	}
	next := o
	next.ApprovalsMask = o.ApprovalsMask.With(signerIndex)
	next.ApprovalsNum = o.ApprovalsNum + 1
	if next.ApprovalsNum < next.Threshold {
		return next, nil, nil
	}
	next.Executed = true
	return next, slices.Clone(next.Actions), nil
}

// ApproveAs approves on behalf of sender, which must sit at signerIndex in the order's signer list.
func (o Order) ApproveAs(sender ton.AccountID, signerIndex uint8, now int64) (Order, []Action, error) {
	if int(signerIndex) < len(o.Signers) && o.Signers[signerIndex] != sender {
		return o, nil, errors.Wrapf(ErrUnknownSigner, "%v is not signer %d", sender.ToRaw(), signerIndex)
	}
	return o.Approve(signerIndex, now)
}

// ApproveWith resolves sender to a signer index through cfg and approves.
// It fails with ErrConfigurationMismatch if cfg no longer matches the signers the order was created with.
func (o Order) ApproveWith(cfg Configuration, sender ton.AccountID, now int64) (Order, []Action, error) {
	idx, ok := cfg.SignerIndex(sender)
	if !ok {
		return o, nil, errors.Wrapf(ErrUnknownSigner, "%v is not a signer", sender.ToRaw())
	}
	if o.Inited && (o.Threshold != cfg.Threshold || !slices.Equal(o.Signers, cfg.Signers)) {
		return o, nil, errors.Wrapf(ErrConfigurationMismatch, "order %d", o.OrderSeqno)
	}
	return o.Approve(idx, now)
}

// NewOrder validates a new_order request sent by sender and returns the configuration snapshot
// with the seqno counter advanced together with the init message for the order account.
func (c Configuration) NewOrder(sender ton.AccountID, m NewOrderMessage, now int64) (Configuration, InitOrderMessage, error) {
	list, role := c.Proposers, "proposer"
	if m.IsSigner {
		list, role = c.Signers, "signer"
	}
	if int(m.Index) >= len(list) || list[m.Index] != sender {
		return c, InitOrderMessage{}, errors.Wrapf(ErrUnknownSigner, "%v is not %s %d", sender.ToRaw(), role, m.Index)
	}
	if err := c.CheckSeqno(m.OrderSeqno); err != nil {
		return c, InitOrderMessage{}, err
	}
	if now > m.ExpirationDate {
		return c, InitOrderMessage{}, errors.Wrapf(ErrExpired, "expiration date %d is before %d", m.ExpirationDate, now)
	}
	if err := validateActions(m.Actions); err != nil {
		return c, InitOrderMessage{}, err
	}
	if err := rejectParamsUpdates(m.Actions); err != nil {
		return c, InitOrderMessage{}, err
	}
	init := InitOrderMessage{
		QueryID:        m.QueryID,
		Threshold:      c.Threshold,
		Signers:        slices.Clone(c.Signers),
		ExpirationDate: m.ExpirationDate,
		Actions:        m.Actions,
		ApproveOnInit:  m.IsSigner,
		SignerIndex:    m.Index,
	}
	return c.NextSnapshot(), init, nil
}

// ExecuteMessage builds the execute message an executed order sends to its multisig.
func (o Order) ExecuteMessage(queryID uint64) (ExecuteMessage, error) {
	switch {
	case !o.Inited:
		return ExecuteMessage{}, errors.Wrapf(ErrNotInitialized, "order %d", o.OrderSeqno)
	case !o.Executed:
		return ExecuteMessage{}, errors.Wrapf(ErrInvalidOrder, "order %d has %d of %d approvals", o.OrderSeqno, o.ApprovalsNum, o.Threshold)
	}
	hash, err := signersHash(o.Signers)
	if err != nil {
		return ExecuteMessage{}, err
	}
	return ExecuteMessage{
		QueryID:        queryID,
		OrderSeqno:     o.OrderSeqno,
		ExpirationDate: o.ExpirationDate,
		ApprovalsNum:   o.ApprovalsNum,
		SignersHash:    hash,
		Actions:        slices.Clone(o.Actions),
	}, nil
}

// Execute checks an execute message against the configuration and returns the actions to perform.
// The caller is responsible for checking that the message comes from the order with m.OrderSeqno.
func (c Configuration) Execute(m ExecuteMessage, now int64) ([]Action, error) {
	hash, err := signersHash(c.Signers)
	if err != nil {
		return nil, err
	}
	if hash != m.SignersHash {
		return nil, errors.Wrapf(ErrConfigurationMismatch, "order %d was approved by other signers", m.OrderSeqno)
	}
	if m.ApprovalsNum < c.Threshold {
		return nil, errors.Wrapf(ErrConfigurationMismatch, "order %d has %d approvals, threshold is %d", m.OrderSeqno, m.ApprovalsNum, c.Threshold)
	}
	if now > m.ExpirationDate {
		return nil, errors.Wrapf(ErrExpired, "order %d expired at %d", m.OrderSeqno, m.ExpirationDate)
	}
	if err := rejectParamsUpdates(m.Actions); err != nil {
		return nil, err
	}
	return slices.Clone(m.Actions), nil
}

// ExecuteInternal returns the actions of an execute_internal message.
// The caller is responsible for checking that the multisig sent it to itself.
func (c Configuration) ExecuteInternal(m ExecuteInternalMessage) ([]Action, error) {
	if err := validateActions(m.Actions); err != nil {
		return nil, err
	}
	if err := rejectParamsUpdates(m.Actions); err != nil {
		return nil, err
	}
	return slices.Clone(m.Actions), nil
}

// rejectParamsUpdates fails on update_multisig_params, the configuration of a deployed multisig is immutable.
func rejectParamsUpdates(actions []Action) error {
	for i, a := range actions {
		if a.UpdateParams != nil {
			return errors.Wrapf(ErrConfigurationMismatch, "action #%d changes the multisig parameters", i)
		}
	}
	return nil
}

func signersHash(signers []ton.AccountID) ([32]byte, error) {
	c := boc.NewCell()
	if err := storeAddressDict(c, signers); err != nil {
		return [32]byte{}, err
	}
	return c.Hash256()
}

func (o Order) checkApprovals() error {
	if o.Threshold < 1 || o.Threshold > len(o.Signers) {
		return malformed("threshold %d is out of range [1, %d]", o.Threshold, len(o.Signers))
	}
	if o.ApprovalsNum != o.ApprovalsMask.Count() {
		return malformed("approvals_num %d does not match %d bits in the approval mask", o.ApprovalsNum, o.ApprovalsMask.Count())
	}
	for i := len(o.Signers); i < 256; i++ {
		if o.ApprovalsMask.Has(uint8(i)) {
			return malformed("approval mask has bit %d set, order has %d signers", i, len(o.Signers))
		}
	}
	return nil
}
