package multisig

import (
	"github.com/go-faster/errors"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
	"golang.org/x/exp/slices"
)

// Builder derives contract addresses and builds the message bodies sent to the multisig and order contracts.
// A Builder is safe for concurrent use, the code cells it holds are never read after construction.
type Builder struct {
	multisigCode *boc.Cell
	orderCode    *boc.Cell
	workchain    int32
}

// Option configures a Builder.
type Option func(b *Builder)

// WithWorkchain sets the workchain new multisig accounts are deployed to. The default is the basechain.
func WithWorkchain(workchain int32) Option {
	return func(b *Builder) {
		b.workchain = workchain
	}
}

// NewBuilder returns a Builder for the given multisig and order contract code.
func NewBuilder(multisigCode, orderCode *boc.Cell, opts ...Option) (*Builder, error) {
	if multisigCode == nil || orderCode == nil {
		return nil, errors.New("multisig and order code are required")
	}
	b := &Builder{multisigCode: multisigCode, orderCode: orderCode}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// DeployPayload is everything needed to deploy a multisig account.
type DeployPayload struct {
	Address   ton.AccountID
	StateInit *boc.Cell
	Body      *boc.Cell
}

// OrderParams describes the order a new_order message creates.
type OrderParams struct {
	MultisigAddress ton.AccountID
	OrderSeqno      int64
	ExpirationDate  int64
	QueryID         uint64
}

// CreateOrderPayload is the new_order message to send to the multisig.
type CreateOrderPayload struct {
	// SendTo is the multisig account the body must be sent to.
	SendTo ton.AccountID
	// OrderAddress is the account the multisig deploys the order to.
	OrderAddress ton.AccountID
	Body         *boc.Cell
}

// ApprovePayload is the approve message a signer sends to an order account.
type ApprovePayload struct {
	SignerIndex uint8
	Body        *boc.Cell
}

// StateInit builds StateInit with code and data in refs, split_depth, special and library left empty:
//
//	_ split_depth:(Maybe (## 5)) special:(Maybe TickTock) code:(Maybe ^Cell) data:(Maybe ^Cell) library:(HashmapE 256 SimpleLib)
func StateInit(code, data *boc.Cell) (*boc.Cell, error) {
	c := boc.NewCell()
	for _, bit := range []bool{false, false, true, true, false} {
		if err := c.WriteBit(bit); err != nil {
			return nil, err
		}
	}
	if err := c.AddRef(code); err != nil {
		return nil, err
	}
	if err := c.AddRef(data); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Builder) address(stateInit *boc.Cell) (ton.AccountID, error) {
	hash, err := stateInit.Hash256()
	if err != nil {
		return ton.AccountID{}, err
	}
	return ton.AccountID{Workchain: b.workchain, Address: hash}, nil
}

func (b *Builder) multisigStateInit(cfg Configuration) (*boc.Cell, error) {
	data, err := EncodeConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return StateInit(b.multisigCode, data)
}

// OrderStateInit returns the state init the multisig deploys the order with.
func (b *Builder) OrderStateInit(multisig ton.AccountID, seqno int64) (*boc.Cell, error) {
	data, err := encodeOrderInitData(multisig, seqno)
	if err != nil {
		return nil, err
	}
	return StateInit(b.orderCode, data)
}

// DeployAddress returns the address a multisig with the given configuration is deployed to.
// Equal configurations always produce equal addresses.
func (b *Builder) DeployAddress(cfg Configuration) (ton.AccountID, error) {
	stateInit, err := b.multisigStateInit(cfg)
	if err != nil {
		return ton.AccountID{}, err
	}
	return b.address(stateInit)
}

// BuildDeployMultisigPayload validates the configuration and returns the deploy message parts.
func (b *Builder) BuildDeployMultisigPayload(cfg Configuration) (DeployPayload, error) {
	stateInit, err := b.multisigStateInit(cfg)
	if err != nil {
		return DeployPayload{}, err
	}
	address, err := b.address(stateInit)
	if err != nil {
		return DeployPayload{}, err
	}
	body, err := encodeDeployBody()
	if err != nil {
		return DeployPayload{}, err
	}
	return DeployPayload{Address: address, StateInit: stateInit, Body: body}, nil
}

// OrderAddress returns the address of the order with the given seqno created by the multisig.
// Orders live in the workchain of their multisig.
func (b *Builder) OrderAddress(multisig ton.AccountID, seqno int64) (ton.AccountID, error) {
	stateInit, err := b.OrderStateInit(multisig, seqno)
	if err != nil {
		return ton.AccountID{}, err
	}
	hash, err := stateInit.Hash256()
	if err != nil {
		return ton.AccountID{}, err
	}
	return ton.AccountID{Workchain: multisig.Workchain, Address: hash}, nil
}

// BuildCreateOrderPayload builds the new_order message actor sends to the multisig described by cfg.
// The actor must be a signer or a proposer of cfg, signers take precedence.
func (b *Builder) BuildCreateOrderPayload(actor ton.AccountID, params OrderParams, cfg Configuration, actions []Action) (CreateOrderPayload, error) {
	if err := cfg.Validate(); err != nil {
		return CreateOrderPayload{}, err
	}
	if err := cfg.CheckSeqno(params.OrderSeqno); err != nil {
		return CreateOrderPayload{}, err
	}
	m := NewOrderMessage{
		QueryID:        params.QueryID,
		OrderSeqno:     params.OrderSeqno,
		ExpirationDate: params.ExpirationDate,
		Actions:        actions,
	}
	if idx, ok := cfg.SignerIndex(actor); ok {
		m.IsSigner, m.Index = true, idx
	} else if idx, ok := cfg.ProposerIndex(actor); ok {
		m.Index = idx
	} else {
		return CreateOrderPayload{}, errors.Wrapf(ErrUnknownSigner, "%v is neither a signer nor a proposer", actor.ToRaw())
	}
	body, err := EncodeNewOrderBody(m)
	if err != nil {
		return CreateOrderPayload{}, err
	}
	orderAddress, err := b.OrderAddress(params.MultisigAddress, params.OrderSeqno)
	if err != nil {
		return CreateOrderPayload{}, err
	}
	return CreateOrderPayload{SendTo: params.MultisigAddress, OrderAddress: orderAddress, Body: body}, nil
}

// BuildApprovePayload builds the approve message actor sends to an order.
// The timestamp is used as the query id.
func BuildApprovePayload(actor ton.AccountID, signers []ton.AccountID, timestamp int64) (ApprovePayload, error) {
	idx := slices.Index(signers, actor)
	if idx < 0 || idx >= MaxSigners {
		return ApprovePayload{}, errors.Wrapf(ErrUnknownSigner, "%v", actor.ToRaw())
	}
	if timestamp < 0 {
		return ApprovePayload{}, errors.Errorf("negative timestamp %d", timestamp)
	}
	body, err := EncodeApproveBody(ApproveMessage{QueryID: uint64(timestamp), SignerIndex: uint8(idx)})
	if err != nil {
		return ApprovePayload{}, err
	}
	return ApprovePayload{SignerIndex: uint8(idx), Body: body}, nil
}
