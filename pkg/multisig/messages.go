package multisig

import (
	"github.com/tonkeeper/tongo/abi"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// Operation codes of the multisig v2 contracts.
const (
	OpNewOrder        uint32 = 0xf718510f
	OpExecute         uint32 = 0x75097f5d
	OpExecuteInternal uint32 = 0xa32c59bf

	OpInitOrder       uint32 = 0x9c73fba2
	OpApprove         uint32 = 0xa762230f
	OpApproveAccepted uint32 = 0x82609bf6
	OpApproveRejected uint32 = 0xafaf283e

	OpSendMessage          uint32 = 0xf1381e5b
	OpUpdateMultisigParams uint32 = 0x1d0cfbd3
)

// NewOrderMessage is the body a signer or a proposer sends to the multisig to create an order.
type NewOrderMessage struct {
	QueryID    uint64
	OrderSeqno int64
	// IsSigner tells whether Index points into the signer list or into the proposer list.
	IsSigner       bool
	Index          uint8
	ExpirationDate int64
	Actions        []Action
}

// InitOrderMessage is the body the multisig sends to a freshly addressed order.
type InitOrderMessage struct {
	QueryID        uint64
	Threshold      int
	Signers        []ton.AccountID
	ExpirationDate int64
	Actions        []Action
	ApproveOnInit  bool
	SignerIndex    uint8
}

// ExecuteMessage is the body an order sends to its multisig once it has enough approvals.
type ExecuteMessage struct {
	QueryID        uint64
	OrderSeqno     int64
	ExpirationDate int64
	ApprovalsNum   int
	// SignersHash is the hash of the signer dictionary the order was approved by.
	SignersHash [32]byte
	Actions     []Action
}

// ApproveMessage is the body a signer sends to an order.
type ApproveMessage struct {
	QueryID     uint64
	SignerIndex uint8
}

// ExecuteInternalMessage is the body the multisig sends to itself to run a chained batch of actions.
type ExecuteInternalMessage struct {
	QueryID uint64
	Actions []Action
}

// ApproveReply is what an order answers to an approve message.
type ApproveReply struct {
	QueryID  uint64
	Accepted bool
	// ExitCode tells why a rejected approval failed.
	ExitCode uint32
}

// MessageOp returns the operation code of a message body, zero for a text comment or an empty body.
func MessageOp(body *boc.Cell) (uint32, error) {
	body.ResetCounters()
	if body.BitsAvailableForRead() < opBits {
		return 0, nil
	}
	op, err := body.PickUint(opBits)
	if err != nil {
		return 0, malformedErr(err, "read op")
	}
	return uint32(op), nil
}

func writeHeader(c *boc.Cell, op uint32, queryID uint64) error {
	if err := c.WriteUint(uint64(op), opBits); err != nil {
		return err
	}
	return c.WriteUint(queryID, queryIDBits)
}

// decodeBody checks the op of a message body and decodes the rest of it into body,
// which must be one of the abi message body types.
func decodeBody(c *boc.Cell, want uint32, body any, what string) error {
	rewind(c)
	op, err := readUintN(c, opBits)
	if err != nil {
		return err
	}
	if uint32(op) != want {
		return malformed("unexpected op 0x%08x, want 0x%08x", op, want)
	}
	if err := tlb.Unmarshal(c, body); err != nil {
		return malformedErr(err, what)
	}
	return ensureConsumed(c, what)
}

// bodyActions decodes the order stored in the i-th ref of a body.
func bodyActions(c *boc.Cell, i int) ([]Action, error) {
	order, err := refAt(c, i)
	if err != nil {
		return nil, err
	}
	return decodeOrderActions(order)
}

// EncodeNewOrderBody serializes new_order#f718510f.
func EncodeNewOrderBody(m NewOrderMessage) (*boc.Cell, error) {
	order, err := encodeOrderActions(m.Actions)
	if err != nil {
		return nil, err
	}
	c := boc.NewCell()
	if err := writeHeader(c, OpNewOrder, m.QueryID); err != nil {
		return nil, err
	}
	if err := writeUint256(c, m.OrderSeqno); err != nil {
		return nil, err
	}
	if err := c.WriteBit(m.IsSigner); err != nil {
		return nil, err
	}
	if err := c.WriteUint(uint64(m.Index), signerIndexBits); err != nil {
		return nil, err
	}
	if err := writeTime(c, m.ExpirationDate); err != nil {
		return nil, err
	}
	if err := c.AddRef(order); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseNewOrderBody is the inverse of EncodeNewOrderBody.
func ParseNewOrderBody(c *boc.Cell) (NewOrderMessage, error) {
	var body abi.MultisigNewOrderMsgBody
	if err := decodeBody(c, OpNewOrder, &body, "new_order body"); err != nil {
		return NewOrderMessage{}, err
	}
	seqno, err := uint256Seqno(&body.OrderSeqno)
	if err != nil {
		return NewOrderMessage{}, err
	}
	actions, err := bodyActions(c, 0)
	if err != nil {
		return NewOrderMessage{}, err
	}
	return NewOrderMessage{
		QueryID:        body.QueryId,
		OrderSeqno:     seqno,
		IsSigner:       body.Signer == 1,
		Index:          body.Index,
		ExpirationDate: int64(body.ExpirationDate),
		Actions:        actions,
	}, nil
}

// EncodeInitOrderBody serializes init#9c73fba2.
func EncodeInitOrderBody(m InitOrderMessage) (*boc.Cell, error) {
	order, err := encodeOrderActions(m.Actions)
	if err != nil {
		return nil, err
	}
	c := boc.NewCell()
	if err := writeHeader(c, OpInitOrder, m.QueryID); err != nil {
		return nil, err
	}
	if err := writeUintN(c, uint64(m.Threshold), 8); err != nil {
		return nil, err
	}
	signers := boc.NewCell()
	if err := storeAddressDict(signers, m.Signers); err != nil {
		return nil, err
	}
	if err := c.AddRef(signers); err != nil {
		return nil, err
	}
	if err := writeTime(c, m.ExpirationDate); err != nil {
		return nil, err
	}
	if err := c.AddRef(order); err != nil {
		return nil, err
	}
	if err := c.WriteBit(m.ApproveOnInit); err != nil {
		return nil, err
	}
	if m.ApproveOnInit {
		if err := c.WriteUint(uint64(m.SignerIndex), signerIndexBits); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ParseInitOrderBody is the inverse of EncodeInitOrderBody.
func ParseInitOrderBody(c *boc.Cell) (InitOrderMessage, error) {
	var body abi.MultisigOrderInitMsgBody
	if err := decodeBody(c, OpInitOrder, &body, "init body"); err != nil {
		return InitOrderMessage{}, err
	}
	root, err := refAt(c, 0)
	if err != nil {
		return InitOrderMessage{}, err
	}
	signers, err := loadAddressDict(root)
	if err != nil {
		return InitOrderMessage{}, err
	}
	actions, err := bodyActions(c, 1)
	if err != nil {
		return InitOrderMessage{}, err
	}
	m := InitOrderMessage{
		QueryID:        body.QueryId,
		Threshold:      int(body.Threshold),
		Signers:        signers,
		ExpirationDate: int64(body.ExpirationDate),
		Actions:        actions,
	}
	if body.SignerIndex != nil {
		m.ApproveOnInit = true
		m.SignerIndex = *body.SignerIndex
	}
	return m, nil
}

// EncodeExecuteBody serializes execute#75097f5d.
func EncodeExecuteBody(m ExecuteMessage) (*boc.Cell, error) {
	order, err := encodeOrderActions(m.Actions)
	if err != nil {
		return nil, err
	}
	c := boc.NewCell()
	if err := writeHeader(c, OpExecute, m.QueryID); err != nil {
		return nil, err
	}
	if err := writeUint256(c, m.OrderSeqno); err != nil {
		return nil, err
	}
	if err := writeTime(c, m.ExpirationDate); err != nil {
		return nil, err
	}
	if err := writeUintN(c, uint64(m.ApprovalsNum), 8); err != nil {
		return nil, err
	}
	if err := c.WriteBytes(m.SignersHash[:]); err != nil {
		return nil, err
	}
	if err := c.AddRef(order); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseExecuteBody is the inverse of EncodeExecuteBody.
func ParseExecuteBody(c *boc.Cell) (ExecuteMessage, error) {
	var body abi.MultisigExecuteMsgBody
	if err := decodeBody(c, OpExecute, &body, "execute body"); err != nil {
		return ExecuteMessage{}, err
	}
	seqno, err := uint256Seqno(&body.OrderSeqno)
	if err != nil {
		return ExecuteMessage{}, err
	}
	actions, err := bodyActions(c, 0)
	if err != nil {
		return ExecuteMessage{}, err
	}
	return ExecuteMessage{
		QueryID:        body.QueryId,
		OrderSeqno:     seqno,
		ExpirationDate: int64(body.ExpirationDate),
		ApprovalsNum:   int(body.ApprovalsNum),
		SignersHash:    [32]byte(body.SignersHash),
		Actions:        actions,
	}, nil
}

// EncodeApproveBody serializes approve#a762230f.
func EncodeApproveBody(m ApproveMessage) (*boc.Cell, error) {
	c := boc.NewCell()
	if err := writeHeader(c, OpApprove, m.QueryID); err != nil {
		return nil, err
	}
	if err := c.WriteUint(uint64(m.SignerIndex), signerIndexBits); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseApproveBody is the inverse of EncodeApproveBody.
func ParseApproveBody(c *boc.Cell) (ApproveMessage, error) {
	var body abi.MultisigApproveMsgBody
	if err := decodeBody(c, OpApprove, &body, "approve body"); err != nil {
		return ApproveMessage{}, err
	}
	return ApproveMessage{QueryID: body.QueryId, SignerIndex: body.SignerIndex}, nil
}

// EncodeExecuteInternalBody serializes execute_internal#a32c59bf.
func EncodeExecuteInternalBody(m ExecuteInternalMessage) (*boc.Cell, error) {
	order, err := encodeOrderActions(m.Actions)
	if err != nil {
		return nil, err
	}
	c := boc.NewCell()
	if err := writeHeader(c, OpExecuteInternal, m.QueryID); err != nil {
		return nil, err
	}
	if err := c.AddRef(order); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseExecuteInternalBody is the inverse of EncodeExecuteInternalBody.
func ParseExecuteInternalBody(c *boc.Cell) (ExecuteInternalMessage, error) {
	var body abi.MultisigExecuteInternalMsgBody
	if err := decodeBody(c, OpExecuteInternal, &body, "execute_internal body"); err != nil {
		return ExecuteInternalMessage{}, err
	}
	actions, err := bodyActions(c, 0)
	if err != nil {
		return ExecuteInternalMessage{}, err
	}
	return ExecuteInternalMessage{QueryID: body.QueryId, Actions: actions}, nil
}

// EncodeApproveReply serializes approved#82609bf6 or approve_rejected#afaf283e.
func EncodeApproveReply(r ApproveReply) (*boc.Cell, error) {
	c := boc.NewCell()
	if r.Accepted {
		if err := c.WriteUint(uint64(OpApproveAccepted), opBits); err != nil {
			return nil, err
		}
		return c, tlb.Marshal(c, abi.MultisigApproveAcceptedMsgBody{QueryId: r.QueryID})
	}
	if err := c.WriteUint(uint64(OpApproveRejected), opBits); err != nil {
		return nil, err
	}
	return c, tlb.Marshal(c, abi.MultisigApproveRejectedMsgBody{QueryId: r.QueryID, ExitCode: r.ExitCode})
}

// ParseApproveReply is the inverse of EncodeApproveReply.
func ParseApproveReply(c *boc.Cell) (ApproveReply, error) {
	op, err := MessageOp(c)
	if err != nil {
		return ApproveReply{}, err
	}
	switch op {
	case OpApproveAccepted:
		var body abi.MultisigApproveAcceptedMsgBody
		if err := decodeBody(c, op, &body, "approved body"); err != nil {
			return ApproveReply{}, err
		}
		return ApproveReply{QueryID: body.QueryId, Accepted: true}, nil
	case OpApproveRejected:
		var body abi.MultisigApproveRejectedMsgBody
		if err := decodeBody(c, op, &body, "approve_rejected body"); err != nil {
			return ApproveReply{}, err
		}
		return ApproveReply{QueryID: body.QueryId, ExitCode: body.ExitCode}, nil
	default:
		return ApproveReply{}, malformed("op 0x%08x is not an approve reply", op)
	}
}

// encodeDeployBody builds the empty-op body attached to the multisig deploy message.
func encodeDeployBody() (*boc.Cell, error) {
	c := boc.NewCell()
	if err := writeHeader(c, 0, 0); err != nil {
		return nil, err
	}
	return c, nil
}
