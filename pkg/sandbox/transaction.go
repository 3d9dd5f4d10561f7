package sandbox

import (
	"github.com/go-faster/errors"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"github.com/arnac-io/tonmultisig/pkg/multisig"
)

// approveComment is the text a signer can send to an order instead of an approve body.
const approveComment = "approve"

type envelope struct {
	from      ton.AccountID
	to        ton.AccountID
	value     uint64
	body      *boc.Cell
	stateInit *boc.Cell

	// orderSeqno is set on messages sent by an executed order.
	orderSeqno int64
}

// transaction collects the changes caused by one external action until they are committed.
type transaction struct {
	ledger  *Ledger
	now     int64
	changed map[ton.AccountID]account
	sent    []Message
	replies []Message

	// rejections are kept even when the transaction is rolled back.
	rejections []Message
}

func (tx *transaction) load(id ton.AccountID) (account, bool) {
	if acc, ok := tx.changed[id]; ok {
		return acc, true
	}
	return tx.ledger.accounts.Load(id)
}

func (tx *transaction) store(id ton.AccountID, acc account, data *boc.Cell) error {
	if data != nil {
		raw, err := data.ToBoc()
		if err != nil {
			return err
		}
		acc.data = raw
	}
	tx.changed[id] = acc
	return nil
}

func (tx *transaction) deploy(payload multisig.DeployPayload, value uint64) error {
	if _, ok := tx.load(payload.Address); ok {
		return errors.Wrapf(ErrAccountExists, "%v", payload.Address.ToRaw())
	}
	data, err := stateInitData(payload.StateInit)
	if err != nil {
		return err
	}
	cfg, err := multisig.ParseConfiguration(data)
	if err != nil {
		return err
	}
	expected, err := tx.ledger.builder.DeployAddress(cfg)
	if err != nil {
		return err
	}
	if expected != payload.Address {
		return errors.Wrapf(ErrStateInitMismatch, "state init belongs to %v, not %v", expected.ToRaw(), payload.Address.ToRaw())
	}
	return tx.store(payload.Address, account{kind: KindMultisig, balance: value}, data)
}

// stateInitData decodes a private copy of the state init, the code cell in it is shared with the builder.
func stateInitData(stateInit *boc.Cell) (*boc.Cell, error) {
	raw, err := stateInit.ToBoc()
	if err != nil {
		return nil, err
	}
	cell, err := multisig.DecodeBoc(raw)
	if err != nil {
		return nil, err
	}
	var state tlb.StateInit
	if err := tlb.Unmarshal(cell, &state); err != nil {
		return nil, errors.Wrap(err, "decode state init")
	}
	if !state.Data.Exists || !state.Code.Exists {
		return nil, errors.Wrap(ErrStateInitMismatch, "state init without code or data")
	}
	data := state.Data.Value.Value
	return &data, nil
}

func (tx *transaction) deliver(msg envelope) ([]envelope, error) {
	acc, ok := tx.load(msg.to)
	if !ok {
		if msg.stateInit == nil {
			acc = account{kind: KindWallet}
		} else {
			deployed, err := tx.deployOrder(msg)
			if err != nil {
				return nil, err
			}
			acc = deployed
		}
	}
	acc.balance += msg.value
	switch acc.kind {
	case KindMultisig:
		return tx.deliverToMultisig(msg, acc)
	case KindOrder:
		return tx.deliverToOrder(msg, acc)
	}
	return nil, tx.store(msg.to, acc, nil)
}

// deployOrder creates an order account from the state init attached by its multisig.
func (tx *transaction) deployOrder(msg envelope) (account, error) {
	data, err := stateInitData(msg.stateInit)
	if err != nil {
		return account{}, err
	}
	order, err := multisig.ParseOrder(data)
	if err != nil {
		return account{}, err
	}
	if order.Inited || order.MultisigAddress != msg.from {
		return account{}, errors.Wrap(ErrStateInitMismatch, "order state init")
	}
	expected, err := tx.ledger.builder.OrderAddress(order.MultisigAddress, order.OrderSeqno)
	if err != nil {
		return account{}, err
	}
	if expected != msg.to {
		return account{}, errors.Wrapf(ErrStateInitMismatch, "order state init belongs to %v", expected.ToRaw())
	}
	raw, err := data.ToBoc()
	if err != nil {
		return account{}, err
	}
	return account{kind: KindOrder, data: raw}, nil
}

func (tx *transaction) deliverToMultisig(msg envelope, acc account) ([]envelope, error) {
	data, err := multisig.DecodeBoc(acc.data)
	if err != nil {
		return nil, err
	}
	cfg, err := multisig.ParseConfiguration(data)
	if err != nil {
		return nil, err
	}
	op, err := bodyOp(msg.body)
	if err != nil {
		return nil, err
	}
	switch op {
	case 0:
		return nil, tx.store(msg.to, acc, nil)
	case multisig.OpNewOrder:
		m, err := multisig.ParseNewOrderBody(msg.body)
		if err != nil {
			return nil, err
		}
		next, init, err := cfg.NewOrder(msg.from, m, tx.now)
		if err != nil {
			return nil, err
		}
		body, err := multisig.EncodeInitOrderBody(init)
		if err != nil {
			return nil, err
		}
		orderAddress, err := tx.ledger.builder.OrderAddress(msg.to, m.OrderSeqno)
		if err != nil {
			return nil, err
		}
		stateInit, err := tx.ledger.builder.OrderStateInit(msg.to, m.OrderSeqno)
		if err != nil {
			return nil, err
		}
		nextData, err := multisig.EncodeConfiguration(next)
		if err != nil {
			return nil, err
		}
		if err := tx.store(msg.to, acc, nextData); err != nil {
			return nil, err
		}
		tx.ledger.logger.Debug("order created",
			zap.String("multisig", msg.to.ToRaw()),
			zap.String("order", orderAddress.ToRaw()),
			zap.Int64("seqno", m.OrderSeqno))
		return []envelope{{from: msg.to, to: orderAddress, body: body, stateInit: stateInit}}, nil
	case multisig.OpExecute:
		m, err := multisig.ParseExecuteBody(msg.body)
		if err != nil {
			return nil, err
		}
		orderAddress, err := tx.ledger.builder.OrderAddress(msg.to, m.OrderSeqno)
		if err != nil {
			return nil, err
		}
		if orderAddress != msg.from {
			return nil, errors.Wrapf(multisig.ErrUnauthorized, "%v is not order %d", msg.from.ToRaw(), m.OrderSeqno)
		}
		actions, err := cfg.Execute(m, tx.now)
		if err != nil {
			return nil, err
		}
		return tx.dispatch(msg.to, acc, m.OrderSeqno, actions)
	case multisig.OpExecuteInternal:
		if msg.from != msg.to {
			return nil, errors.Wrapf(multisig.ErrUnauthorized, "execute_internal from %v", msg.from.ToRaw())
		}
		m, err := multisig.ParseExecuteInternalBody(msg.body)
		if err != nil {
			return nil, err
		}
		actions, err := cfg.ExecuteInternal(m)
		if err != nil {
			return nil, err
		}
		return tx.dispatch(msg.to, acc, msg.orderSeqno, actions)
	}
	return nil, errors.Wrapf(ErrUnsupportedMessage, "multisig does not handle op 0x%08x", op)
}

// dispatch sends the order's actions from the multisig balance.
func (tx *transaction) dispatch(from ton.AccountID, acc account, seqno int64, actions []multisig.Action) ([]envelope, error) {
	var out []envelope
	for i, a := range actions {
		amount := a.Amount
		if a.Mode&multisig.SendModeCarryAllRemaining != 0 {
			amount = acc.balance
		}
		if amount > acc.balance {
			if a.Mode&multisig.SendModeIgnoreErrors != 0 {
				tx.ledger.logger.Warn("action skipped",
					zap.String("multisig", from.ToRaw()),
					zap.Int("action", i),
					zap.Uint64("amount", amount),
					zap.Uint64("balance", acc.balance))
				continue
			}
			return nil, errors.Wrapf(ErrInsufficientFunds, "action #%d sends %d, balance is %d", i, amount, acc.balance)
		}
		acc.balance -= amount
		tx.sent = append(tx.sent, Message{
			From:        from,
			To:          a.Destination,
			Amount:      amount,
			Mode:        a.Mode,
			Bounce:      a.Bounce,
			Body:        a.Payload,
			OrderSeqno:  seqno,
			ProcessedAt: tx.now,
		})
		out = append(out, envelope{from: from, to: a.Destination, value: amount, body: a.Payload, orderSeqno: seqno})
	}
	if err := tx.store(from, acc, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (tx *transaction) deliverToOrder(msg envelope, acc account) ([]envelope, error) {
	data, err := multisig.DecodeBoc(acc.data)
	if err != nil {
		return nil, err
	}
	order, err := multisig.ParseOrder(data)
	if err != nil {
		return nil, err
	}
	op, err := bodyOp(msg.body)
	if err != nil {
		return nil, err
	}
	var (
		next    multisig.Order
		queryID uint64
	)
	switch op {
	case multisig.OpInitOrder:
		if msg.from != order.MultisigAddress {
			return nil, errors.Wrapf(multisig.ErrUnauthorized, "init from %v", msg.from.ToRaw())
		}
		m, err := multisig.ParseInitOrderBody(msg.body)
		if err != nil {
			return nil, err
		}
		if next, _, err = order.Init(m, tx.now); err != nil {
			return nil, err
		}
		queryID = m.QueryID
	case multisig.OpApprove:
		m, err := multisig.ParseApproveBody(msg.body)
		if err != nil {
			return nil, err
		}
		next, _, err = order.ApproveAs(msg.from, m.SignerIndex, tx.now)
		if err := tx.answerApprove(msg, order, next, m.QueryID, err); err != nil {
			return nil, err
		}
		queryID = m.QueryID
	case 0:
		text, err := commentText(msg.body)
		if err != nil {
			return nil, err
		}
		if text != approveComment {
			return nil, tx.store(msg.to, acc, nil)
		}
		next, err = approveBySender(order, msg.from, tx.now)
		if err := tx.answerApprove(msg, order, next, 0, err); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedMessage, "order does not handle op 0x%08x", op)
	}
	nextData, err := multisig.EncodeOrder(next)
	if err != nil {
		return nil, err
	}
	if err := tx.store(msg.to, acc, nextData); err != nil {
		return nil, err
	}
	tx.ledger.logger.Debug("order updated",
		zap.String("order", msg.to.ToRaw()),
		zap.Int("approvals", next.ApprovalsNum),
		zap.Bool("executed", next.Executed))
	if !next.Executed || order.Executed {
		return nil, nil
	}
	execute, err := next.ExecuteMessage(queryID)
	if err != nil {
		return nil, err
	}
	body, err := multisig.EncodeExecuteBody(execute)
	if err != nil {
		return nil, err
	}
	return []envelope{{from: msg.to, to: next.MultisigAddress, body: body}}, nil
}

// answerApprove records the reply of an order to an approval and passes approveErr through.
// An approval that executes the order is not answered.
func (tx *transaction) answerApprove(msg envelope, order, next multisig.Order, queryID uint64, approveErr error) error {
	reply := multisig.ApproveReply{QueryID: queryID, Accepted: approveErr == nil}
	switch {
	case approveErr != nil:
		code, ok := multisig.RejectionExitCode(approveErr)
		if !ok {
			return approveErr
		}
		reply.ExitCode = code
	case next.Executed:
		return nil
	}
	body, err := multisig.EncodeApproveReply(reply)
	if err != nil {
		return err
	}
	m := Message{
		From:        msg.to,
		To:          msg.from,
		Body:        body,
		OrderSeqno:  order.OrderSeqno,
		ProcessedAt: tx.now,
	}
	if approveErr != nil {
		tx.rejections = append(tx.rejections, m)
		return approveErr
	}
	tx.replies = append(tx.replies, m)
	return nil
}

func approveBySender(order multisig.Order, sender ton.AccountID, now int64) (multisig.Order, error) {
	for i, signer := range order.Signers {
		if signer == sender {
			next, _, err := order.Approve(uint8(i), now)
			return next, err
		}
	}
	return order, errors.Wrapf(multisig.ErrUnknownSigner, "%v", sender.ToRaw())
}

// bodyOp returns zero for an empty body.
func bodyOp(body *boc.Cell) (uint32, error) {
	if body == nil {
		return 0, nil
	}
	return multisig.MessageOp(body)
}

func commentText(body *boc.Cell) (string, error) {
	if body == nil || body.BitsAvailableForRead() < 32 {
		return "", nil
	}
	return multisig.ParseComment(body)
}
