package multisig

import (
	"github.com/go-faster/errors"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// Send modes used by the send_message action.
const (
	SendModeOrdinary          uint8 = 0
	SendModePayGasSeparately  uint8 = 1
	SendModeIgnoreErrors      uint8 = 2
	SendModeCarryAllRemaining uint8 = 128
)

// Action is a directive executed by the multisig once an order gets enough approvals.
// A plain action sends Amount nanotons with Payload as the message body to Destination.
// When UpdateParams is set the action is update_multisig_params and the other fields are ignored.
type Action struct {
	Destination ton.AccountID
	Amount      uint64
	// Payload is the message body, nil means an empty body.
	Payload *boc.Cell
	Mode    uint8
	Bounce  bool

	UpdateParams *ParamsUpdate
}

// ParamsUpdate describes an update_multisig_params action.
type ParamsUpdate struct {
	Threshold int
	Signers   []ton.AccountID
	Proposers []ton.AccountID
}

// TransferAction returns an action sending amount nanotons with an empty body.
func TransferAction(destination ton.AccountID, amount uint64) Action {
	return Action{
		Destination: destination,
		Amount:      amount,
		Mode:        SendModePayGasSeparately,
		Bounce:      true,
	}
}

// cellBits is the data capacity of a single cell.
const cellBits = 1023

// CommentPayload builds a text comment body: a zero op followed by the text as a snake of cells.
func CommentPayload(text string) (*boc.Cell, error) {
	root := boc.NewCell()
	if err := root.WriteUint(0, opBits); err != nil {
		return nil, err
	}
	data := []byte(text)
	cur, free := root, (cellBits-opBits)/8
	for {
		n := min(free, len(data))
		if err := cur.WriteBytes(data[:n]); err != nil {
			return nil, err
		}
		data = data[n:]
		if len(data) == 0 {
			return root, nil
		}
		next := boc.NewCell()
		if err := cur.AddRef(next); err != nil {
			return nil, err
		}
		cur, free = next, cellBits/8
	}
}

// ParseComment returns the text of a comment body built by CommentPayload.
func ParseComment(body *boc.Cell) (string, error) {
	body.ResetCounters()
	op, err := readUintN(body, opBits)
	if err != nil {
		return "", err
	}
	if op != 0 {
		return "", malformed("op 0x%08x is not a text comment", op)
	}
	var text []byte
	cur := body
	for {
		if cur.BitsAvailableForRead()%8 != 0 {
			return "", malformed("comment is not byte aligned")
		}
		for cur.BitsAvailableForRead() > 0 {
			b, err := readUintN(cur, 8)
			if err != nil {
				return "", err
			}
			text = append(text, byte(b))
		}
		if cur.RefsAvailableForRead() == 0 {
			return string(text), nil
		}
		if cur, err = nextRef(cur); err != nil {
			return "", err
		}
	}
}

func validateActions(actions []Action) error {
	if len(actions) == 0 {
		return errors.Wrap(ErrInvalidOrder, "order has no actions")
	}
	if len(actions) > MaxActions {
		return errors.Wrapf(ErrInvalidOrder, "order has %d actions, at most %d allowed", len(actions), MaxActions)
	}
	for i, a := range actions {
		if a.UpdateParams == nil {
			continue
		}
		cfg := NewConfiguration(a.UpdateParams.Threshold, a.UpdateParams.Signers, a.UpdateParams.Proposers, false)
		if err := cfg.Validate(); err != nil {
			return errors.Wrapf(ErrInvalidOrder, "action #%d: %v", i, err)
		}
	}
	return nil
}

// encodeOrderActions builds the order cell: a non-empty "Hashmap 8 ^Action" keyed by execution position.
func encodeOrderActions(actions []Action) (*boc.Cell, error) {
	if err := validateActions(actions); err != nil {
		return nil, err
	}
	root := boc.NewCell()
	err := storeDict(root, sequentialKeys(len(actions)), actionIndexBits, func(leaf *boc.Cell, i int) error {
		action, err := encodeAction(actions[i])
		if err != nil {
			return errors.Wrapf(err, "action #%d", i)
		}
		return leaf.AddRef(action)
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

func decodeOrderActions(c *boc.Cell) ([]Action, error) {
	rewind(c)
	var actions []Action
	err := loadDict(c, actionIndexBits, func(leaf *boc.Cell, key uint64) error {
		if key != uint64(len(actions)) {
			return malformed("action key %d is out of sequence, expected %d", key, len(actions))
		}
		ref, err := nextRef(leaf)
		if err != nil {
			return err
		}
		action, err := decodeAction(ref)
		if err != nil {
			return errors.Wrapf(err, "action #%d", key)
		}
		actions = append(actions, action)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}

func encodeAction(a Action) (*boc.Cell, error) {
	c := boc.NewCell()
	if a.UpdateParams != nil {
		if err := c.WriteUint(uint64(OpUpdateMultisigParams), opBits); err != nil {
			return nil, err
		}
		if err := writeUintN(c, uint64(a.UpdateParams.Threshold), 8); err != nil {
			return nil, err
		}
		signers := boc.NewCell()
		if err := storeAddressDict(signers, a.UpdateParams.Signers); err != nil {
			return nil, err
		}
		if err := c.AddRef(signers); err != nil {
			return nil, err
		}
		if err := storeAddressDictE(c, a.UpdateParams.Proposers); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err := c.WriteUint(uint64(OpSendMessage), opBits); err != nil {
		return nil, err
	}
	if err := c.WriteUint(uint64(a.Mode), 8); err != nil {
		return nil, err
	}
	msg, err := encodeRelaxedMessage(a)
	if err != nil {
		return nil, err
	}
	if err := c.AddRef(msg); err != nil {
		return nil, err
	}
	return c, nil
}

// sendMessageAction is send_message#f1381e5b. The message is kept as tlb.Message
// so the body cell comes back exactly as it was stored.
type sendMessageAction struct {
	Mode    uint8
	Message tlb.Message `tlb:"^"`
}

func decodeAction(c *boc.Cell) (Action, error) {
	op, err := readUintN(c, opBits)
	if err != nil {
		return Action{}, err
	}
	switch uint32(op) {
	case OpSendMessage:
		var send sendMessageAction
		if err := tlb.Unmarshal(c, &send); err != nil {
			return Action{}, malformedErr(err, "send_message action")
		}
		if err := ensureConsumed(c, "send_message action"); err != nil {
			return Action{}, err
		}
		action, err := actionFromMessage(send.Message)
		if err != nil {
			return Action{}, err
		}
		action.Mode = send.Mode
		return action, nil
	case OpUpdateMultisigParams:
		threshold, err := readUintN(c, 8)
		if err != nil {
			return Action{}, err
		}
		root, err := nextRef(c)
		if err != nil {
			return Action{}, err
		}
		signers, err := loadAddressDict(root)
		if err != nil {
			return Action{}, err
		}
		proposers, err := loadAddressDictE(c)
		if err != nil {
			return Action{}, err
		}
		update := &ParamsUpdate{Threshold: int(threshold), Signers: signers, Proposers: proposers}
		return Action{UpdateParams: update}, ensureConsumed(c, "update_multisig_params action")
	default:
		return Action{}, malformed("unknown action op 0x%08x", op)
	}
}

// encodeRelaxedMessage writes an internal MessageRelaxed:
// int_msg_info$0 ihr_disabled bounce bounced src:addr_none dest value ihr_fee fwd_fee created_lt created_at,
// no state init, body in a ref.
func encodeRelaxedMessage(a Action) (*boc.Cell, error) {
	c := boc.NewCell()
	for _, bit := range []bool{false, true, a.Bounce, false} {
		if err := c.WriteBit(bit); err != nil {
			return nil, err
		}
	}
	if err := c.WriteUint(0, 2); err != nil { // addr_none
		return nil, err
	}
	if err := writeAddress(c, a.Destination); err != nil {
		return nil, err
	}
	if err := writeCoins(c, a.Amount); err != nil {
		return nil, err
	}
	if err := c.WriteBit(false); err != nil { // no extra currencies
		return nil, err
	}
	for i := 0; i < 2; i++ { // ihr_fee, fwd_fee
		if err := writeCoins(c, 0); err != nil {
			return nil, err
		}
	}
	if err := c.WriteUint(0, 64); err != nil {
		return nil, err
	}
	if err := c.WriteUint(0, 32); err != nil {
		return nil, err
	}
	if err := c.WriteBit(false); err != nil { // no state init
		return nil, err
	}
	if a.Payload == nil {
		return c, c.WriteBit(false)
	}
	if err := c.WriteBit(true); err != nil {
		return nil, err
	}
	if err := c.AddRef(a.Payload); err != nil {
		return nil, err
	}
	return c, nil
}

func actionFromMessage(msg tlb.Message) (Action, error) {
	info := msg.Info.IntMsgInfo
	if msg.Info.SumType != "IntMsgInfo" || info == nil {
		return Action{}, malformed("only internal messages can be sent by an action")
	}
	if info.Src.SumType != "AddrNone" {
		return Action{}, malformed("message source must be addr_none")
	}
	dest, err := ton.AccountIDFromTlb(info.Dest)
	if err != nil {
		return Action{}, malformedErr(err, "message destination")
	}
	if dest == nil {
		return Action{}, malformed("message destination must be an internal address")
	}
	if len(info.Value.Other.Dict.Keys()) != 0 {
		return Action{}, malformed("extra currencies are not supported")
	}
	if msg.Init.Exists {
		return Action{}, malformed("state init in an action message is not supported")
	}
	action := Action{
		Destination: *dest,
		Amount:      uint64(info.Value.Grams),
		Bounce:      info.Bounce,
	}
	body := boc.Cell(msg.Body.Value)
	if msg.Body.IsRight {
		body.ResetCounters()
		action.Payload = &body
		return action, nil
	}
	if body.BitSize() != 0 || body.RefsSize() != 0 {
		return Action{}, malformed("inline message body is not supported")
	}
	return action, nil
}
