package multisig

import (
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
)

func mustComment(t *testing.T, text string) *boc.Cell {
	t.Helper()
	c, err := CommentPayload(text)
	require.NoError(t, err)
	return c
}

func cellHash(t *testing.T, c *boc.Cell) [32]byte {
	t.Helper()
	hash, err := c.Hash256()
	require.NoError(t, err)
	return hash
}

// requireSameActions compares actions field by field, payloads by hash.
func requireSameActions(t *testing.T, want, got []Action) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		require.Equal(t, w.UpdateParams, g.UpdateParams, "action #%d", i)
		if w.UpdateParams != nil {
			continue
		}
		require.Equal(t, w.Destination, g.Destination, "action #%d", i)
		require.Equal(t, w.Amount, g.Amount, "action #%d", i)
		require.Equal(t, w.Mode, g.Mode, "action #%d", i)
		require.Equal(t, w.Bounce, g.Bounce, "action #%d", i)
		if w.Payload == nil {
			require.Nil(t, g.Payload, "action #%d", i)
			continue
		}
		require.NotNil(t, g.Payload, "action #%d", i)
		require.Equal(t, cellHash(t, w.Payload), cellHash(t, g.Payload), "action #%d", i)
	}
}

func TestAddressDictLabels(t *testing.T) {
	single := boc.NewCell()
	require.NoError(t, storeAddressDict(single, testAccounts(1, 1)))
	// hml_same$11 v:0 n:1000 followed by a 267-bit address
	require.Equal(t, 7+267, single.BitsAvailableForRead())
	require.Equal(t, 0, single.RefsSize())
	label, err := single.ReadUint(7)
	require.NoError(t, err)
	require.Equal(t, uint64(0b1101000), label)

	pair := boc.NewCell()
	require.NoError(t, storeAddressDict(pair, testAccounts(1, 2)))
	// a fork right under the 7-bit common prefix
	require.Equal(t, 7, pair.BitsAvailableForRead())
	require.Equal(t, 2, pair.RefsSize())
	leaf, err := pair.NextRef()
	require.NoError(t, err)
	// hml_short$0 with an empty unary length
	require.Equal(t, 2+267, leaf.BitsAvailableForRead())
}

func TestAddressDict_RoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16, 100, 255} {
		list := testAccounts(1, n)
		c := boc.NewCell()
		require.NoError(t, storeAddressDict(c, list))
		got, err := loadAddressDict(c)
		require.NoError(t, err)
		require.Equal(t, list, got, "n=%d", n)
	}
}

func TestConfiguration_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cfg  Configuration
	}{
		{
			name: "signers only",
			cfg:  NewConfiguration(2, testAccounts(1, 3), nil, false),
		},
		{
			name: "with proposers",
			cfg:  NewConfiguration(3, testAccounts(1, 5), testAccounts(20, 2), false),
		},
		{
			name: "arbitrary seqno",
			cfg:  NewConfiguration(1, testAccounts(1, 1), testAccounts(20, 1), true),
		},
		{
			name: "advanced counter",
			cfg:  NewConfiguration(1, testAccounts(1, 2), nil, false).NextSnapshot().NextSnapshot(),
		},
		{
			name: "max signers",
			cfg:  NewConfiguration(200, testAccounts(1, MaxSigners), testAccounts(300, MaxProposers), false),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := EncodeConfiguration(tt.cfg)
			require.NoError(t, err)
			got, err := ParseConfiguration(c)
			require.NoError(t, err)
			require.Equal(t, tt.cfg, got)

			again, err := EncodeConfiguration(got)
			require.NoError(t, err)
			require.Equal(t, cellHash(t, c), cellHash(t, again))
		})
	}
}

func TestEncodeConfiguration_Deterministic(t *testing.T) {
	signers := map[uint8]ton.AccountID{}
	for _, i := range []uint8{4, 0, 3, 1, 2} {
		signers[i] = testAccount(int(i) + 1)
	}
	fromMap, err := SignersFromIndexes(signers)
	require.NoError(t, err)

	first, err := EncodeConfiguration(NewConfiguration(3, fromMap, nil, false))
	require.NoError(t, err)
	second, err := EncodeConfiguration(NewConfiguration(3, testAccounts(1, 5), nil, false))
	require.NoError(t, err)
	require.Equal(t, cellHash(t, first), cellHash(t, second))

	reordered := testAccounts(1, 5)
	reordered[0], reordered[1] = reordered[1], reordered[0]
	third, err := EncodeConfiguration(NewConfiguration(3, reordered, nil, false))
	require.NoError(t, err)
	require.NotEqual(t, cellHash(t, first), cellHash(t, third))
}

func TestEncodeConfiguration_Invalid(t *testing.T) {
	_, err := EncodeConfiguration(NewConfiguration(4, testAccounts(1, 3), nil, false))
	require.True(t, errors.Is(err, ErrInvalidConfiguration))

	_, err = EncodeConfiguration(NewConfiguration(1, []ton.AccountID{testAccount(1), testAccount(1)}, nil, false))
	require.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestParseConfiguration_Malformed(t *testing.T) {
	signersRoot := func(n int) *boc.Cell {
		c := boc.NewCell()
		require.NoError(t, storeAddressDict(c, testAccounts(1, n)))
		return c
	}
	tests := []struct {
		name  string
		build func() *boc.Cell
	}{
		{
			name: "truncated",
			build: func() *boc.Cell {
				c := boc.NewCell()
				require.NoError(t, c.WriteUint(0, 64))
				return c
			},
		},
		{
			name: "trailing bits",
			build: func() *boc.Cell {
				c, err := EncodeConfiguration(NewConfiguration(1, testAccounts(1, 2), nil, false))
				require.NoError(t, err)
				require.NoError(t, c.WriteBit(true))
				return c
			},
		},
		{
			name: "signers_num mismatch",
			build: func() *boc.Cell {
				c := boc.NewCell()
				require.NoError(t, writeUint256(c, 0))
				require.NoError(t, c.WriteUint(1, 8))
				require.NoError(t, c.AddRef(signersRoot(2)))
				require.NoError(t, c.WriteUint(3, 8))
				require.NoError(t, c.WriteBit(false))
				require.NoError(t, c.WriteBit(false))
				return c
			},
		},
		{
			name: "zero threshold",
			build: func() *boc.Cell {
				c := boc.NewCell()
				require.NoError(t, writeUint256(c, 0))
				require.NoError(t, c.WriteUint(0, 8))
				require.NoError(t, c.AddRef(signersRoot(2)))
				require.NoError(t, c.WriteUint(2, 8))
				require.NoError(t, c.WriteBit(false))
				require.NoError(t, c.WriteBit(false))
				return c
			},
		},
		{
			name: "seqno overflow",
			build: func() *boc.Cell {
				c := boc.NewCell()
				require.NoError(t, c.WriteUint(1, 64))
				require.NoError(t, c.WriteUint(0, 64))
				require.NoError(t, c.WriteUint(0, 64))
				require.NoError(t, c.WriteUint(0, 64))
				require.NoError(t, c.WriteUint(1, 8))
				require.NoError(t, c.AddRef(signersRoot(1)))
				require.NoError(t, c.WriteUint(1, 8))
				require.NoError(t, c.WriteBit(false))
				require.NoError(t, c.WriteBit(false))
				return c
			},
		},
		{
			name: "fork with data",
			build: func() *boc.Cell {
				root := signersRoot(2)
				require.NoError(t, root.WriteBit(true))
				c := boc.NewCell()
				require.NoError(t, writeUint256(c, 0))
				require.NoError(t, c.WriteUint(1, 8))
				require.NoError(t, c.AddRef(root))
				require.NoError(t, c.WriteUint(2, 8))
				require.NoError(t, c.WriteBit(false))
				require.NoError(t, c.WriteBit(false))
				return c
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfiguration(tt.build())
			require.True(t, errors.Is(err, ErrMalformedState), "got %v", err)
		})
	}
}

func testOrder(t *testing.T) Order {
	mask := ApprovalMask{}.With(0).With(2)
	return Order{
		MultisigAddress: testAccount(77),
		OrderSeqno:      12,
		Inited:          true,
		Threshold:       3,
		Signers:         testAccounts(1, 4),
		ApprovalsMask:   mask,
		ApprovalsNum:    2,
		ExpirationDate:  1_700_000_000,
		Actions: []Action{
			TransferAction(testAccount(50), 1_000_000_000),
			{
				Destination: testAccount(51),
				Amount:      5,
				Payload:     mustComment(t, "payout"),
				Mode:        SendModeIgnoreErrors | SendModePayGasSeparately,
			},
			{
				UpdateParams: &ParamsUpdate{Threshold: 1, Signers: testAccounts(1, 2), Proposers: testAccounts(9, 1)},
			},
		},
	}
}

func TestOrder_RoundTrip(t *testing.T) {
	want := testOrder(t)
	c, err := EncodeOrder(want)
	require.NoError(t, err)
	got, err := ParseOrder(c)
	require.NoError(t, err)

	requireSameActions(t, want.Actions, got.Actions)
	want.Actions, got.Actions = nil, nil
	require.Equal(t, want, got)
}

func TestOrder_RoundTripUninitialized(t *testing.T) {
	want := NewOrder(testAccount(77), 3)
	c, err := EncodeOrder(want)
	require.NoError(t, err)
	got, err := ParseOrder(c)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestParseOrder_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Order)
	}{
		{
			name:   "approval bit beyond signers",
			mutate: func(o *Order) { o.ApprovalsMask = o.ApprovalsMask.With(200); o.ApprovalsNum++ },
		},
		{
			name:   "threshold above signers",
			mutate: func(o *Order) { o.Threshold = 9 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder(t)
			tt.mutate(&o)
			c, err := EncodeOrder(o)
			require.NoError(t, err)
			_, err = ParseOrder(c)
			require.True(t, errors.Is(err, ErrMalformedState), "got %v", err)
		})
	}

	o := testOrder(t)
	o.ApprovalsNum = 3
	_, err := EncodeOrder(o)
	require.True(t, errors.Is(err, ErrMalformedState))
}

func TestApprovalMask(t *testing.T) {
	m := ApprovalMask{}.With(0).With(63).With(64).With(255)
	require.Equal(t, 4, m.Count())
	require.True(t, m.Has(255))
	require.False(t, m.Has(1))

	back, err := ApprovalMaskFromBigInt(m.BigInt())
	require.NoError(t, err)
	require.Equal(t, m, back)
	require.Equal(t, uint(256), uint(m.BigInt().BitLen()))
}

func TestMessages_RoundTrip(t *testing.T) {
	actions := []Action{TransferAction(testAccount(40), 42)}

	newOrder := NewOrderMessage{QueryID: 7, OrderSeqno: 3, IsSigner: true, Index: 2, ExpirationDate: 1_800_000_000, Actions: actions}
	c, err := EncodeNewOrderBody(newOrder)
	require.NoError(t, err)
	op, err := MessageOp(c)
	require.NoError(t, err)
	require.Equal(t, OpNewOrder, op)
	gotNewOrder, err := ParseNewOrderBody(c)
	require.NoError(t, err)
	require.Equal(t, newOrder, gotNewOrder)

	for _, approveOnInit := range []bool{true, false} {
		init := InitOrderMessage{QueryID: 7, Threshold: 2, Signers: testAccounts(1, 3), ExpirationDate: 1_800_000_000, Actions: actions, ApproveOnInit: approveOnInit}
		if approveOnInit {
			init.SignerIndex = 1
		}
		c, err := EncodeInitOrderBody(init)
		require.NoError(t, err)
		got, err := ParseInitOrderBody(c)
		require.NoError(t, err)
		require.Equal(t, init, got)
	}

	approve := ApproveMessage{QueryID: 1_700_000_123, SignerIndex: 4}
	c, err = EncodeApproveBody(approve)
	require.NoError(t, err)
	gotApprove, err := ParseApproveBody(c)
	require.NoError(t, err)
	require.Equal(t, approve, gotApprove)

	_, err = ParseNewOrderBody(c)
	require.True(t, errors.Is(err, ErrMalformedState))

	execute := ExecuteMessage{QueryID: 9, OrderSeqno: 3, ExpirationDate: 1_800_000_000, ApprovalsNum: 2, SignersHash: [32]byte{1, 2, 3}, Actions: actions}
	c, err = EncodeExecuteBody(execute)
	require.NoError(t, err)
	gotExecute, err := ParseExecuteBody(c)
	require.NoError(t, err)
	require.Equal(t, execute, gotExecute)

	internal := ExecuteInternalMessage{QueryID: 11, Actions: actions}
	c, err = EncodeExecuteInternalBody(internal)
	require.NoError(t, err)
	op, err = MessageOp(c)
	require.NoError(t, err)
	require.Equal(t, OpExecuteInternal, op)
	gotInternal, err := ParseExecuteInternalBody(c)
	require.NoError(t, err)
	require.Equal(t, internal, gotInternal)
}

func TestApproveReply(t *testing.T) {
	for _, reply := range []ApproveReply{
		{QueryID: 5, Accepted: true},
		{QueryID: 6, ExitCode: 107},
	} {
		c, err := EncodeApproveReply(reply)
		require.NoError(t, err)
		got, err := ParseApproveReply(c)
		require.NoError(t, err)
		require.Equal(t, reply, got)
	}

	accepted, err := EncodeApproveReply(ApproveReply{QueryID: 5, Accepted: true})
	require.NoError(t, err)
	require.Equal(t, 32+64, accepted.BitsAvailableForRead())

	approve, err := EncodeApproveBody(ApproveMessage{QueryID: 5})
	require.NoError(t, err)
	_, err = ParseApproveReply(approve)
	require.True(t, errors.Is(err, ErrMalformedState))
}

func TestParseNewOrderBody_Malformed(t *testing.T) {
	newOrderBody := func(seqnoHigh uint64, action *boc.Cell) *boc.Cell {
		root := boc.NewCell()
		require.NoError(t, storeDict(root, sequentialKeys(1), actionIndexBits, func(leaf *boc.Cell, i int) error {
			return leaf.AddRef(action)
		}))
		c := boc.NewCell()
		require.NoError(t, writeHeader(c, OpNewOrder, 1))
		require.NoError(t, c.WriteUint(seqnoHigh, 64))
		require.NoError(t, c.WriteUint(0, 64))
		require.NoError(t, c.WriteUint(0, 64))
		require.NoError(t, c.WriteUint(3, 64))
		require.NoError(t, c.WriteBit(true))
		require.NoError(t, c.WriteUint(0, 8))
		require.NoError(t, writeTime(c, 1_800_000_000))
		require.NoError(t, c.AddRef(root))
		return c
	}
	transfer := func(t *testing.T) *boc.Cell {
		c, err := encodeAction(TransferAction(testAccount(40), 42))
		require.NoError(t, err)
		return c
	}
	tests := []struct {
		name  string
		build func(t *testing.T) *boc.Cell
	}{
		{
			name: "trailing bit",
			build: func(t *testing.T) *boc.Cell {
				c := newOrderBody(0, transfer(t))
				require.NoError(t, c.WriteBit(true))
				return c
			},
		},
		{
			name: "seqno overflow",
			build: func(t *testing.T) *boc.Cell {
				return newOrderBody(1, transfer(t))
			},
		},
		{
			name: "inline message body",
			build: func(t *testing.T) *boc.Cell {
				msg, err := encodeRelaxedMessage(TransferAction(testAccount(40), 42))
				require.NoError(t, err)
				require.NoError(t, msg.WriteUint(5, 8))
				action := boc.NewCell()
				require.NoError(t, action.WriteUint(uint64(OpSendMessage), opBits))
				require.NoError(t, action.WriteUint(0, 8))
				require.NoError(t, action.AddRef(msg))
				return newOrderBody(0, action)
			},
		},
		{
			name: "unknown action",
			build: func(t *testing.T) *boc.Cell {
				action := boc.NewCell()
				require.NoError(t, action.WriteUint(0xdeadbeef, opBits))
				return newOrderBody(0, action)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNewOrderBody(tt.build(t))
			require.True(t, errors.Is(err, ErrMalformedState), "got %v", err)
		})
	}

	body := newOrderBody(0, transfer(t))
	for i := 0; i < 2; i++ {
		m, err := ParseNewOrderBody(body)
		require.NoError(t, err)
		require.Equal(t, int64(3), m.OrderSeqno)
		require.Len(t, m.Actions, 1)
	}
}

func TestEncodeNewOrderBody_InvalidActions(t *testing.T) {
	_, err := EncodeNewOrderBody(NewOrderMessage{ExpirationDate: 1})
	require.True(t, errors.Is(err, ErrInvalidOrder))

	tooMany := make([]Action, MaxActions+1)
	for i := range tooMany {
		tooMany[i] = TransferAction(testAccount(1), 1)
	}
	_, err = EncodeNewOrderBody(NewOrderMessage{ExpirationDate: 1, Actions: tooMany})
	require.True(t, errors.Is(err, ErrInvalidOrder))
}

func TestCommentPayload(t *testing.T) {
	text := strings.Repeat("a", 300)
	c := mustComment(t, text)
	op, err := MessageOp(c)
	require.NoError(t, err)
	require.Equal(t, uint32(0), op)

	require.Equal(t, 32+123*8, c.BitsAvailableForRead())
	next, err := c.NextRef()
	require.NoError(t, err)
	require.Equal(t, 127*8, next.BitsAvailableForRead())
	last, err := next.NextRef()
	require.NoError(t, err)
	require.Equal(t, 50*8, last.BitsAvailableForRead())
	require.Equal(t, 0, last.RefsSize())

	got, err := ParseComment(c)
	require.NoError(t, err)
	require.Equal(t, text, got)

	short, err := ParseComment(mustComment(t, "approve"))
	require.NoError(t, err)
	require.Equal(t, "approve", short)

	approve, err := EncodeApproveBody(ApproveMessage{SignerIndex: 1})
	require.NoError(t, err)
	_, err = ParseComment(approve)
	require.True(t, errors.Is(err, ErrMalformedState))
}
