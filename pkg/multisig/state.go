package multisig

import (
	"math/big"
	"math/bits"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
)

// ApprovalMask is a 256-bit set of signer indexes, bit i is set once signer i has approved.
type ApprovalMask [4]uint64

// Has reports whether the signer with the given index has approved.
func (m ApprovalMask) Has(idx uint8) bool {
	return m[idx/64]&(1<<(idx%64)) != 0
}

// With returns a copy of the mask with the signer's bit set.
func (m ApprovalMask) With(idx uint8) ApprovalMask {
	m[idx/64] |= 1 << (idx % 64)
	return m
}

// Count returns the number of set bits.
func (m ApprovalMask) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return n
}

// BigInt returns the mask as the unsigned integer stored by the order contract.
func (m ApprovalMask) BigInt() *big.Int {
	v := new(big.Int)
	for i := len(m) - 1; i >= 0; i-- {
		v.Lsh(v, 64)
		v.Or(v, new(big.Int).SetUint64(m[i]))
	}
	return v
}

// ApprovalMaskFromBigInt is the inverse of ApprovalMask.BigInt.
func ApprovalMaskFromBigInt(v *big.Int) (ApprovalMask, error) {
	var m ApprovalMask
	if v.Sign() < 0 || v.BitLen() > 256 {
		return m, malformed("approval mask %v does not fit into 256 bits", v)
	}
	word := new(big.Int)
	low := new(big.Int).SetUint64(^uint64(0))
	for i := range m {
		word.Rsh(v, uint(64*i))
		m[i] = word.And(word, low).Uint64()
	}
	return m, nil
}

func writeApprovalMask(c *boc.Cell, m ApprovalMask) error {
	for i := len(m) - 1; i >= 0; i-- {
		if err := c.WriteUint(m[i], 64); err != nil {
			return err
		}
	}
	return nil
}

func readApprovalMask(c *boc.Cell) (ApprovalMask, error) {
	var m ApprovalMask
	for i := len(m) - 1; i >= 0; i-- {
		w, err := readUintN(c, 64)
		if err != nil {
			return m, err
		}
		m[i] = w
	}
	return m, nil
}

// EncodeConfiguration serializes the multisig contract data:
//
//	next_order_seqno:uint256 threshold:uint8 signers:^(Hashmap 8 MsgAddressInt) signers_num:uint8
//	proposers:(HashmapE 8 MsgAddressInt) allow_arbitrary_seqno:Bool
func EncodeConfiguration(cfg Configuration) (*boc.Cell, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seqno := cfg.NextOrderSeqno
	if cfg.AllowArbitrarySeqno {
		seqno = 0
	}
	c := boc.NewCell()
	if err := writeUint256(c, seqno); err != nil {
		return nil, err
	}
	if err := c.WriteUint(uint64(cfg.Threshold), 8); err != nil {
		return nil, err
	}
	signers := boc.NewCell()
	if err := storeAddressDict(signers, cfg.Signers); err != nil {
		return nil, err
	}
	if err := c.AddRef(signers); err != nil {
		return nil, err
	}
	if err := c.WriteUint(uint64(len(cfg.Signers)), 8); err != nil {
		return nil, err
	}
	if err := storeAddressDictE(c, cfg.Proposers); err != nil {
		return nil, err
	}
	if err := c.WriteBit(cfg.AllowArbitrarySeqno); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseConfiguration is the inverse of EncodeConfiguration.
func ParseConfiguration(c *boc.Cell) (Configuration, error) {
	c.ResetCounters()
	var cfg Configuration
	seqno, err := readUint256(c)
	if err != nil {
		return cfg, err
	}
	threshold, err := readUintN(c, 8)
	if err != nil {
		return cfg, err
	}
	root, err := nextRef(c)
	if err != nil {
		return cfg, err
	}
	if cfg.Signers, err = loadAddressDict(root); err != nil {
		return cfg, err
	}
	signersNum, err := readUintN(c, 8)
	if err != nil {
		return cfg, err
	}
	if int(signersNum) != len(cfg.Signers) {
		return cfg, malformed("signers_num is %d but the dictionary holds %d signers", signersNum, len(cfg.Signers))
	}
	if cfg.Proposers, err = loadAddressDictE(c); err != nil {
		return cfg, err
	}
	if cfg.AllowArbitrarySeqno, err = c.ReadBit(); err != nil {
		return cfg, malformedErr(err, "allow_arbitrary_seqno")
	}
	if err := ensureConsumed(c, "multisig data"); err != nil {
		return cfg, err
	}
	cfg.Threshold = int(threshold)
	cfg.NextOrderSeqno = seqno
	if cfg.AllowArbitrarySeqno {
		cfg.NextOrderSeqno = ArbitrarySeqno
	}
	if cfg.Threshold < 1 || cfg.Threshold > len(cfg.Signers) {
		return cfg, malformed("threshold %d is out of range [1, %d]", cfg.Threshold, len(cfg.Signers))
	}
	return cfg, nil
}

// encodeOrderInitData builds the data an order account is deployed with: multisig_address:MsgAddressInt order_seqno:uint256.
func encodeOrderInitData(multisig ton.AccountID, seqno int64) (*boc.Cell, error) {
	c := boc.NewCell()
	if err := writeAddress(c, multisig); err != nil {
		return nil, err
	}
	if err := writeUint256(c, seqno); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeOrder serializes the order contract data. An uninitialized order only carries its address components.
func EncodeOrder(o Order) (*boc.Cell, error) {
	c, err := encodeOrderInitData(o.MultisigAddress, o.OrderSeqno)
	if err != nil {
		return nil, err
	}
	if !o.Inited {
		return c, nil
	}
	if o.ApprovalsNum != o.ApprovalsMask.Count() {
		return nil, malformed("approvals_num %d does not match %d bits in the approval mask", o.ApprovalsNum, o.ApprovalsMask.Count())
	}
	if err := writeUintN(c, uint64(o.Threshold), 8); err != nil {
		return nil, err
	}
	if err := c.WriteBit(o.Executed); err != nil {
		return nil, err
	}
	signers := boc.NewCell()
	if err := storeAddressDict(signers, o.Signers); err != nil {
		return nil, err
	}
	if err := c.AddRef(signers); err != nil {
		return nil, err
	}
	if err := writeApprovalMask(c, o.ApprovalsMask); err != nil {
		return nil, err
	}
	if err := writeUintN(c, uint64(o.ApprovalsNum), 8); err != nil {
		return nil, err
	}
	if err := writeTime(c, o.ExpirationDate); err != nil {
		return nil, err
	}
	actions, err := encodeOrderActions(o.Actions)
	if err != nil {
		return nil, err
	}
	if err := c.AddRef(actions); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseOrder is the inverse of EncodeOrder.
func ParseOrder(c *boc.Cell) (Order, error) {
	c.ResetCounters()
	var (
		o   Order
		err error
	)
	if o.MultisigAddress, err = readAddress(c); err != nil {
		return o, err
	}
	if o.OrderSeqno, err = readUint256(c); err != nil {
		return o, err
	}
	if c.BitsAvailableForRead() == 0 && c.RefsAvailableForRead() == 0 {
		return o, nil
	}
	o.Inited = true
	threshold, err := readUintN(c, 8)
	if err != nil {
		return o, err
	}
	o.Threshold = int(threshold)
	if o.Executed, err = c.ReadBit(); err != nil {
		return o, malformedErr(err, "sent_for_execution")
	}
	signers, err := nextRef(c)
	if err != nil {
		return o, err
	}
	if o.Signers, err = loadAddressDict(signers); err != nil {
		return o, err
	}
	if o.ApprovalsMask, err = readApprovalMask(c); err != nil {
		return o, err
	}
	num, err := readUintN(c, 8)
	if err != nil {
		return o, err
	}
	o.ApprovalsNum = int(num)
	if o.ExpirationDate, err = readTime(c); err != nil {
		return o, err
	}
	actions, err := nextRef(c)
	if err != nil {
		return o, err
	}
	if o.Actions, err = decodeOrderActions(actions); err != nil {
		return o, err
	}
	if err := ensureConsumed(c, "order data"); err != nil {
		return o, err
	}
	if err := o.checkApprovals(); err != nil {
		return o, err
	}
	return o, nil
}
