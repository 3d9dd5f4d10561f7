package multisig

import (
	"math"
	"math/big"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// Bit widths of the fields exchanged with the contracts.
const (
	opBits          = 32
	queryIDBits     = 64
	seqnoBits       = 256
	signerIndexBits = 8
	actionIndexBits = 8
	timeBits        = 48
)

func writeUintN(c *boc.Cell, v uint64, n int) error {
	if n == 0 {
		return nil
	}
	if n < 64 && v>>n != 0 {
		return malformed("value %d does not fit into %d bits", v, n)
	}
	return c.WriteUint(v, n)
}

func readUintN(c *boc.Cell, n int) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	v, err := c.ReadUint(n)
	if err != nil {
		return 0, malformedErr(err, "read uint")
	}
	return v, nil
}

// writeUint256 stores a non-negative seqno as uint256.
func writeUint256(c *boc.Cell, v int64) error {
	if v < 0 {
		return malformed("negative value %d for uint256", v)
	}
	for i := 0; i < 3; i++ {
		if err := c.WriteUint(0, 64); err != nil {
			return err
		}
	}
	return c.WriteUint(uint64(v), 64)
}

// readUint256 loads a uint256 that must fit into int64.
func readUint256(c *boc.Cell) (int64, error) {
	for i := 0; i < 3; i++ {
		high, err := c.ReadUint(64)
		if err != nil {
			return 0, malformedErr(err, "read uint256")
		}
		if high != 0 {
			return 0, malformed("uint256 value overflows 63 bits")
		}
	}
	v, err := c.ReadUint(64)
	if err != nil {
		return 0, malformedErr(err, "read uint256")
	}
	if v > math.MaxInt64 {
		return 0, malformed("uint256 value overflows 63 bits")
	}
	return int64(v), nil
}

func uint256Seqno(v *tlb.Uint256) (int64, error) {
	n := (*big.Int)(v)
	if n.Sign() < 0 || !n.IsInt64() {
		return 0, malformed("uint256 value overflows 63 bits")
	}
	return n.Int64(), nil
}

func writeTime(c *boc.Cell, unix int64) error {
	if unix < 0 || unix >= 1<<timeBits {
		return malformed("timestamp %d does not fit into %d bits", unix, timeBits)
	}
	return c.WriteUint(uint64(unix), timeBits)
}

func readTime(c *boc.Cell) (int64, error) {
	v, err := readUintN(c, timeBits)
	return int64(v), err
}

func writeAddress(c *boc.Cell, account ton.AccountID) error {
	return tlb.Marshal(c, account.ToMsgAddress())
}

func readAddress(c *boc.Cell) (ton.AccountID, error) {
	var addr tlb.MsgAddress
	if err := tlb.Unmarshal(c, &addr); err != nil {
		return ton.AccountID{}, malformedErr(err, "read address")
	}
	account, err := ton.AccountIDFromTlb(addr)
	if err != nil {
		return ton.AccountID{}, malformedErr(err, "read address")
	}
	if account == nil {
		return ton.AccountID{}, malformed("address is addr_none")
	}
	return *account, nil
}

func writeCoins(c *boc.Cell, amount uint64) error {
	return tlb.Marshal(c, tlb.Grams(amount))
}

// nextRef returns the next child with its read counters rewound,
// so a cell can be parsed any number of times.
func nextRef(c *boc.Cell) (*boc.Cell, error) {
	ref, err := c.NextRef()
	if err != nil {
		return nil, malformedErr(err, "read ref")
	}
	ref.ResetCounters()
	return ref, nil
}

// rewind resets the read counters of c and of every cell below it.
func rewind(c *boc.Cell) {
	c.ResetCounters()
	for _, ref := range c.Refs() {
		rewind(ref)
	}
}

// refAt returns the i-th child of c with its subtree rewound.
func refAt(c *boc.Cell, i int) (*boc.Cell, error) {
	refs := c.Refs()
	if i >= len(refs) {
		return nil, malformed("cell has %d refs, want ref #%d", len(refs), i)
	}
	rewind(refs[i])
	return refs[i], nil
}

func ensureConsumed(c *boc.Cell, what string) error {
	if bits, refs := c.BitsAvailableForRead(), c.RefsAvailableForRead(); bits != 0 || refs != 0 {
		return malformed("%v has %d trailing bits and %d trailing refs", what, bits, refs)
	}
	return nil
}

// DecodeBoc deserializes a single-root bag of cells.
func DecodeBoc(raw []byte) (*boc.Cell, error) {
	cells, err := boc.DeserializeBoc(raw)
	if err != nil {
		return nil, malformedErr(err, "deserialize boc")
	}
	if len(cells) != 1 {
		return nil, malformed("expected a single root cell, got %d", len(cells))
	}
	return cells[0], nil
}
