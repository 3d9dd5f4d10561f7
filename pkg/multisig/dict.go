package multisig

import (
	"math/bits"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
)

// indexKeyLen is the key width of every dictionary used by the contracts:
// signers, proposers and order actions are all keyed by uint8.
const indexKeyLen = 8

type valueWriter func(c *boc.Cell, idx int) error

type valueReader func(c *boc.Cell, key uint64) error

// storeDict writes a non-empty Hashmap with keys[i] mapped to the value written by write(c, i).
// Keys must be sorted in ascending order and be unique.
// Labels are encoded the same way the TVM dictionary builder does it,
// so equal maps always produce cells with equal hashes.
func storeDict(c *boc.Cell, keys []uint64, keyLen int, write valueWriter) error {
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	return storeDictNode(c, keys, idx, keyLen, write)
}

func storeDictNode(c *boc.Cell, keys []uint64, idx []int, m int, write valueWriter) error {
	l := commonPrefixLen(keys, idx, m)
	var label uint64
	if l > 0 {
		label = (keys[idx[0]] >> (m - l)) & lowMask(l)
	}
	if err := storeLabel(c, label, l, m); err != nil {
		return err
	}
	if l == m {
		return write(c, idx[0])
	}
	// fork: split by the bit right after the label
	pos := m - l - 1
	var left, right []int
	for _, i := range idx {
		if keys[i]>>pos&1 == 0 {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	for _, branch := range [][]int{left, right} {
		child := boc.NewCell()
		if err := storeDictNode(child, keys, branch, pos, write); err != nil {
			return err
		}
		if err := c.AddRef(child); err != nil {
			return err
		}
	}
	return nil
}

// commonPrefixLen returns how many of the m low bits all the keys share starting from the top one.
func commonPrefixLen(keys []uint64, idx []int, m int) int {
	if len(idx) == 1 {
		return m
	}
	first := keys[idx[0]] & lowMask(m)
	var diff uint64
	for _, i := range idx[1:] {
		diff |= first ^ (keys[i] & lowMask(m))
	}
	return m - bits.Len64(diff)
}

func storeLabel(c *boc.Cell, label uint64, l, m int) error {
	k := bits.Len(uint(m))
	if l > 0 && (label == 0 || label == lowMask(l)) {
		same := label != 0
		if l > 1 && k < 2*l-1 {
			// hml_same$11 v:Bit n:(#<= m)
			if err := c.WriteUint(0b11, 2); err != nil {
				return err
			}
			if err := c.WriteBit(same); err != nil {
				return err
			}
			return writeUintN(c, uint64(l), k)
		}
	}
	if k < l {
		// hml_long$10 n:(#<= m) s:(n * Bit)
		if err := c.WriteUint(0b10, 2); err != nil {
			return err
		}
		if err := writeUintN(c, uint64(l), k); err != nil {
			return err
		}
		return writeUintN(c, label, l)
	}
	// hml_short$0 len:(Unary ~n) s:(n * Bit)
	if err := c.WriteBit(false); err != nil {
		return err
	}
	for i := 0; i < l; i++ {
		if err := c.WriteBit(true); err != nil {
			return err
		}
	}
	if err := c.WriteBit(false); err != nil {
		return err
	}
	return writeUintN(c, label, l)
}

// loadDict walks a non-empty Hashmap and calls read for every leaf in ascending key order.
// The reader must consume the whole value, leftovers in a leaf are reported as malformed.
func loadDict(c *boc.Cell, keyLen int, read valueReader) error {
	return loadDictNode(c, 0, keyLen, read)
}

func loadDictNode(c *boc.Cell, prefix uint64, m int, read valueReader) error {
	label, l, err := loadLabel(c, m)
	if err != nil {
		return err
	}
	key := prefix<<l | label
	if l == m {
		if err := read(c, key); err != nil {
			return err
		}
		return ensureConsumed(c, "dictionary leaf")
	}
	if c.BitsAvailableForRead() != 0 || c.RefsAvailableForRead() != 2 {
		return malformed("dictionary fork must hold exactly two refs and no data")
	}
	for bit := uint64(0); bit < 2; bit++ {
		child, err := nextRef(c)
		if err != nil {
			return err
		}
		if err := loadDictNode(child, key<<1|bit, m-l-1, read); err != nil {
			return err
		}
	}
	return nil
}

func loadLabel(c *boc.Cell, m int) (uint64, int, error) {
	k := bits.Len(uint(m))
	long, err := c.ReadBit()
	if err != nil {
		return 0, 0, malformedErr(err, "dictionary label")
	}
	if !long {
		l := 0
		for {
			one, err := c.ReadBit()
			if err != nil {
				return 0, 0, malformedErr(err, "dictionary label length")
			}
			if !one {
				break
			}
			l++
			if l > m {
				return 0, 0, malformed("dictionary label of %d bits exceeds %d remaining key bits", l, m)
			}
		}
		label, err := readUintN(c, l)
		return label, l, err
	}
	same, err := c.ReadBit()
	if err != nil {
		return 0, 0, malformedErr(err, "dictionary label")
	}
	if !same {
		n, err := readUintN(c, k)
		if err != nil {
			return 0, 0, err
		}
		l := int(n)
		if l > m {
			return 0, 0, malformed("dictionary label of %d bits exceeds %d remaining key bits", l, m)
		}
		label, err := readUintN(c, l)
		return label, l, err
	}
	v, err := c.ReadBit()
	if err != nil {
		return 0, 0, malformedErr(err, "dictionary label")
	}
	n, err := readUintN(c, k)
	if err != nil {
		return 0, 0, err
	}
	l := int(n)
	if l > m {
		return 0, 0, malformed("dictionary label of %d bits exceeds %d remaining key bits", l, m)
	}
	if v {
		return lowMask(l), l, nil
	}
	return 0, l, nil
}

// storeAddressDict writes a non-empty "Hashmap 8 MsgAddressInt" keyed by list position.
func storeAddressDict(c *boc.Cell, list []ton.AccountID) error {
	if len(list) == 0 || len(list) > 255 {
		return malformed("address dictionary must hold 1..255 entries, got %d", len(list))
	}
	return storeDict(c, sequentialKeys(len(list)), indexKeyLen, func(leaf *boc.Cell, i int) error {
		return writeAddress(leaf, list[i])
	})
}

// storeAddressDictE writes a "HashmapE 8 MsgAddressInt": a flag and, for a non-empty list, a ref to the root.
func storeAddressDictE(c *boc.Cell, list []ton.AccountID) error {
	if len(list) == 0 {
		return c.WriteBit(false)
	}
	root := boc.NewCell()
	if err := storeAddressDict(root, list); err != nil {
		return err
	}
	if err := c.WriteBit(true); err != nil {
		return err
	}
	return c.AddRef(root)
}

// loadAddressDict reads a non-empty address dictionary whose keys must form the range [0, n).
func loadAddressDict(c *boc.Cell) ([]ton.AccountID, error) {
	var list []ton.AccountID
	err := loadDict(c, indexKeyLen, func(leaf *boc.Cell, key uint64) error {
		if key != uint64(len(list)) {
			return malformed("address dictionary key %d is out of sequence, expected %d", key, len(list))
		}
		account, err := readAddress(leaf)
		if err != nil {
			return err
		}
		list = append(list, account)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if i, j, ok := firstDuplicate(list); ok {
		return nil, malformed("dictionary keys %d and %d hold the same address", i, j)
	}
	return list, nil
}

func loadAddressDictE(c *boc.Cell) ([]ton.AccountID, error) {
	exists, err := c.ReadBit()
	if err != nil {
		return nil, malformedErr(err, "dictionary flag")
	}
	if !exists {
		return nil, nil
	}
	root, err := nextRef(c)
	if err != nil {
		return nil, err
	}
	return loadAddressDict(root)
}

func sequentialKeys(n int) []uint64 {
	keys := make([]uint64, n)
	for i := range keys {
		keys[i] = uint64(i)
	}
	return keys
}

func lowMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<n - 1
}
