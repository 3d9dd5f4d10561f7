package multisig

import (
	"context"
	"math/big"

	"github.com/go-faster/errors"
	"github.com/sourcegraph/conc/iter"
	"github.com/tonkeeper/tongo/abi"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// Get methods of the multisig and order contracts.
const (
	MethodGetMultisigData  = "get_multisig_data"
	MethodGetOrderData     = "get_order_data"
	MethodGetOrderAddress  = "get_order_address"
	ordersFetchConcurrency = 8
)

// MaxOrdersPerRange limits how many orders a single range query may fetch.
const MaxOrdersPerRange = 1024

// ErrMethodFailed is returned when a get method exits with a non-success code.
var ErrMethodFailed = errors.New("get method failed")

// Executor runs read-only get methods against deployed accounts.
// The returned code is the TVM exit code, 0 and 1 mean success.
type Executor interface {
	RunSmcMethod(ctx context.Context, account ton.AccountID, method string, params tlb.VmStack) (uint32, tlb.VmStack, error)
}

func runMethod(ctx context.Context, exec Executor, account ton.AccountID, method string, params tlb.VmStack, results int) (tlb.VmStack, error) {
	code, stack, err := exec.RunSmcMethod(ctx, account, method, params)
	if err != nil {
		return nil, errors.Wrapf(err, "run %v on %v", method, account.ToRaw())
	}
	if code != 0 && code != 1 {
		return nil, errors.Wrapf(ErrMethodFailed, "%v on %v exited with code %d", method, account.ToRaw(), code)
	}
	if len(stack) != results {
		return nil, malformed("%v returned %d values, want %d", method, len(stack), results)
	}
	return stack, nil
}

// GetMultisigConfig queries get_multisig_data and decodes the configuration.
func GetMultisigConfig(ctx context.Context, exec Executor, multisig ton.AccountID) (Configuration, error) {
	stack, err := runMethod(ctx, exec, multisig, MethodGetMultisigData, nil, 4)
	if err != nil {
		return Configuration{}, err
	}
	signersCell, err := stackCell(stack[2])
	if err != nil {
		return Configuration{}, err
	}
	if signersCell == nil {
		return Configuration{}, malformed("signers dictionary is null")
	}
	rewind(signersCell)
	// abi reads proposers as a HashmapE while the contract returns the bare root, they are decoded below.
	_, decoded, err := abi.DecodeGetMultisigDataResult(tlb.VmStack{stack[0], stack[1], cellValue(signersCell), nullValue()})
	if err != nil {
		return Configuration{}, malformedErr(err, "multisig data")
	}
	data, ok := decoded.(abi.GetMultisigDataResult)
	if !ok {
		return Configuration{}, malformed("unexpected multisig data %T", decoded)
	}
	seqno := big.Int(data.Seqno)
	if !seqno.IsInt64() {
		return Configuration{}, malformed("next order seqno %v overflows int64", &seqno)
	}
	if threshold, err := stackInt64(stack[1]); err != nil || threshold != int64(data.Threshold) {
		return Configuration{}, malformed("threshold does not fit into 8 bits")
	}
	rewind(signersCell)
	signers, err := loadAddressDict(signersCell)
	if err != nil {
		return Configuration{}, err
	}
	proposersCell, err := stackCell(stack[3])
	if err != nil {
		return Configuration{}, err
	}
	var proposers []ton.AccountID
	if proposersCell != nil {
		rewind(proposersCell)
		if proposers, err = loadAddressDict(proposersCell); err != nil {
			return Configuration{}, err
		}
	}
	cfg := Configuration{
		Threshold:           int(data.Threshold),
		Signers:             signers,
		Proposers:           proposers,
		AllowArbitrarySeqno: seqno.Int64() == ArbitrarySeqno,
		NextOrderSeqno:      seqno.Int64(),
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, malformedErr(err, "multisig data")
	}
	return cfg, nil
}

// GetOrderConfig queries get_order_data and decodes the order.
// An order that has not received its init message yet is returned with Inited unset.
func GetOrderConfig(ctx context.Context, exec Executor, order ton.AccountID) (Order, error) {
	stack, err := runMethod(ctx, exec, order, MethodGetOrderData, nil, 9)
	if err != nil {
		return Order{}, err
	}
	var o Order
	if o.MultisigAddress, err = stackAddress(stack[0]); err != nil {
		return Order{}, err
	}
	if o.OrderSeqno, err = stackInt64(stack[1]); err != nil {
		return Order{}, err
	}
	if stack[2].SumType == "VmStkNull" {
		return o, nil
	}
	o.Inited = true
	threshold, err := stackInt64(stack[2])
	if err != nil {
		return Order{}, err
	}
	o.Threshold = int(threshold)
	executed, err := stackInt64(stack[3])
	if err != nil {
		return Order{}, err
	}
	o.Executed = executed != 0
	signers, err := stackCell(stack[4])
	if err != nil {
		return Order{}, err
	}
	if signers == nil {
		return Order{}, malformed("signers dictionary is null")
	}
	if o.Signers, err = loadAddressDict(signers); err != nil {
		return Order{}, err
	}
	mask, err := stackBigInt(stack[5])
	if err != nil {
		return Order{}, err
	}
	if o.ApprovalsMask, err = ApprovalMaskFromBigInt(mask); err != nil {
		return Order{}, err
	}
	num, err := stackInt64(stack[6])
	if err != nil {
		return Order{}, err
	}
	o.ApprovalsNum = int(num)
	if o.ExpirationDate, err = stackInt64(stack[7]); err != nil {
		return Order{}, err
	}
	actions, err := stackCell(stack[8])
	if err != nil {
		return Order{}, err
	}
	if actions == nil {
		return Order{}, malformed("order actions are null")
	}
	if o.Actions, err = decodeOrderActions(actions); err != nil {
		return Order{}, err
	}
	return o, o.checkApprovals()
}

// GetOrderAddressBySeqno asks the multisig for the address of the order with the given seqno.
func GetOrderAddressBySeqno(ctx context.Context, exec Executor, multisig ton.AccountID, seqno int64) (ton.AccountID, error) {
	if seqno < 0 {
		return ton.AccountID{}, errors.Wrapf(ErrSeqnoConflict, "negative order seqno %d", seqno)
	}
	params := tlb.VmStack{intValue(seqno)}
	stack, err := runMethod(ctx, exec, multisig, MethodGetOrderAddress, params, 1)
	if err != nil {
		return ton.AccountID{}, err
	}
	return stackAddress(stack[0])
}

// OrderSeqnos lists the seqnos in [from, to], at most MaxOrdersPerRange of them.
func OrderSeqnos(from, to int64) ([]int64, error) {
	if from < 0 || to < from {
		return nil, errors.Errorf("invalid seqno range [%d, %d]", from, to)
	}
	if to-from >= MaxOrdersPerRange {
		return nil, errors.Errorf("seqno range [%d, %d] exceeds %d orders", from, to, MaxOrdersPerRange)
	}
	seqnos := make([]int64, 0, to-from+1)
	for s := from; s <= to; s++ {
		seqnos = append(seqnos, s)
	}
	return seqnos, nil
}

// GetOrders fetches the orders with seqnos in [from, to] in parallel, in seqno order.
func GetOrders(ctx context.Context, exec Executor, multisig ton.AccountID, from, to int64) ([]Order, error) {
	seqnos, err := OrderSeqnos(from, to)
	if err != nil {
		return nil, err
	}
	mapper := iter.Mapper[int64, Order]{MaxGoroutines: ordersFetchConcurrency}
	return mapper.MapErr(seqnos, func(seqno *int64) (Order, error) {
		address, err := GetOrderAddressBySeqno(ctx, exec, multisig, *seqno)
		if err != nil {
			return Order{}, err
		}
		order, err := GetOrderConfig(ctx, exec, address)
		if err != nil {
			return Order{}, errors.Wrapf(err, "order %d", *seqno)
		}
		return order, nil
	})
}

// MultisigDataResult builds the get_multisig_data result for cfg, as returned by the multisig contract.
func MultisigDataResult(cfg Configuration) (tlb.VmStack, error) {
	signers := boc.NewCell()
	if err := storeAddressDict(signers, cfg.Signers); err != nil {
		return nil, err
	}
	proposers := nullValue()
	if len(cfg.Proposers) > 0 {
		c := boc.NewCell()
		if err := storeAddressDict(c, cfg.Proposers); err != nil {
			return nil, err
		}
		proposers = cellValue(c)
	}
	return tlb.VmStack{
		intValue(cfg.NextOrderSeqno),
		intValue(int64(cfg.Threshold)),
		cellValue(signers),
		proposers,
	}, nil
}

// OrderDataResult builds the get_order_data result for o, as returned by the order contract.
func OrderDataResult(o Order) (tlb.VmStack, error) {
	address, err := addressValue(o.MultisigAddress)
	if err != nil {
		return nil, err
	}
	stack := tlb.VmStack{address, intValue(o.OrderSeqno)}
	if !o.Inited {
		for i := 0; i < 7; i++ {
			stack = append(stack, nullValue())
		}
		return stack, nil
	}
	signers := boc.NewCell()
	if err := storeAddressDict(signers, o.Signers); err != nil {
		return nil, err
	}
	actions, err := encodeOrderActions(o.Actions)
	if err != nil {
		return nil, err
	}
	executed := int64(0)
	if o.Executed {
		executed = -1
	}
	return append(stack,
		intValue(int64(o.Threshold)),
		intValue(executed),
		cellValue(signers),
		bigIntValue(o.ApprovalsMask.BigInt()),
		intValue(int64(o.ApprovalsNum)),
		intValue(o.ExpirationDate),
		cellValue(actions),
	), nil
}

// OrderAddressResult builds the get_order_address result.
func OrderAddressResult(address ton.AccountID) (tlb.VmStack, error) {
	v, err := addressValue(address)
	if err != nil {
		return nil, err
	}
	return tlb.VmStack{v}, nil
}

func addressValue(account ton.AccountID) (tlb.VmStackValue, error) {
	return tlb.TlbStructToVmCellSlice(account.ToMsgAddress())
}

func nullValue() tlb.VmStackValue {
	return tlb.VmStackValue{SumType: "VmStkNull"}
}

func intValue(v int64) tlb.VmStackValue {
	return tlb.VmStackValue{SumType: "VmStkTinyInt", VmStkTinyInt: v}
}

func bigIntValue(v *big.Int) tlb.VmStackValue {
	if v.IsInt64() {
		return intValue(v.Int64())
	}
	return tlb.VmStackValue{SumType: "VmStkInt", VmStkInt: tlb.Int257(*v)}
}

func cellValue(c *boc.Cell) tlb.VmStackValue {
	return tlb.VmStackValue{SumType: "VmStkCell", VmStkCell: tlb.Ref[boc.Cell]{Value: *c}}
}

func stackBigInt(v tlb.VmStackValue) (*big.Int, error) {
	switch v.SumType {
	case "VmStkTinyInt":
		return big.NewInt(v.VmStkTinyInt), nil
	case "VmStkInt":
		i := big.Int(v.VmStkInt)
		return &i, nil
	}
	return nil, malformed("expected an integer on the stack, got %v", v.SumType)
}

func stackInt64(v tlb.VmStackValue) (int64, error) {
	i, err := stackBigInt(v)
	if err != nil {
		return 0, err
	}
	if !i.IsInt64() {
		return 0, malformed("stack integer %v overflows int64", i)
	}
	return i.Int64(), nil
}

func stackAddress(v tlb.VmStackValue) (ton.AccountID, error) {
	if v.SumType != "VmStkSlice" {
		return ton.AccountID{}, malformed("expected an address slice on the stack, got %v", v.SumType)
	}
	var addr tlb.MsgAddress
	if err := v.VmStkSlice.UnmarshalToTlbStruct(&addr); err != nil {
		return ton.AccountID{}, malformedErr(err, "address slice")
	}
	account, err := ton.AccountIDFromTlb(addr)
	if err != nil {
		return ton.AccountID{}, malformedErr(err, "address slice")
	}
	if account == nil {
		return ton.AccountID{}, malformed("address is addr_none")
	}
	return *account, nil
}

// stackCell returns nil for a null stack entry.
func stackCell(v tlb.VmStackValue) (*boc.Cell, error) {
	switch v.SumType {
	case "VmStkNull":
		return nil, nil
	case "VmStkCell":
		c := v.VmStkCell.Value
		c.ResetCounters()
		return &c, nil
	}
	return nil, malformed("expected a cell on the stack, got %v", v.SumType)
}
