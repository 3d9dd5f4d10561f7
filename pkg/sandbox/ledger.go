package sandbox

import (
	"context"
	"hash/maphash"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/puzpuzpuz/xsync/v2"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"github.com/arnac-io/tonmultisig/pkg/multisig"
)

// Exit codes returned by RunSmcMethod.
const (
	exitCodeOK            uint32 = 0
	exitCodeMethodUnknown uint32 = 11
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrStateInitMismatch  = errors.New("state init does not match the address")
	ErrUnsupportedMessage = errors.New("unsupported message")
)

// Kind tells which contract an account runs.
type Kind int

const (
	KindWallet Kind = iota
	KindMultisig
	KindOrder
)

func (k Kind) String() string {
	switch k {
	case KindMultisig:
		return "multisig"
	case KindOrder:
		return "order"
	}
	return "wallet"
}

// account is never modified once stored, every change stores a new value.
// Data is kept serialized because parsing a cell moves its read cursors.
type account struct {
	kind    Kind
	balance uint64
	data    []byte
}

// Message is an internal message recorded by the ledger, either sent by an executed order
// or an order's reply to an approver.
type Message struct {
	From        ton.AccountID
	To          ton.AccountID
	Amount      uint64
	Mode        uint8
	Bounce      bool
	Body        *boc.Cell
	OrderSeqno  int64
	ProcessedAt int64
}

// Ledger is an in-memory replica of the multisig and order contracts.
// It applies the messages built by multisig.Builder and answers the contracts' get methods.
// Messages are applied one at a time, get methods can run concurrently with them.
type Ledger struct {
	logger  *zap.Logger
	builder *multisig.Builder
	now     func() int64

	mu       sync.Mutex
	accounts *xsync.MapOf[ton.AccountID, account]
	sent     []Message
	replies  []Message
}

// Option configures a Ledger.
type Option func(l *Ledger)

// WithClock sets the source of the current unix time.
func WithClock(now func() int64) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New returns an empty ledger running the contracts the builder derives addresses for.
func New(builder *multisig.Builder, opts ...Option) *Ledger {
	l := &Ledger{
		logger:   zap.NewNop(),
		builder:  builder,
		now:      func() int64 { return time.Now().Unix() },
		accounts: xsync.NewTypedMapOf[ton.AccountID, account](hashAccountID),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func hashAccountID(seed maphash.Seed, id ton.AccountID) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.WriteString(id.String())
	return h.Sum64()
}

// Balance returns the balance of the account in nanotons.
func (l *Ledger) Balance(id ton.AccountID) (uint64, error) {
	acc, ok := l.accounts.Load(id)
	if !ok {
		return 0, errors.Wrapf(ErrAccountNotFound, "%v", id.ToRaw())
	}
	return acc.balance, nil
}

// Kind returns which contract the account runs.
func (l *Ledger) Kind(id ton.AccountID) (Kind, error) {
	acc, ok := l.accounts.Load(id)
	if !ok {
		return 0, errors.Wrapf(ErrAccountNotFound, "%v", id.ToRaw())
	}
	return acc.kind, nil
}

// Sent returns the messages sent by executed orders, in the order they were sent.
func (l *Ledger) Sent() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.sent...)
}

// Replies returns the answers orders sent to approvers, rejected approvals included.
func (l *Ledger) Replies() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.replies...)
}

// Deploy deploys a multisig account with value nanotons on its balance.
func (l *Ledger) Deploy(sender ton.AccountID, payload multisig.DeployPayload, value uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := l.begin()
	if err := tx.deploy(payload, value); err != nil {
		l.logger.Warn("deploy rejected",
			zap.String("sender", sender.ToRaw()),
			zap.String("address", payload.Address.ToRaw()),
			zap.Error(err))
		return err
	}
	l.commit(tx)
	l.logger.Debug("multisig deployed",
		zap.String("address", payload.Address.ToRaw()),
		zap.Uint64("value", value))
	return nil
}

// Send delivers an internal message from sender and every message it causes.
// Either all of them are applied or, on error, none.
func (l *Ledger) Send(sender, to ton.AccountID, value uint64, body *boc.Cell) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := l.begin()
	queue := []envelope{{from: sender, to: to, value: value, body: body}}
	for len(queue) > 0 {
		msg := queue[0]
		queue = queue[1:]
		next, err := tx.deliver(msg)
		if err != nil {
			l.logger.Warn("message rejected",
				zap.String("from", msg.from.ToRaw()),
				zap.String("to", msg.to.ToRaw()),
				zap.Error(err))
			l.replies = append(l.replies, tx.rejections...)
			return err
		}
		queue = append(queue, next...)
	}
	l.commit(tx)
	return nil
}

// RunSmcMethod runs a get method of a multisig or an order account.
func (l *Ledger) RunSmcMethod(ctx context.Context, id ton.AccountID, method string, params tlb.VmStack) (uint32, tlb.VmStack, error) {
	acc, ok := l.accounts.Load(id)
	if !ok {
		return 0, nil, errors.Wrapf(ErrAccountNotFound, "%v", id.ToRaw())
	}
	if acc.kind == KindWallet {
		return exitCodeMethodUnknown, nil, nil
	}
	data, err := multisig.DecodeBoc(acc.data)
	if err != nil {
		return 0, nil, err
	}
	var stack tlb.VmStack
	switch {
	case acc.kind == KindMultisig && method == multisig.MethodGetMultisigData:
		cfg, err := multisig.ParseConfiguration(data)
		if err != nil {
			return 0, nil, err
		}
		stack, err = multisig.MultisigDataResult(cfg)
		if err != nil {
			return 0, nil, err
		}
	case acc.kind == KindMultisig && method == multisig.MethodGetOrderAddress:
		if len(params) != 1 || params[0].SumType != "VmStkTinyInt" {
			return 0, nil, errors.Wrap(ErrUnsupportedMessage, "get_order_address expects a single integer")
		}
		address, err := l.builder.OrderAddress(id, params[0].VmStkTinyInt)
		if err != nil {
			return 0, nil, err
		}
		stack, err = multisig.OrderAddressResult(address)
		if err != nil {
			return 0, nil, err
		}
	case acc.kind == KindOrder && method == multisig.MethodGetOrderData:
		order, err := multisig.ParseOrder(data)
		if err != nil {
			return 0, nil, err
		}
		stack, err = multisig.OrderDataResult(order)
		if err != nil {
			return 0, nil, err
		}
	default:
		return exitCodeMethodUnknown, nil, nil
	}
	return exitCodeOK, stack, nil
}

func (l *Ledger) begin() *transaction {
	return &transaction{
		ledger:  l,
		now:     l.now(),
		changed: map[ton.AccountID]account{},
	}
}

func (l *Ledger) commit(tx *transaction) {
	for id, acc := range tx.changed {
		l.accounts.Store(id, acc)
	}
	l.sent = append(l.sent, tx.sent...)
	l.replies = append(l.replies, tx.replies...)
}
