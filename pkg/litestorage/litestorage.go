package litestorage

import (
	"context"
	"time"

	"github.com/Narasimha1997/ratelimiter"
	"github.com/avast/retry-go"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc/iter"
	"github.com/tonkeeper/tongo/config"
	"github.com/tonkeeper/tongo/liteapi"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"github.com/arnac-io/tonmultisig/pkg/cache"
	"github.com/arnac-io/tonmultisig/pkg/multisig"
)

var storageTimeHistogramVec = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "litestorage_functions_time",
		Help:    "LiteStorage functions execution duration distribution in seconds",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 1, 5, 10},
	},
	[]string{"method"},
)

// orderKey identifies an order by its multisig and seqno.
type orderKey struct {
	multisig ton.AccountID
	seqno    int64
}

// LiteStorage answers multisig and order queries by running get methods through lite servers.
type LiteStorage struct {
	logger   *zap.Logger
	executor multisig.Executor
	// orderAddresses never goes stale, an order address depends only on the multisig and the seqno.
	orderAddresses *cache.LRU[orderKey, ton.AccountID]
	// configs is nil unless WithConfigTTL is set, a cached configuration may lag behind new orders.
	configs  *ttlCache[multisig.Configuration]
	attempts uint
	delay    time.Duration
	// limiter is nil unless WithRateLimit is set.
	limiter *ratelimiter.DefaultLimiter
	// maxGoroutines specifies a number of goroutines used to fetch a range of orders.
	maxGoroutines int
}

var errRateLimited = errors.New("get method rate limit reached")

type Options struct {
	servers   []config.LiteServer
	executor  multisig.Executor
	cacheSize int
	attempts  uint
	delay     time.Duration
	configTTL time.Duration
	rateLimit uint64
}

type Option func(o *Options)

func WithLiteServers(servers []config.LiteServer) Option {
	return func(o *Options) {
		o.servers = servers
	}
}

// WithExecutor runs get methods through executor instead of a lite server client.
func WithExecutor(executor multisig.Executor) Option {
	return func(o *Options) {
		o.executor = executor
	}
}

func WithCacheSize(size int) Option {
	return func(o *Options) {
		o.cacheSize = size
	}
}

// WithRetry configures how many times a failed get method is attempted and the delay between attempts.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(o *Options) {
		o.attempts = attempts
		o.delay = delay
	}
}

// WithConfigTTL caches multisig configurations for ttl.
func WithConfigTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.configTTL = ttl
	}
}

// WithRateLimit throttles get methods to roughly perSecond per second over a sliding window.
// The window is approximate, a short burst may get through before throttling starts.
// Throttled calls are retried like transport failures.
func WithRateLimit(perSecond uint64) Option {
	return func(o *Options) {
		o.rateLimit = perSecond
	}
}

func NewLiteStorage(log *zap.Logger, opts ...Option) (*LiteStorage, error) {
	o := &Options{
		cacheSize: 4096,
		attempts:  5,
		delay:     100 * time.Millisecond,
	}
	for i := range opts {
		opts[i](o)
	}
	executor := o.executor
	if executor == nil {
		var err error
		var client *liteapi.Client
		if len(o.servers) == 0 {
			log.Warn("USING PUBLIC CONFIG! BE CAREFUL!")
			client, err = liteapi.NewClientWithDefaultMainnet()
		} else {
			client, err = liteapi.NewClient(liteapi.WithLiteServers(o.servers))
		}
		if err != nil {
			return nil, err
		}
		executor = client
	}
	if o.attempts == 0 {
		o.attempts = 1
	}
	storage := &LiteStorage{
		logger:         log,
		executor:       executor,
		orderAddresses: cache.NewLRU[orderKey, ton.AccountID](o.cacheSize, "order_addresses"),
		attempts:       o.attempts,
		delay:          o.delay,
		maxGoroutines:  8,
	}
	if o.rateLimit > 0 {
		storage.limiter = ratelimiter.NewDefaultLimiter(o.rateLimit, time.Second)
	}
	if o.configTTL > 0 {
		configs, err := newTTLCache[multisig.Configuration](int64(o.cacheSize), o.configTTL)
		if err != nil {
			return nil, err
		}
		storage.configs = configs
	}
	return storage, nil
}

// Close stops the rate limiter.
func (s *LiteStorage) Close() error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Kill()
}

// RunSmcMethod runs a get method, retrying transport failures.
// A non-success exit code is a result, not a failure, and is returned as is.
func (s *LiteStorage) RunSmcMethod(ctx context.Context, id ton.AccountID, method string, stack tlb.VmStack) (uint32, tlb.VmStack, error) {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		storageTimeHistogramVec.WithLabelValues("run_smc_method").Observe(v)
	}))
	defer timer.ObserveDuration()
	var (
		exitCode uint32
		result   tlb.VmStack
	)
	err := retry.Do(func() error {
		if s.limiter != nil {
			allowed, err := s.limiter.ShouldAllow(1)
			if err != nil {
				return err
			}
			if !allowed {
				return errRateLimited
			}
		}
		var err error
		exitCode, result, err = s.executor.RunSmcMethod(ctx, id, method, stack)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug("get method failed, retrying",
				zap.String("account", id.ToRaw()),
				zap.String("method", method),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}))
	if err != nil {
		return 0, nil, err
	}
	return exitCode, result, nil
}

// GetMultisig returns the configuration of a deployed multisig.
func (s *LiteStorage) GetMultisig(ctx context.Context, id ton.AccountID) (multisig.Configuration, error) {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		storageTimeHistogramVec.WithLabelValues("get_multisig").Observe(v)
	}))
	defer timer.ObserveDuration()
	if s.configs == nil {
		return multisig.GetMultisigConfig(ctx, s, id)
	}
	cfg, err := s.configs.Get(ctx, id.ToRaw())
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrorNotFound) {
		s.logger.Warn("config cache failed", zap.String("multisig", id.ToRaw()), zap.Error(err))
	}
	if cfg, err = multisig.GetMultisigConfig(ctx, s, id); err != nil {
		return multisig.Configuration{}, err
	}
	if err := s.configs.Set(ctx, id.ToRaw(), cfg); err != nil {
		s.logger.Warn("config cache failed", zap.String("multisig", id.ToRaw()), zap.Error(err))
	}
	return cfg, nil
}

// GetOrder returns the state of an order, a not yet deployed order is reported as uninitialized.
func (s *LiteStorage) GetOrder(ctx context.Context, id ton.AccountID) (multisig.Order, error) {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		storageTimeHistogramVec.WithLabelValues("get_order").Observe(v)
	}))
	defer timer.ObserveDuration()
	return multisig.GetOrderConfig(ctx, s, id)
}

func (s *LiteStorage) GetOrderAddress(ctx context.Context, multisigID ton.AccountID, seqno int64) (ton.AccountID, error) {
	key := orderKey{multisig: multisigID, seqno: seqno}
	if address, ok := s.orderAddresses.Get(key); ok {
		return address, nil
	}
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		storageTimeHistogramVec.WithLabelValues("get_order_address").Observe(v)
	}))
	defer timer.ObserveDuration()
	address, err := multisig.GetOrderAddressBySeqno(ctx, s, multisigID, seqno)
	if err != nil {
		return ton.AccountID{}, err
	}
	s.orderAddresses.Set(key, address)
	return address, nil
}

// GetOrders returns the orders of a multisig with seqnos in [from, to], in seqno order.
func (s *LiteStorage) GetOrders(ctx context.Context, multisigID ton.AccountID, from, to int64) ([]multisig.Order, error) {
	seqnos, err := multisig.OrderSeqnos(from, to)
	if err != nil {
		return nil, err
	}
	mapper := iter.Mapper[int64, multisig.Order]{MaxGoroutines: s.maxGoroutines}
	return mapper.MapErr(seqnos, func(seqno *int64) (multisig.Order, error) {
		address, err := s.GetOrderAddress(ctx, multisigID, *seqno)
		if err != nil {
			return multisig.Order{}, err
		}
		return s.GetOrder(ctx, address)
	})
}
