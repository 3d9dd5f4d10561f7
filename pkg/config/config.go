package config

import (
	"log"
	"reflect"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-faster/errors"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/config"
)

type Config struct {
	App struct {
		LogLevel  string `env:"LOG_LEVEL" envDefault:"INFO"`
		SentryDSN string `env:"SENTRY_DSN"`
	}
	Lite struct {
		// Servers is a comma separated list of ip:port:base64key, the public mainnet config is used when empty.
		Servers     liteServers   `env:"LITE_SERVERS"`
		CacheSize   int           `env:"ORDER_ADDRESS_CACHE_SIZE" envDefault:"4096"`
		MaxAttempts uint          `env:"LITE_MAX_ATTEMPTS" envDefault:"5"`
		RetryDelay  time.Duration `env:"LITE_RETRY_DELAY" envDefault:"100ms"`
		RateLimit   uint64        `env:"LITE_RATE_LIMIT" envDefault:"0"`
		// ConfigTTL enables caching of multisig configurations when positive.
		ConfigTTL time.Duration `env:"MULTISIG_CONFIG_TTL" envDefault:"0s"`
	}
	Contracts struct {
		// MultisigCode and OrderCode are the code cells of the contracts as a hex or base64 BOC.
		MultisigCode string `env:"MULTISIG_CODE"`
		OrderCode    string `env:"ORDER_CODE"`
		Workchain    int32  `env:"WORKCHAIN" envDefault:"0"`
	}
}

type liteServers []config.LiteServer

var ErrNoContractCode = errors.New("contract code is not configured")

func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Panicf("[‼️  Config parsing failed] %+v\n", err)
	}
	return c
}

// Parse reads the configuration from the environment.
func Parse() (Config, error) {
	var c Config
	if err := env.ParseWithFuncs(&c, map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(liteServers{}): func(v string) (interface{}, error) {
			servers, err := config.ParseLiteServersEnvVar(v)
			if err != nil {
				return nil, err
			}
			return liteServers(servers), nil
		}}); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Code decodes the configured multisig and order code cells.
func (c Config) Code() (multisigCode, orderCode *boc.Cell, err error) {
	if c.Contracts.MultisigCode == "" || c.Contracts.OrderCode == "" {
		return nil, nil, errors.Wrap(ErrNoContractCode, "MULTISIG_CODE and ORDER_CODE are required")
	}
	if multisigCode, err = DecodeCode(c.Contracts.MultisigCode); err != nil {
		return nil, nil, errors.Wrap(err, "MULTISIG_CODE")
	}
	if orderCode, err = DecodeCode(c.Contracts.OrderCode); err != nil {
		return nil, nil, errors.Wrap(err, "ORDER_CODE")
	}
	return multisigCode, orderCode, nil
}

// DecodeCode decodes a single-root BOC given in hex or in base64.
func DecodeCode(s string) (*boc.Cell, error) {
	cells, err := boc.DeserializeBocHex(s)
	if err != nil {
		if cells, err = boc.DeserializeBocBase64(s); err != nil {
			return nil, errors.Wrap(err, "neither a hex nor a base64 boc")
		}
	}
	if len(cells) != 1 {
		return nil, errors.Errorf("boc has %d roots, expected one", len(cells))
	}
	return cells[0], nil
}
