package main

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/spf13/cobra"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"github.com/arnac-io/tonmultisig/pkg/app"
	"github.com/arnac-io/tonmultisig/pkg/config"
	"github.com/arnac-io/tonmultisig/pkg/litestorage"
	"github.com/arnac-io/tonmultisig/pkg/multisig"
)

const (
	fileFlag      = "file"
	multisigFlag  = "multisig"
	orderFlag     = "order"
	actorFlag     = "actor"
	toFlag        = "to"
	amountFlag    = "amount"
	commentFlag   = "comment"
	seqnoFlag     = "seqno"
	expiresInFlag = "expires-in"
	jsonFlag      = "json"
)

// rootCmd builds the command tree, storageOpts are appended to the options of every lite storage it opens.
func rootCmd(storageOpts ...litestorage.Option) *cobra.Command {
	root := &cobra.Command{
		Use:          "multisig",
		Short:        "Build and inspect multisig v2 messages",
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool(jsonFlag, false, "print the result as a JSON object")
	root.AddCommand(addressCmd())
	root.AddCommand(deployCmd())
	root.AddCommand(newOrderCmd(storageOpts))
	root.AddCommand(approveCmd(storageOpts))
	root.AddCommand(multisigCmd(storageOpts))
	root.AddCommand(orderCmd(storageOpts))
	root.AddCommand(orderAddressCmd(storageOpts))
	return root
}

// env is what every command needs: the configuration, a logger and the payload builder.
type env struct {
	cfg     config.Config
	log     *zap.Logger
	builder *multisig.Builder
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	asJSON, _ := cmd.Flags().GetBool(jsonFlag)
	log := newLogger(cfg.App.LogLevel, asJSON)
	multisigCode, orderCode, err := cfg.Code()
	if err != nil {
		return nil, err
	}
	builder, err := multisig.NewBuilder(multisigCode, orderCode, multisig.WithWorkchain(cfg.Contracts.Workchain))
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, builder: builder}, nil
}

// newLogger writes JSON lines when the output is JSON too, logs go to stderr either way.
func newLogger(level string, asJSON bool) *zap.Logger {
	if asJSON {
		return app.Logger(level)
	}
	return app.ConsoleLogger(level)
}

func (e *env) storage(extra []litestorage.Option) (*litestorage.LiteStorage, error) {
	opts := []litestorage.Option{
		litestorage.WithLiteServers(e.cfg.Lite.Servers),
		litestorage.WithCacheSize(e.cfg.Lite.CacheSize),
		litestorage.WithRetry(e.cfg.Lite.MaxAttempts, e.cfg.Lite.RetryDelay),
		litestorage.WithConfigTTL(e.cfg.Lite.ConfigTTL),
		litestorage.WithRateLimit(e.cfg.Lite.RateLimit),
	}
	return litestorage.NewLiteStorage(e.log, append(opts, extra...)...)
}

func accountFlag(cmd *cobra.Command, name string) (ton.AccountID, error) {
	s, err := cmd.Flags().GetString(name)
	if err != nil {
		return ton.AccountID{}, err
	}
	if s == "" {
		return ton.AccountID{}, errors.Errorf("--%v is required", name)
	}
	id, err := ton.ParseAccountID(s)
	if err != nil {
		return ton.AccountID{}, errors.Wrapf(err, "--%v", name)
	}
	return id, nil
}

// output collects the fields a command prints and writes them as key: value lines or as a JSON object.
type output struct {
	json   bool
	keys   []string
	values []string
}

func newOutput(cmd *cobra.Command) *output {
	asJSON, _ := cmd.Flags().GetBool(jsonFlag)
	return &output{json: asJSON}
}

func (o *output) add(key string, value any) {
	o.keys = append(o.keys, key)
	o.values = append(o.values, fmt.Sprint(value))
}

// addBoc adds a cell as a base64 BOC.
func (o *output) addBoc(key string, c *boc.Cell) error {
	raw, err := c.ToBoc()
	if err != nil {
		return errors.Wrap(err, key)
	}
	o.add(key, base64.StdEncoding.EncodeToString(raw))
	return nil
}

func (o *output) flush(w io.Writer) error {
	if o.json {
		var e jx.Encoder
		e.SetIdent(2)
		e.ObjStart()
		for i, key := range o.keys {
			e.FieldStart(key)
			e.Str(o.values[i])
		}
		e.ObjEnd()
		_, err := w.Write(append(e.Bytes(), '\n'))
		return err
	}
	for i, key := range o.keys {
		if _, err := fmt.Fprintf(w, "%v: %v\n", key, o.values[i]); err != nil {
			return err
		}
	}
	return nil
}
