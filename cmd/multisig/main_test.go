package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap/zapcore"

	"github.com/arnac-io/tonmultisig/pkg/config"
	"github.com/arnac-io/tonmultisig/pkg/litestorage"
	"github.com/arnac-io/tonmultisig/pkg/multisig"
	"github.com/arnac-io/tonmultisig/pkg/sandbox"
)

func codeHex(t *testing.T, tag uint64) string {
	c := boc.NewCell()
	require.NoError(t, c.WriteUint(tag, 32))
	raw, err := c.ToBoc()
	require.NoError(t, err)
	return hex.EncodeToString(raw)
}

func signer(i int) ton.AccountID {
	var id ton.AccountID
	id.Address[0] = byte(i)
	id.Address[1] = 0x5c
	return id
}

// run executes the command line and returns its key: value output.
func run(t *testing.T, ledger *sandbox.Ledger, args ...string) map[string]string {
	var out bytes.Buffer
	root := rootCmd(litestorage.WithExecutor(ledger))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute(), out.String())
	fields := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		key, value, ok := strings.Cut(line, ": ")
		require.True(t, ok, line)
		fields[key] = value
	}
	return fields
}

func decodeBody(t *testing.T, s string) *boc.Cell {
	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	c, err := multisig.DecodeBoc(raw)
	require.NoError(t, err)
	return c
}

func TestCLI_Scenario(t *testing.T) {
	multisigCode, orderCode := codeHex(t, 1), codeHex(t, 2)
	t.Setenv("MULTISIG_CODE", multisigCode)
	t.Setenv("ORDER_CODE", orderCode)
	t.Setenv("LOG_LEVEL", "ERROR")

	mc, err := config.DecodeCode(multisigCode)
	require.NoError(t, err)
	oc, err := config.DecodeCode(orderCode)
	require.NoError(t, err)
	builder, err := multisig.NewBuilder(mc, oc)
	require.NoError(t, err)
	ledger := sandbox.New(builder)

	path := filepath.Join(t.TempDir(), "multisig.yaml")
	file := "threshold: 2\nsigners:\n  - " + signer(1).ToRaw() + "\n  - " + signer(2).ToRaw() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(file), 0o600))

	address := run(t, ledger, "address", "--file", path)["address"]
	deploy := run(t, ledger, "deploy", "--file", path)
	require.Equal(t, address, deploy["address"])

	cfg, err := config.LoadMultisigFile(path)
	require.NoError(t, err)
	payload, err := builder.BuildDeployMultisigPayload(cfg)
	require.NoError(t, err)
	require.Equal(t, payload.Address.ToRaw(), address)
	require.NoError(t, ledger.Deploy(signer(1), payload, 5_000_000_000))

	info := run(t, ledger, "multisig", address)
	require.Equal(t, "2", info["threshold"])
	require.Equal(t, "0", info["next_order_seqno"])
	require.Equal(t, signer(2).ToRaw(), info["signer[1]"])

	created := run(t, ledger, "new-order",
		"--multisig", address,
		"--actor", signer(1).ToRaw(),
		"--to", signer(9).ToRaw(),
		"--amount", "1.25",
		"--comment", "rent")
	require.Equal(t, address, created["send_to"])
	require.Equal(t, "0", created["seqno"])
	require.NoError(t, ledger.Send(signer(1), payload.Address, 0, decodeBody(t, created["body"])))

	require.Equal(t, created["order_address"], run(t, ledger, "order-address", address, "0")["order_address"])

	order := run(t, ledger, "order", created["order_address"])
	require.Equal(t, "pending", order["status"])
	require.Equal(t, "1/2", order["approvals"])
	require.Contains(t, order["action[0]"], `send 1.25 TON`)
	require.Contains(t, order["action[0]"], `comment="rent"`)

	approval := run(t, ledger, "approve", "--order", created["order_address"], "--actor", signer(2).ToRaw())
	require.Equal(t, "1", approval["signer_index"])
	orderID, err := ton.ParseAccountID(created["order_address"])
	require.NoError(t, err)
	require.NoError(t, ledger.Send(signer(2), orderID, 0, decodeBody(t, approval["body"])))

	order = run(t, ledger, "order", created["order_address"])
	require.Equal(t, "executed", order["status"])
	balance, err := ledger.Balance(signer(9))
	require.NoError(t, err)
	require.Equal(t, uint64(1_250_000_000), balance)
}

func TestCLI_JSONOutput(t *testing.T) {
	t.Setenv("MULTISIG_CODE", codeHex(t, 1))
	t.Setenv("ORDER_CODE", codeHex(t, 2))
	path := filepath.Join(t.TempDir(), "multisig.toml")
	require.NoError(t, os.WriteFile(path, []byte("threshold = 1\nsigners = [\""+signer(1).ToRaw()+"\"]\n"), 0o600))

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"deploy", "--json", "--file", path})
	require.NoError(t, root.Execute())

	var fields map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &fields))
	require.Len(t, fields, 3)
	require.NotEmpty(t, fields["state_init"])
	decodeBody(t, fields["body"])
}

func TestCLI_Errors(t *testing.T) {
	t.Setenv("MULTISIG_CODE", codeHex(t, 1))
	t.Setenv("ORDER_CODE", "")

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing code", args: []string{"address", "--file", "multisig.yaml"}},
		{name: "missing file flag", args: []string{"deploy"}},
		{name: "bad seqno", args: []string{"order-address", signer(1).ToRaw(), "x"}},
		{name: "bad address", args: []string{"multisig", "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := rootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)
			require.Error(t, root.Execute())
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, asJSON := range []bool{false, true} {
		log := newLogger("WARN", asJSON)
		require.True(t, log.Core().Enabled(zapcore.WarnLevel))
		require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	}
	require.True(t, newLogger("debug", true).Core().Enabled(zapcore.DebugLevel))
}
