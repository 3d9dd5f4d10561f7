package config

import (
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/require"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"

	"github.com/arnac-io/tonmultisig/pkg/multisig"
)

const (
	alice = "0:0100000000000000000000000000000000000000000000000000000000000000"
	bob   = "0:0200000000000000000000000000000000000000000000000000000000000000"
	carol = "0:0300000000000000000000000000000000000000000000000000000000000000"
)

func codeBoc(t *testing.T) []byte {
	c := boc.NewCell()
	require.NoError(t, c.WriteUint(0xdeadbeef, 32))
	raw, err := c.ToBoc()
	require.NoError(t, err)
	return raw
}

func TestParse(t *testing.T) {
	raw := codeBoc(t)
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LITE_SERVERS", "127.0.0.1:4443:"+key)
	t.Setenv("MULTISIG_CODE", hex.EncodeToString(raw))
	t.Setenv("ORDER_CODE", base64.StdEncoding.EncodeToString(raw))

	c, err := Parse()
	require.NoError(t, err)
	require.Equal(t, "DEBUG", c.App.LogLevel)
	require.Equal(t, uint(5), c.Lite.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, c.Lite.RetryDelay)
	require.Zero(t, c.Lite.ConfigTTL)
	require.Len(t, c.Lite.Servers, 1)
	require.Equal(t, 4096, c.Lite.CacheSize)

	multisigCode, orderCode, err := c.Code()
	require.NoError(t, err)
	h1, err := multisigCode.Hash256()
	require.NoError(t, err)
	h2, err := orderCode.Hash256()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestConfig_CodeMissing(t *testing.T) {
	var c Config
	_, _, err := c.Code()
	require.True(t, errors.Is(err, ErrNoContractCode))

	c.Contracts.MultisigCode, c.Contracts.OrderCode = "not a boc", "not a boc"
	_, _, err = c.Code()
	require.Error(t, err)
}

func TestParseMultisigFile(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		data    string
		want    multisig.Configuration
		wantErr bool
	}{
		{
			name:   "yaml",
			format: "yaml",
			data: strings.Join([]string{
				"threshold: 2",
				"signers:",
				"  - " + alice,
				"  - " + bob,
				"proposers:",
				"  - " + carol,
			}, "\n"),
			want: multisig.NewConfiguration(2, mustAccounts(t, alice, bob), mustAccounts(t, carol), false),
		},
		{
			name:   "toml",
			format: "toml",
			data: strings.Join([]string{
				"threshold = 1",
				`signers = ["` + alice + `"]`,
				"allow_arbitrary_seqno = true",
			}, "\n"),
			want: multisig.NewConfiguration(1, mustAccounts(t, alice), nil, true),
		},
		{
			name:    "threshold above signers",
			format:  "yml",
			data:    "threshold: 3\nsigners: [\"" + alice + "\"]",
			wantErr: true,
		},
		{
			name:    "bad address",
			format:  "yaml",
			data:    "threshold: 1\nsigners: [nope]",
			wantErr: true,
		},
		{
			name:    "unknown format",
			format:  "json",
			data:    "{}",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMultisigFile([]byte(tt.data), tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLoadMultisigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multisig.toml")
	require.NoError(t, os.WriteFile(path, []byte("threshold = 1\nsigners = [\""+bob+"\"]\n"), 0o600))
	cfg, err := LoadMultisigFile(path)
	require.NoError(t, err)
	require.Equal(t, mustAccounts(t, bob), cfg.Signers)

	_, err = LoadMultisigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func mustAccounts(t *testing.T, list ...string) []ton.AccountID {
	accounts, err := parseAccounts(list)
	require.NoError(t, err)
	return accounts
}
