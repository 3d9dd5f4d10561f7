package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-faster/errors"
	"github.com/tonkeeper/tongo/ton"
	"gopkg.in/yaml.v3"

	"github.com/arnac-io/tonmultisig/pkg/multisig"
)

// MultisigFile describes a multisig to deploy.
type MultisigFile struct {
	Threshold           int      `yaml:"threshold" toml:"threshold"`
	Signers             []string `yaml:"signers" toml:"signers"`
	Proposers           []string `yaml:"proposers" toml:"proposers"`
	AllowArbitrarySeqno bool     `yaml:"allow_arbitrary_seqno" toml:"allow_arbitrary_seqno"`
}

// LoadMultisigFile reads a YAML or TOML multisig description, the format is chosen by the file extension.
func LoadMultisigFile(path string) (multisig.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return multisig.Configuration{}, err
	}
	return ParseMultisigFile(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

func ParseMultisigFile(data []byte, format string) (multisig.Configuration, error) {
	var f MultisigFile
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return multisig.Configuration{}, errors.Wrap(err, "decode yaml")
		}
	case "toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return multisig.Configuration{}, errors.Wrap(err, "decode toml")
		}
	default:
		return multisig.Configuration{}, errors.Errorf("unsupported multisig file format %q", format)
	}
	return f.Configuration()
}

// Configuration converts the description into a validated configuration.
func (f MultisigFile) Configuration() (multisig.Configuration, error) {
	signers, err := parseAccounts(f.Signers)
	if err != nil {
		return multisig.Configuration{}, errors.Wrap(err, "signers")
	}
	proposers, err := parseAccounts(f.Proposers)
	if err != nil {
		return multisig.Configuration{}, errors.Wrap(err, "proposers")
	}
	cfg := multisig.NewConfiguration(f.Threshold, signers, proposers, f.AllowArbitrarySeqno)
	if err := cfg.Validate(); err != nil {
		return multisig.Configuration{}, err
	}
	return cfg, nil
}

func parseAccounts(list []string) ([]ton.AccountID, error) {
	var accounts []ton.AccountID
	for _, s := range list {
		a, err := ton.ParseAccountID(strings.TrimSpace(s))
		if err != nil {
			return nil, errors.Wrapf(err, "parse %q", s)
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}
