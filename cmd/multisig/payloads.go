package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arnac-io/tonmultisig/pkg/config"
	"github.com/arnac-io/tonmultisig/pkg/litestorage"
	"github.com/arnac-io/tonmultisig/pkg/multisig"
	"github.com/arnac-io/tonmultisig/pkg/tons"
)

func addressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the address a multisig described by a file deploys to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, cfg, err := loadMultisigFile(cmd)
			if err != nil {
				return err
			}
			address, err := e.builder.DeployAddress(cfg)
			if err != nil {
				return err
			}
			out := newOutput(cmd)
			out.add("address", address.ToRaw())
			return out.flush(cmd.OutOrStdout())
		},
	}
	cmd.Flags().String(fileFlag, "", "path to a yaml or toml multisig description")
	return cmd
}

func deployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build the deploy message of a multisig described by a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, cfg, err := loadMultisigFile(cmd)
			if err != nil {
				return err
			}
			payload, err := e.builder.BuildDeployMultisigPayload(cfg)
			if err != nil {
				return err
			}
			out := newOutput(cmd)
			out.add("address", payload.Address.ToRaw())
			if err := out.addBoc("state_init", payload.StateInit); err != nil {
				return err
			}
			if err := out.addBoc("body", payload.Body); err != nil {
				return err
			}
			return out.flush(cmd.OutOrStdout())
		},
	}
	cmd.Flags().String(fileFlag, "", "path to a yaml or toml multisig description")
	return cmd
}

func loadMultisigFile(cmd *cobra.Command) (*env, multisig.Configuration, error) {
	path, err := cmd.Flags().GetString(fileFlag)
	if err != nil {
		return nil, multisig.Configuration{}, err
	}
	if path == "" {
		return nil, multisig.Configuration{}, errors.Errorf("--%v is required", fileFlag)
	}
	e, err := loadEnv(cmd)
	if err != nil {
		return nil, multisig.Configuration{}, err
	}
	cfg, err := config.LoadMultisigFile(path)
	if err != nil {
		e.log.Error("could not load multisig file", zap.String("file", path), zap.Error(err))
		return nil, multisig.Configuration{}, err
	}
	return e, cfg, nil
}

func newOrderCmd(storageOpts []litestorage.Option) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new-order",
		Short: "Build a new_order message transferring TON from the multisig",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newOrder(cmd, storageOpts)
		},
	}
	cmd.Flags().String(multisigFlag, "", "multisig address")
	cmd.Flags().String(actorFlag, "", "signer or proposer sending the message")
	cmd.Flags().String(toFlag, "", "transfer destination")
	cmd.Flags().String(amountFlag, "", "transfer amount in TON")
	cmd.Flags().String(commentFlag, "", "optional transfer comment")
	cmd.Flags().Int64(seqnoFlag, 0, "order seqno, defaults to the next seqno of the multisig")
	cmd.Flags().Duration(expiresInFlag, 24*time.Hour, "order lifetime")
	return cmd
}

func newOrder(cmd *cobra.Command, storageOpts []litestorage.Option) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	multisigID, err := accountFlag(cmd, multisigFlag)
	if err != nil {
		return err
	}
	actor, err := accountFlag(cmd, actorFlag)
	if err != nil {
		return err
	}
	to, err := accountFlag(cmd, toFlag)
	if err != nil {
		return err
	}
	amountText, err := cmd.Flags().GetString(amountFlag)
	if err != nil {
		return err
	}
	amount, err := tons.Parse(amountText)
	if err != nil {
		return err
	}
	comment, err := cmd.Flags().GetString(commentFlag)
	if err != nil {
		return err
	}
	expiresIn, err := cmd.Flags().GetDuration(expiresInFlag)
	if err != nil {
		return err
	}
	storage, err := e.storage(storageOpts)
	if err != nil {
		return err
	}
	defer storage.Close()
	cfg, err := storage.GetMultisig(cmd.Context(), multisigID)
	if err != nil {
		e.log.Error("could not get multisig", zap.String("multisig", multisigID.ToRaw()), zap.Error(err))
		return err
	}
	seqno := cfg.NextOrderSeqno
	if cmd.Flags().Changed(seqnoFlag) {
		if seqno, err = cmd.Flags().GetInt64(seqnoFlag); err != nil {
			return err
		}
	} else if cfg.AllowArbitrarySeqno {
		return errors.Errorf("the multisig allows arbitrary seqnos, --%v is required", seqnoFlag)
	}
	action := multisig.TransferAction(to, amount)
	if comment != "" {
		if action.Payload, err = multisig.CommentPayload(comment); err != nil {
			return err
		}
	}
	now := time.Now()
	params := multisig.OrderParams{
		MultisigAddress: multisigID,
		OrderSeqno:      seqno,
		ExpirationDate:  now.Add(expiresIn).Unix(),
		QueryID:         uint64(now.Unix()),
	}
	payload, err := e.builder.BuildCreateOrderPayload(actor, params, cfg, []multisig.Action{action})
	if err != nil {
		return err
	}
	out := newOutput(cmd)
	out.add("send_to", payload.SendTo.ToRaw())
	out.add("order_address", payload.OrderAddress.ToRaw())
	out.add("seqno", seqno)
	out.add("expiration_date", params.ExpirationDate)
	if err := out.addBoc("body", payload.Body); err != nil {
		return err
	}
	return out.flush(cmd.OutOrStdout())
}

func approveCmd(storageOpts []litestorage.Option) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Build an approve message for an order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			orderID, err := accountFlag(cmd, orderFlag)
			if err != nil {
				return err
			}
			actor, err := accountFlag(cmd, actorFlag)
			if err != nil {
				return err
			}
			storage, err := e.storage(storageOpts)
			if err != nil {
				return err
			}
			defer storage.Close()
			order, err := storage.GetOrder(cmd.Context(), orderID)
			if err != nil {
				e.log.Error("could not get order", zap.String("order", orderID.ToRaw()), zap.Error(err))
				return err
			}
			if !order.Inited {
				return errors.Wrapf(multisig.ErrNotInitialized, "order %v", orderID.ToRaw())
			}
			payload, err := multisig.BuildApprovePayload(actor, order.Signers, time.Now().Unix())
			if err != nil {
				return err
			}
			out := newOutput(cmd)
			out.add("send_to", orderID.ToRaw())
			out.add("signer_index", payload.SignerIndex)
			if err := out.addBoc("body", payload.Body); err != nil {
				return err
			}
			return out.flush(cmd.OutOrStdout())
		},
	}
	cmd.Flags().String(orderFlag, "", "order address")
	cmd.Flags().String(actorFlag, "", "approving signer")
	return cmd
}
