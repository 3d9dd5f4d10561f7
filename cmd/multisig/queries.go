package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"github.com/tonkeeper/tongo/ton"

	"github.com/arnac-io/tonmultisig/pkg/litestorage"
	"github.com/arnac-io/tonmultisig/pkg/multisig"
	"github.com/arnac-io/tonmultisig/pkg/tons"
)

func multisigCmd(storageOpts []litestorage.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "multisig <address>",
		Short: "Print the configuration of a deployed multisig",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ton.ParseAccountID(args[0])
			if err != nil {
				return err
			}
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			storage, err := e.storage(storageOpts)
			if err != nil {
				return err
			}
			defer storage.Close()
			cfg, err := storage.GetMultisig(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := newOutput(cmd)
			out.add("threshold", cfg.Threshold)
			out.add("signers_num", len(cfg.Signers))
			if cfg.AllowArbitrarySeqno {
				out.add("next_order_seqno", "arbitrary")
			} else {
				out.add("next_order_seqno", cfg.NextOrderSeqno)
			}
			for i, s := range cfg.Signers {
				out.add(fmt.Sprintf("signer[%d]", i), s.ToRaw())
			}
			for i, p := range cfg.Proposers {
				out.add(fmt.Sprintf("proposer[%d]", i), p.ToRaw())
			}
			return out.flush(cmd.OutOrStdout())
		},
	}
}

func orderCmd(storageOpts []litestorage.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "order <address>",
		Short: "Print the state of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ton.ParseAccountID(args[0])
			if err != nil {
				return err
			}
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			storage, err := e.storage(storageOpts)
			if err != nil {
				return err
			}
			defer storage.Close()
			order, err := storage.GetOrder(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := newOutput(cmd)
			out.add("multisig", order.MultisigAddress.ToRaw())
			out.add("seqno", order.OrderSeqno)
			out.add("status", order.Status(time.Now().Unix()))
			if !order.Inited {
				return out.flush(cmd.OutOrStdout())
			}
			out.add("approvals", fmt.Sprintf("%d/%d", order.ApprovalsNum, order.Threshold))
			for i, approved := range order.Approvals() {
				out.add(fmt.Sprintf("signer[%d]", i), fmt.Sprintf("%v approved=%v", order.Signers[i].ToRaw(), approved))
			}
			out.add("expiration_date", time.Unix(order.ExpirationDate, 0).UTC().Format(time.RFC3339))
			for i, a := range order.Actions {
				if a.UpdateParams != nil {
					out.add(fmt.Sprintf("action[%d]", i), fmt.Sprintf("update params threshold=%d signers=%d proposers=%d",
						a.UpdateParams.Threshold, len(a.UpdateParams.Signers), len(a.UpdateParams.Proposers)))
					continue
				}
				line := fmt.Sprintf("send %v TON to %v mode=%d", tons.String(a.Amount), a.Destination.ToRaw(), a.Mode)
				if a.Payload != nil {
					if text, err := multisig.ParseComment(a.Payload); err == nil {
						line += fmt.Sprintf(" comment=%q", text)
					}
				}
				out.add(fmt.Sprintf("action[%d]", i), line)
			}
			return out.flush(cmd.OutOrStdout())
		},
	}
}

func orderAddressCmd(storageOpts []litestorage.Option) *cobra.Command {
	return &cobra.Command{
		Use:   "order-address <multisig> <seqno>",
		Short: "Ask a multisig for the address of an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ton.ParseAccountID(args[0])
			if err != nil {
				return err
			}
			seqno, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return errors.Wrap(err, "seqno")
			}
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			storage, err := e.storage(storageOpts)
			if err != nil {
				return err
			}
			defer storage.Close()
			address, err := storage.GetOrderAddress(cmd.Context(), id, seqno)
			if err != nil {
				return err
			}
			out := newOutput(cmd)
			out.add("order_address", address.ToRaw())
			return out.flush(cmd.OutOrStdout())
		},
	}
}
