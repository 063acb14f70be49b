package cmd

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/decoder"
	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <txhash>",
	Short: "Fetch a transaction and print the swap it performs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()
		hash := common.HexToHash(args[0])

		cfg, err := config.LoadConfig(cfgFile, log)
		if err != nil {
			return err
		}
		routers, err := config.LoadRegistryFile(cfg.RegistryFile)
		if err != nil {
			return err
		}
		registry, err := decoder.NewRegistryFromConfig(routers)
		if err != nil {
			return err
		}
		dec, err := decoder.New(registry, log)
		if err != nil {
			return err
		}

		client, err := ethclient.DialContext(cmd.Context(), cfg.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to node: %w", err)
		}
		defer client.Close()

		tx, pending, err := client.TransactionByHash(cmd.Context(), hash)
		if err != nil {
			return fmt.Errorf("failed to get transaction: %w", err)
		}
		from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID)), tx)
		if err != nil {
			return fmt.Errorf("failed to recover sender: %w", err)
		}

		action, err := dec.Decode(types.NewPendingTransaction(tx, from, time.Now()))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "tx:        %s (pending=%t)\n", hash.Hex(), pending)
		if action == nil {
			fmt.Fprintln(out, "not a swap on a registered router")
			return nil
		}
		fmt.Fprintf(out, "router:    %s\n", action.Router.Hex())
		fmt.Fprintf(out, "kind:      %s\n", action.Kind)
		fmt.Fprintf(out, "path:      %v\n", action.Path)
		if action.Kind.ExactInput() {
			fmt.Fprintf(out, "amountIn:  %s\n", action.AmountIn)
			fmt.Fprintf(out, "minOut:    %s\n", action.AmountOutMin)
		} else {
			fmt.Fprintf(out, "amountOut: %s\n", action.AmountOut)
			fmt.Fprintf(out, "maxIn:     %s\n", action.AmountInMax)
		}
		if action.Fee != 0 {
			fmt.Fprintf(out, "fee:       %d\n", action.Fee)
		}
		fmt.Fprintf(out, "recipient: %s\n", action.Recipient.Hex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}
