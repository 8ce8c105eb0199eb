package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"
)

// deployCommand deploys the coinflip contract from compiled bytecode.
func deployCommand() *cli.Command {
	return &cli.Command{
		Name:      "deploy",
		Usage:     "Deploy the coinflip contract",
		ArgsUsage: "BYTECODE_FILE",
		Description: `Deploy the compiled coinflip contract to the configured chain.

The bytecode file holds the hex-encoded creation bytecode (with or without
a 0x prefix), as produced by the contract build.

Example:
  flipctl deploy build/CoinFlip.bin --rpc-url http://localhost:8545 --fund 1.0`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Chain RPC endpoint",
				EnvVars: []string{"ETH_RPC_URL"},
				Value:   "http://localhost:8545",
			},
			&cli.StringFlag{
				Name:     "private-key",
				Usage:    "Hex-encoded deployer private key",
				EnvVars:  []string{"WALLET_PRIVATE_KEY"},
				Required: true,
			},
			&cli.Int64Flag{
				Name:    "chain-id",
				Usage:   "Chain ID",
				EnvVars: []string{"CHAIN_ID"},
				Value:   31337,
			},
			&cli.StringFlag{
				Name:  "fund",
				Usage: "Ether to send with deployment to seed the payout pool (e.g. '1.0')",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the deployment to be mined",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("bytecode file is required")
			}

			raw, err := os.ReadFile(c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to read bytecode file: %w", err)
			}
			bytecode, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x"))
			if err != nil {
				return fmt.Errorf("invalid bytecode hex: %w", err)
			}

			key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(c.String("private-key")), "0x"))
			if err != nil {
				return fmt.Errorf("invalid private key: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			rpc, err := ethclient.Dial(c.String("rpc-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to chain RPC: %w", err)
			}
			defer rpc.Close()

			chainID := big.NewInt(c.Int64("chain-id"))
			auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
			if err != nil {
				return fmt.Errorf("failed to create transactor: %w", err)
			}
			auth.Context = ctx

			// Optional initial funding so the contract can pay out winners
			// from the start.
			if fund := c.String("fund"); fund != "" {
				value, ok := new(big.Rat).SetString(fund)
				if !ok {
					return fmt.Errorf("invalid fund amount %q", fund)
				}
				wei := new(big.Rat).Mul(value, big.NewRat(1e18, 1))
				if !wei.IsInt() {
					return fmt.Errorf("fund amount %q has sub-wei precision", fund)
				}
				auth.Value = wei.Num()
			}

			deployer := crypto.PubkeyToAddress(key.PublicKey)
			fmt.Printf("🚀 Deploying contract\n")
			fmt.Printf("   Deployer: %s\n", deployer.Hex())
			fmt.Printf("   Chain ID: %s\n", chainID)
			if auth.Value != nil {
				fmt.Printf("   Funding: %s wei\n", auth.Value)
			}

			nonce, err := rpc.PendingNonceAt(ctx, deployer)
			if err != nil {
				return fmt.Errorf("failed to get nonce: %w", err)
			}
			gasPrice, err := rpc.SuggestGasPrice(ctx)
			if err != nil {
				return fmt.Errorf("failed to get gas price: %w", err)
			}

			value := auth.Value
			if value == nil {
				value = new(big.Int)
			}

			gasLimit, err := rpc.EstimateGas(ctx, ethereum.CallMsg{
				From:     deployer,
				To:       nil,
				Value:    value,
				GasPrice: gasPrice,
				Data:     bytecode,
			})
			if err != nil {
				return fmt.Errorf("failed to estimate deployment gas: %w", err)
			}

			tx := types.NewContractCreation(nonce, value, gasLimit, gasPrice, bytecode)
			signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
			if err != nil {
				return fmt.Errorf("failed to sign transaction: %w", err)
			}

			if err := rpc.SendTransaction(ctx, signedTx); err != nil {
				return fmt.Errorf("failed to send transaction: %w", err)
			}

			fmt.Printf("   Tx: %s\n", signedTx.Hash().Hex())
			fmt.Printf("   Waiting for confirmation...\n")

			address, err := bind.WaitDeployed(ctx, rpc, signedTx)
			if err != nil {
				return fmt.Errorf("deployment failed: %w", err)
			}

			fmt.Printf("✓ Contract deployed at %s\n", address.Hex())
			fmt.Printf("\nSet CONTRACT_ADDRESS=%s to point the service at it.\n", address.Hex())
			return nil
		},
	}
}
