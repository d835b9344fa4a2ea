package blockchain

import (
	"context"
	"fmt"
	"log"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

// PayoutClient pays rewards on-chain by transferring lamports from the
// server wallet to the winner's wallet. It implements the settlement
// service's ValueTransfer interface.
type PayoutClient struct {
	rpcClient    *rpc.Client
	network      string
	serverWallet *solana.Wallet
}

// NewPayoutClient creates a payout client for the given Solana network
func NewPayoutClient(network, privateKey string) (*PayoutClient, error) {
	var rpcURL string
	switch network {
	case "mainnet-beta":
		rpcURL = "https://api.mainnet-beta.solana.com"
	case "devnet":
		rpcURL = "https://api.devnet.solana.com"
	case "testnet":
		rpcURL = "https://api.testnet.solana.com"
	default:
		rpcURL = "https://api.devnet.solana.com"
	}

	wallet, err := solana.WalletFromPrivateKeyBase58(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load server wallet: %w", err)
	}

	log.Printf("Payout wallet loaded: %s (%s)", wallet.PublicKey(), network)

	return &PayoutClient{
		rpcClient:    rpc.New(rpcURL),
		network:      network,
		serverWallet: wallet,
	}, nil
}

// Transfer sends amount lamports to the recipient wallet and returns the
// transaction signature.
func (p *PayoutClient) Transfer(ctx context.Context, userID uint, walletAddress string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}

	recipient, err := solana.PublicKeyFromBase58(walletAddress)
	if err != nil {
		return "", fmt.Errorf("invalid recipient wallet: %w", err)
	}

	recent, err := p.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(
				uint64(amount),
				p.serverWallet.PublicKey(),
				recipient,
			).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(p.serverWallet.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(p.serverWallet.PublicKey()) {
			pk := p.serverWallet.PrivateKey
			return &pk
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := p.rpcClient.SendTransactionWithOpts(
		ctx,
		tx,
		rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	log.Printf("[Payout] Sent %d lamports to %s for user %d: %s", amount, walletAddress, userID, sig)
	return sig.String(), nil
}
