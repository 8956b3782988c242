package sho

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ERC-20 Transfer(address,address,uint256) event topic.
var transferEventTopic = common.HexToHash(
	"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// transfer(address,uint256) calldata selector, for pending transactions.
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// Verification is the outcome of one on-chain payment check. Valid and
// Confirmed are independent: a pending transaction can be valid but
// unconfirmed, which is the optimistic-delivery case.
type Verification struct {
	Valid     bool
	Confirmed bool
	Reason    string
}

// ChainClient verifies USDC transfers directly over JSON-RPC for the legacy
// payment form, where no facilitator is in the loop.
type ChainClient struct {
	rpc       *rpc.Client
	usdc      common.Address
	recipient common.Address
	timeout   time.Duration
}

// NewChainClient dials the chain RPC endpoint.
func NewChainClient(rpcURL, usdcContract, paymentAddress string) (*ChainClient, error) {
	if !common.IsHexAddress(usdcContract) {
		return nil, fmt.Errorf("bad USDC contract address %q", usdcContract)
	}
	if !common.IsHexAddress(paymentAddress) {
		return nil, fmt.Errorf("bad payment address %q", paymentAddress)
	}
	client, err := rpc.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return &ChainClient{
		rpc:       client,
		usdc:      common.HexToAddress(usdcContract),
		recipient: common.HexToAddress(paymentAddress),
		timeout:   10 * time.Second,
	}, nil
}

type txReceipt struct {
	Status hexutil.Uint64 `json:"status"`
	Logs   []receiptLog   `json:"logs"`
}

type receiptLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

type txByHash struct {
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
}

// VerifyTransfer checks that txHash pays at least expectedAtomic USDC units
// to the configured recipient. A mined transaction is checked through its
// Transfer event log; an unmined one through its calldata.
func (c *ChainClient) VerifyTransfer(ctx context.Context, txHash string, expectedAtomic *big.Int) (Verification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if !strings.HasPrefix(txHash, "0x") || len(txHash) != 66 {
		return Verification{Reason: "malformed_tx_hash"}, nil
	}
	hash := common.HexToHash(txHash)

	var receipt *txReceipt
	if err := c.rpc.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return Verification{}, fmt.Errorf("eth_getTransactionReceipt: %w", err)
	}
	if receipt == nil {
		return c.verifyPending(ctx, hash, expectedAtomic)
	}

	if receipt.Status != 1 {
		return Verification{Confirmed: true, Reason: "transaction_reverted"}, nil
	}
	for _, entry := range receipt.Logs {
		if entry.Address != c.usdc || len(entry.Topics) < 3 || entry.Topics[0] != transferEventTopic {
			continue
		}
		if common.BytesToAddress(entry.Topics[2].Bytes()) != c.recipient {
			continue
		}
		amount := new(big.Int).SetBytes(entry.Data)
		if amount.Cmp(expectedAtomic) >= 0 {
			return Verification{Valid: true, Confirmed: true}, nil
		}
		return Verification{Confirmed: true, Reason: "insufficient_amount"}, nil
	}
	return Verification{Confirmed: true, Reason: "no_usdc_transfer_found"}, nil
}

// verifyPending inspects an unmined transaction's calldata for optimistic
// delivery.
func (c *ChainClient) verifyPending(ctx context.Context, hash common.Hash, expectedAtomic *big.Int) (Verification, error) {
	var tx *txByHash
	if err := c.rpc.CallContext(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return Verification{}, fmt.Errorf("eth_getTransactionByHash: %w", err)
	}
	if tx == nil {
		return Verification{Reason: "transaction_not_found"}, nil
	}
	if tx.To == nil || *tx.To != c.usdc {
		return Verification{Reason: "not_usdc_contract"}, nil
	}

	// transfer calldata: 4-byte selector, 32-byte recipient, 32-byte amount.
	input := []byte(tx.Input)
	if len(input) < 68 || !bytes.Equal(input[:4], transferSelector) {
		return Verification{Reason: "not_transfer_call"}, nil
	}
	if common.BytesToAddress(input[4:36]) != c.recipient {
		return Verification{Reason: "wrong_recipient"}, nil
	}
	amount := new(big.Int).SetBytes(input[36:68])
	if amount.Cmp(expectedAtomic) < 0 {
		return Verification{Reason: "insufficient_amount"}, nil
	}
	return Verification{Valid: true, Confirmed: false}, nil
}
