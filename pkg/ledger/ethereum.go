package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"

	"github.com/pulseworks/pulse/pkg/types"
)

// EthereumClient submits actions as signed transactions over JSON-RPC and
// waits for the mined receipt. It performs no retries.
type EthereumClient struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *slog.Logger
}

// DialEthereum connects to rpcURL and derives the sender from privKeyHex.
func DialEthereum(ctx context.Context, rpcURL, privKeyHex string) (*EthereumClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return &EthereumClient{
		client:  client,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		logger:  slog.Default().With("component", "ledger"),
	}, nil
}

// Submit implements Client. A transaction that mines with a failed status is
// reported as an unsuccessful receipt, not an error; errors are reserved for
// submissions that never reached terminal status.
func (c *EthereumClient) Submit(ctx context.Context, action types.ActionType, p map[string]any) (*Receipt, error) {
	to, value, data, err := c.buildCall(action, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrLedger, err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", types.ErrLedger, err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %v", types.ErrLedger, err)
	}
	gasLimit := uint64(21000)
	if len(data) > 0 {
		gasLimit, err = c.client.EstimateGas(ctx, ethereumCallMsg(c.from, to, value, data))
		if err != nil {
			return nil, fmt.Errorf("%w: estimate gas: %v", types.ErrLedger, err)
		}
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", types.ErrLedger, err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%w: send: %v", types.ErrLedger, err)
	}

	c.logger.Info("transaction submitted",
		"action", string(action), "tx", signed.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, c.client, signed)
	if err != nil {
		return nil, fmt.Errorf("%w: wait mined %s: %v", types.ErrLedger, signed.Hash().Hex(), err)
	}
	return &Receipt{
		Success:      receipt.Status == ethtypes.ReceiptStatusSuccessful,
		ResourceUsed: receipt.GasUsed,
		Reference:    signed.Hash().Hex(),
	}, nil
}

// BalanceOf reads the current ether balance of an address, for condition
// trigger expressions.
func (c *EthereumClient) BalanceOf(ctx context.Context, address string) (float64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("invalid address %q", address)
	}
	wei, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: balance of %s: %v", types.ErrLedger, address, err)
	}
	ether, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether)).Float64()
	return ether, nil
}

// buildCall maps an action to destination, value and calldata.
// TRANSFER is a plain value transfer; everything else targets a contract
// with calldata from params.
func (c *EthereumClient) buildCall(action types.ActionType, p map[string]any) (common.Address, *big.Int, []byte, error) {
	switch action {
	case types.ActionTransfer:
		recipient, ok := p["recipient"].(string)
		if !ok || !common.IsHexAddress(recipient) {
			return common.Address{}, nil, nil, fmt.Errorf("invalid recipient %v", p["recipient"])
		}
		amount, ok := toFloat(p["amount"])
		if !ok || amount <= 0 {
			return common.Address{}, nil, nil, fmt.Errorf("invalid amount %v", p["amount"])
		}
		return common.HexToAddress(recipient), etherToWei(amount), nil, nil
	default:
		contract, ok := p["contract"].(string)
		if !ok || !common.IsHexAddress(contract) {
			return common.Address{}, nil, nil, fmt.Errorf("action %s: contract address required", action)
		}
		var data []byte
		if raw, ok := p["calldata"].(string); ok && raw != "" {
			var err error
			data, err = hex.DecodeString(strings.TrimPrefix(raw, "0x"))
			if err != nil {
				return common.Address{}, nil, nil, fmt.Errorf("action %s: bad calldata: %w", action, err)
			}
		}
		value := new(big.Int)
		if amount, ok := toFloat(p["amount"]); ok && amount > 0 {
			value = etherToWei(amount)
		}
		return common.HexToAddress(contract), value, data, nil
	}
}

// etherToWei converts a decimal ether amount without losing precision to
// float rounding beyond 1 gwei granularity.
func etherToWei(amount float64) *big.Int {
	gwei := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(params.GWei))
	i, _ := gwei.Int(nil)
	return i.Mul(i, big.NewInt(params.GWei))
}

func ethereumCallMsg(from, to common.Address, value *big.Int, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

var _ Client = (*EthereumClient)(nil)
