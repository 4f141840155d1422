// Package ethereum implements the ledger port against an EVM JSON-RPC node.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"chainrelay/internal/ledger"
	"chainrelay/internal/platform/config"
	id "chainrelay/pkg/domain"
	"chainrelay/pkg/platform/circuit"
	"chainrelay/pkg/platform/sentinel"
)

// Backend is the subset of *ethclient.Client the adapter uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg goethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg goethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client is a ledger.Ledger backed by the hash-registry contract.
type Client struct {
	backend     Backend
	contract    abi.ABI
	address     common.Address
	key         *ecdsa.PrivateKey
	from        common.Address
	signer      types.Signer
	gasLimit    uint64
	callTimeout time.Duration
	breaker     *circuit.Breaker
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPrivateKey enables RegisterHash by setting the signing key (hex, with or
// without 0x). Without a key the client is read-only.
func WithPrivateKey(hexKey string) Option {
	return func(c *Client) {
		if hexKey == "" {
			return
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			c.logger.Error("invalid ledger signing key, registration disabled", "error", err)
			return
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
}

// WithGasLimit overrides the gas limit used for registrations.
func WithGasLimit(limit uint64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.gasLimit = limit
		}
	}
}

// WithCallTimeout bounds every RPC round trip.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// Dial connects to the configured node and resolves the chain id.
func Dial(ctx context.Context, cfg config.Ledger, logger *slog.Logger) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	return New(ctx, rpc, common.HexToAddress(cfg.ContractAddress), logger,
		WithPrivateKey(cfg.PrivateKey),
		WithGasLimit(cfg.GasLimit),
		WithCallTimeout(cfg.CallTimeout),
	)
}

// New builds a client over an existing backend.
func New(ctx context.Context, backend Backend, address common.Address, logger *slog.Logger, opts ...Option) (*Client, error) {
	contract, err := parseRegistryABI()
	if err != nil {
		return nil, err
	}
	c := &Client{
		backend:     backend,
		contract:    contract,
		address:     address,
		gasLimit:    100000,
		callTimeout: 15 * time.Second,
		breaker:     circuit.New("ledger-rpc"),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.key != nil {
		chainID, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve chain id: %w", err)
		}
		c.signer = types.LatestSignerForChainID(chainID)
	}
	return c, nil
}

// Registrar returns the signing address, empty when read-only.
func (c *Client) Registrar() string {
	if c.key == nil {
		return ""
	}
	return c.from.Hex()
}

func (c *Client) RegisterHash(ctx context.Context, hash id.MessageHash) (string, error) {
	const op = "register"
	if c.key == nil {
		return "", ledger.Permanent(op, errors.New("no signing key configured"))
	}
	data, err := c.contract.Pack("registerHash", hash.Bytes32())
	if err != nil {
		return "", ledger.Permanent(op, err)
	}

	var txRef string
	err = c.guard(ctx, op, func(ctx context.Context) error {
		msg := goethereum.CallMsg{From: c.from, To: &c.address, Data: data}
		// Estimation executes the call, so a duplicate surfaces as a revert
		// here instead of as a mined failure.
		if _, err := c.backend.EstimateGas(ctx, msg); err != nil {
			return err
		}
		nonce, err := c.backend.PendingNonceAt(ctx, c.from)
		if err != nil {
			return err
		}
		gasPrice, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &c.address,
			Gas:      c.gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		}), c.signer, c.key)
		if err != nil {
			return ledger.Permanent(op, err)
		}
		if err := c.backend.SendTransaction(ctx, tx); err != nil {
			return err
		}
		txRef = tx.Hash().Hex()
		return nil
	})
	if err != nil {
		return "", err
	}
	return txRef, nil
}

func (c *Client) VerifyHash(ctx context.Context, hash id.MessageHash) (bool, error) {
	var registered bool
	err := c.guard(ctx, "verify", func(ctx context.Context) error {
		out, err := c.call(ctx, "verifyHash", hash)
		if err != nil {
			return err
		}
		registered, err = unpackBool(c.contract, "verifyHash", out)
		if err != nil {
			return ledger.Permanent("verify", err)
		}
		return nil
	})
	return registered, err
}

func (c *Client) GetHashInfo(ctx context.Context, hash id.MessageHash) (*ledger.HashInfo, error) {
	var info *ledger.HashInfo
	err := c.guard(ctx, "info", func(ctx context.Context) error {
		out, err := c.call(ctx, "getHashInfo", hash)
		if err != nil {
			return err
		}
		info, err = unpackHashInfo(c.contract, out)
		if err != nil {
			return ledger.Permanent("info", err)
		}
		return nil
	})
	return info, err
}

func (c *Client) TransactionReceipt(ctx context.Context, txRef string) (*ledger.Receipt, error) {
	if !strings.HasPrefix(txRef, "0x") || len(txRef) != 66 {
		return nil, ledger.Permanent("receipt", fmt.Errorf("malformed transaction hash %q", txRef))
	}
	var receipt *ledger.Receipt
	err := c.guard(ctx, "receipt", func(ctx context.Context) error {
		r, err := c.backend.TransactionReceipt(ctx, common.HexToHash(txRef))
		if errors.Is(err, goethereum.NotFound) {
			return ledger.ErrReceiptPending
		}
		if err != nil {
			return err
		}
		status := ledger.ReceiptReverted
		if r.Status == types.ReceiptStatusSuccessful {
			status = ledger.ReceiptSuccess
		}
		var block uint64
		if r.BlockNumber != nil {
			block = r.BlockNumber.Uint64()
		}
		receipt = &ledger.Receipt{TxRef: txRef, Status: status, BlockNumber: block}
		return nil
	})
	return receipt, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.guard(ctx, "health", func(ctx context.Context) error {
		_, err := c.backend.BlockNumber(ctx)
		return err
	})
}

func (c *Client) call(ctx context.Context, method string, hash id.MessageHash) ([]byte, error) {
	data, err := c.contract.Pack(method, hash.Bytes32())
	if err != nil {
		return nil, ledger.Permanent(method, err)
	}
	return c.backend.CallContract(ctx, goethereum.CallMsg{To: &c.address, Data: data}, nil)
}

// guard runs fn under the call timeout and circuit breaker, then classifies
// the outcome. Only transient failures count against the breaker.
func (c *Client) guard(ctx context.Context, op string, fn func(context.Context) error) error {
	if !c.breaker.Allow() {
		return ledger.Transient(op, fmt.Errorf("circuit %s open: %w", c.breaker.Name(), sentinel.ErrUnavailable))
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	err := classify(op, fn(callCtx))
	switch {
	case err == nil, errors.Is(err, ledger.ErrReceiptPending), errors.Is(err, ledger.ErrAlreadyRegistered):
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "ledger circuit closed", "breaker", c.breaker.Name())
		}
	case errors.Is(err, ledger.ErrTransient):
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "ledger circuit opened", "breaker", c.breaker.Name(), "error", err)
		}
	}
	return err
}

// classify maps raw RPC failures onto the ledger error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *ledger.Error
	if errors.As(err, &classified) || errors.Is(err, ledger.ErrReceiptPending) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already registered"):
		return &ledger.Error{Op: op, Class: ledger.ErrAlreadyRegistered, Err: err}
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "insufficient funds"):
		return ledger.Transient(op, err)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "invalid opcode"),
		strings.Contains(msg, "invalid argument"):
		return ledger.Permanent(op, err)
	}
	// Timeouts, dial failures and RPC outages.
	return ledger.Transient(op, err)
}
