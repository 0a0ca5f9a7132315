package sink

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"gas-price-relay/internal/stats"
)

const oracleABIJSON = `[
{"inputs":[{"internalType":"string","name":"chain","type":"string"},{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"uint256","name":"high","type":"uint256"},{"internalType":"uint256","name":"low","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"}],"name":"updateGasPrice","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"string[]","name":"chains","type":"string[]"},{"internalType":"uint256[]","name":"prices","type":"uint256[]"},{"internalType":"uint256[]","name":"highs","type":"uint256[]"},{"internalType":"uint256[]","name":"lows","type":"uint256[]"},{"internalType":"uint256[]","name":"timestamps","type":"uint256[]"}],"name":"updateGasPrices","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const (
	methodSingle = "updateGasPrice"
	methodBatch  = "updateGasPrices"
)

var oracleABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		panic("failed to parse oracle ABI: " + err.Error())
	}
	oracleABI = parsed
}

// Backend is the subset of ethclient used to publish transactions.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
}

// OracleOptions parameterise the contract publisher.
type OracleOptions struct {
	RPCURL          string
	ChainID         int64 // 0 asks the node
	ContractAddress string
	PrivateKey      string
	BatchThreshold  int
	GasLimit        uint64 // 0 estimates per transaction
	TxTimeout       time.Duration
}

// Oracle signs and sends update transactions to the gas price oracle contract.
type Oracle struct {
	opts     OracleOptions
	backend  Backend
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	logger   zerolog.Logger

	mu      sync.Mutex
	chainID *big.Int
}

// NewOracle validates the options and dials the RPC endpoint.
func NewOracle(ctx context.Context, opts OracleOptions, logger zerolog.Logger) (*Oracle, error) {
	if opts.RPCURL == "" {
		return nil, fmt.Errorf("%w: rpc url required", ErrConfig)
	}
	client, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial oracle rpc: %w", err)
	}
	return NewOracleWithBackend(opts, client, logger)
}

// NewOracleWithBackend builds a publisher on an existing backend.
func NewOracleWithBackend(opts OracleOptions, backend Backend, logger zerolog.Logger) (*Oracle, error) {
	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, fmt.Errorf("%w: invalid contract address %q", ErrConfig, opts.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(opts.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", ErrConfig, err)
	}
	if opts.BatchThreshold <= 0 {
		opts.BatchThreshold = 1
	}

	o := &Oracle{
		opts:     opts,
		backend:  backend,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(opts.ContractAddress),
		logger:   logger.With().Str("component", "oracle_sink").Logger(),
	}
	if opts.ChainID > 0 {
		o.chainID = big.NewInt(opts.ChainID)
	}
	return o, nil
}

// From returns the signing account.
func (o *Oracle) From() common.Address { return o.from }

// Submit publishes the batch: one batched transaction when the batch reaches the
// threshold, otherwise one transaction per record. Transaction hashes are returned
// for every transaction that was sent, even when a later one fails.
func (o *Oracle) Submit(ctx context.Context, batch []stats.Record) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if o.opts.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.TxTimeout)
		defer cancel()
	}

	// one submission at a time keeps nonces sequential
	o.mu.Lock()
	defer o.mu.Unlock()

	chainID, err := o.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := o.backend.PendingNonceAt(ctx, o.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	if len(batch) >= o.opts.BatchThreshold && len(batch) > 1 {
		data, err := PackBatch(batch)
		if err != nil {
			return nil, err
		}
		hash, err := o.send(ctx, chainID, nonce, data)
		if err != nil {
			return nil, fmt.Errorf("send batch update: %w", err)
		}
		o.logger.Info().Str("tx", hash).Int("records", len(batch)).Msg("batch update submitted")
		return []string{hash}, nil
	}

	hashes := make([]string, 0, len(batch))
	for _, rec := range batch {
		data, err := PackSingle(rec)
		if err != nil {
			return hashes, err
		}
		hash, err := o.send(ctx, chainID, nonce, data)
		if err != nil {
			return hashes, fmt.Errorf("send update for %s: %w", rec.SourceID, err)
		}
		nonce++
		hashes = append(hashes, hash)
		o.logger.Info().Str("tx", hash).Str("source", rec.SourceID).Msg("update submitted")
	}
	return hashes, nil
}

func (o *Oracle) resolveChainID(ctx context.Context) (*big.Int, error) {
	if o.chainID != nil {
		return o.chainID, nil
	}
	id, err := o.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	o.chainID = id
	return id, nil
}

func (o *Oracle) send(ctx context.Context, chainID *big.Int, nonce uint64, data []byte) (string, error) {
	gasPrice, err := o.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit := o.opts.GasLimit
	if gasLimit == 0 {
		gasLimit, err = o.backend.EstimateGas(ctx, ethereum.CallMsg{From: o.from, To: &o.contract, Data: data})
		if err != nil {
			return "", fmt.Errorf("estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &o.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), o.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := o.backend.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

// PackSingle encodes an updateGasPrice call.
func PackSingle(rec stats.Record) ([]byte, error) {
	if err := checkRecord(rec); err != nil {
		return nil, err
	}
	return oracleABI.Pack(methodSingle, rec.SourceID, rec.Price, rec.High, rec.Low, unixBig(rec.ObservedAt))
}

// PackBatch encodes an updateGasPrices call.
func PackBatch(batch []stats.Record) ([]byte, error) {
	chains := make([]string, 0, len(batch))
	prices := make([]*big.Int, 0, len(batch))
	highs := make([]*big.Int, 0, len(batch))
	lows := make([]*big.Int, 0, len(batch))
	stamps := make([]*big.Int, 0, len(batch))
	for _, rec := range batch {
		if err := checkRecord(rec); err != nil {
			return nil, err
		}
		chains = append(chains, rec.SourceID)
		prices = append(prices, rec.Price)
		highs = append(highs, rec.High)
		lows = append(lows, rec.Low)
		stamps = append(stamps, unixBig(rec.ObservedAt))
	}
	return oracleABI.Pack(methodBatch, chains, prices, highs, lows, stamps)
}

func checkRecord(rec stats.Record) error {
	if rec.Price == nil || rec.High == nil || rec.Low == nil {
		return errors.New("record has empty magnitude")
	}
	return nil
}

func unixBig(t time.Time) *big.Int {
	return big.NewInt(t.Unix())
}

var _ Sink = (*Oracle)(nil)
