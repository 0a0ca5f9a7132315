package source

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// EVMOptions parameterise an eth_gasPrice source.
type EVMOptions struct {
	ID      string
	RPCURL  string
	Timeout time.Duration
}

// gasPricer is the slice of ethclient used by EVM.
type gasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// EVM reads the suggested gas price of an EVM network over JSON-RPC.
type EVM struct {
	opts      EVMOptions
	logger    zerolog.Logger
	client    gasPricer
	clientMux sync.Mutex
	dial      func(ctx context.Context, url string) (gasPricer, error)
}

// NewEVM builds a new EVM gas price source.
func NewEVM(opts EVMOptions, logger zerolog.Logger) *EVM {
	return &EVM{
		opts:   opts,
		logger: logger.With().Str("component", "evm_source").Str("source", opts.ID).Logger(),
		dial: func(ctx context.Context, url string) (gasPricer, error) {
			return ethclient.DialContext(ctx, url)
		},
	}
}

// ID implements Source.
func (e *EVM) ID() string { return e.opts.ID }

// Fetch retrieves the current gas price in wei.
func (e *EVM) Fetch(ctx context.Context) (Sample, error) {
	if e.opts.RPCURL == "" {
		return Sample{}, errors.New("rpc url not configured")
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	client, err := e.getClient(ctx)
	if err != nil {
		return Sample{}, err
	}

	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return Sample{}, err
	}
	if price == nil {
		return Sample{}, errors.New("rpc returned empty gas price")
	}

	e.logger.Debug().Str("wei", price.String()).Msg("gas price fetched")
	return Sample{SourceID: e.opts.ID, Value: price, ObservedAt: time.Now().UTC()}, nil
}

func (e *EVM) getClient(ctx context.Context) (gasPricer, error) {
	e.clientMux.Lock()
	defer e.clientMux.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	client, err := e.dial(ctx, e.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

var _ Source = (*EVM)(nil)
