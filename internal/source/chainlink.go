package source

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

const chainlinkID = "chainlink"

const aggregatorABIJSON = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}
  ],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain EUR/USD fallback.
type ChainlinkOptions struct {
	RPCURL      string
	FeedAddress string
	TTL         time.Duration
}

// Chainlink reads the EUR/USD Chainlink aggregator over Ethereum RPC.
// It is the last resort in the FX chain: slower and coarser than the
// REST providers, but independent of any single API vendor.
type Chainlink struct {
	opts   ChainlinkOptions
	logger zerolog.Logger

	clientMux sync.Mutex
	client    *ethclient.Client
	decimals  int32
}

// NewChainlink constructs the on-chain FX source.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{
		opts:   opts,
		logger: logger.With().Str("component", "source_chainlink").Logger(),
	}
}

func (c *Chainlink) ID() string         { return chainlinkID }
func (c *Chainlink) TTL() time.Duration { return c.opts.TTL }

// Fetch reads latestRoundData from the configured aggregator.
func (c *Chainlink) Fetch(ctx context.Context) (market.RawQuote, error) {
	if c.opts.RPCURL == "" {
		return market.RawQuote{}, market.NewFetchError(chainlinkID, market.ErrUnavailable,
			errors.New("ethereum rpc url not configured"))
	}
	if c.opts.FeedAddress == "" {
		return market.RawQuote{}, market.NewFetchError(chainlinkID, market.ErrUnavailable,
			errors.New("feed address not configured"))
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return market.RawQuote{}, market.NewFetchError(chainlinkID, market.ErrUnavailable, err)
	}

	addr := common.HexToAddress(c.opts.FeedAddress)

	decimals, err := c.getDecimals(ctx, client, addr)
	if err != nil {
		return market.RawQuote{}, market.NewFetchError(chainlinkID, market.ErrUnavailable, err)
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return market.RawQuote{}, market.NewFetchError(chainlinkID, market.ErrParse, err)
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return market.RawQuote{}, market.NewFetchError(chainlinkID, market.ErrUnavailable, err)
	}
	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return market.RawQuote{}, market.NewFetchError(chainlinkID, market.ErrParse, err)
	}
	if len(outputs) != 5 {
		return market.RawQuote{}, market.NewFetchError(chainlinkID, market.ErrParse,
			errors.New("unexpected latestRoundData response"))
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return market.RawQuote{}, market.NewFetchError(chainlinkID, market.ErrParse,
			errors.New("failed to decode answer"))
	}

	rate := decimal.NewFromBigInt(answer, -decimals)
	if !rate.IsPositive() {
		return market.RawQuote{
			SourceID:  chainlinkID,
			FetchedAt: time.Now().UTC(),
			Err:       errors.New("aggregator answer is non-positive"),
		}, nil
	}

	return market.RawQuote{
		SourceID: chainlinkID,
		Values: map[market.Instrument]decimal.Decimal{
			market.InstrumentEURUSD: rate,
		},
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// getDecimals reads the feed's decimals once; the value is immutable on
// a deployed aggregator.
func (c *Chainlink) getDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (int32, error) {
	c.clientMux.Lock()
	cached := c.decimals
	c.clientMux.Unlock()
	if cached != 0 {
		return cached, nil
	}

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}
	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals")
	}

	c.clientMux.Lock()
	c.decimals = int32(d)
	c.clientMux.Unlock()
	return int32(d), nil
}

var _ Source = (*Chainlink)(nil)
