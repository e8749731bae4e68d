package fetcher

import (
	"context"
	"errors"
	"fmt"
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
)

const (
	erc4626ABIJSON = `[{"inputs":[{"internalType":"uint256","name":"shares","type":"uint256"}],"name":"convertToAssets","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var (
	erc4626ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc4626ABIJSON))
	if err != nil {
		panic("failed to parse ERC-4626 ABI: " + err.Error())
	}
	erc4626ABI = parsed
}

// VaultSpec locates the ERC-4626 vault backing a tokenized fund share.
type VaultSpec struct {
	Address       string
	ShareDecimals int32
	AssetDecimals int32
}

// VaultOptions parameterise the on-chain reference fetcher.
type VaultOptions struct {
	RPCURL  string
	Timeout time.Duration
	Vaults  map[string]VaultSpec
}

// Vault reads the per-share asset value of tokenized funds via Ethereum RPC.
type Vault struct {
	opts      VaultOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewVault builds an on-chain reference fetcher.
func NewVault(opts VaultOptions, logger zerolog.Logger) *Vault {
	return &Vault{opts: opts, logger: logger.With().Str("component", "vault_fetcher").Logger()}
}

// Has reports whether id is backed by a configured vault.
func (v *Vault) Has(id string) bool {
	_, ok := v.opts.Vaults[id]
	return ok
}

// FetchReference returns the asset value of one share and the block number it was read at.
func (v *Vault) FetchReference(ctx context.Context, id string) (decimal.Decimal, string, error) {
	spec, ok := v.opts.Vaults[id]
	if !ok {
		return decimal.Decimal{}, "", ErrNoQuote
	}
	if v.opts.RPCURL == "" {
		return decimal.Decimal{}, "", errors.New("ethereum rpc url not configured")
	}
	if spec.Address == "" {
		return decimal.Decimal{}, "", fmt.Errorf("vault address for %s not configured", id)
	}

	timeout := v.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := v.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, "", err
	}

	addr := common.HexToAddress(spec.Address)
	oneShare := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(spec.ShareDecimals)), nil)

	payload, err := erc4626ABI.Pack("convertToAssets", oneShare)
	if err != nil {
		return decimal.Decimal{}, "", err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("call convertToAssets: %w", err)
	}

	outputs, err := erc4626ABI.Unpack("convertToAssets", res)
	if err != nil {
		return decimal.Decimal{}, "", err
	}
	if len(outputs) != 1 {
		return decimal.Decimal{}, "", errors.New("unexpected convertToAssets response")
	}

	assets, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, "", errors.New("failed to decode convertToAssets output")
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return decimal.Decimal{}, "", err
	}

	return decimal.NewFromBigInt(assets, -spec.AssetDecimals), fmt.Sprintf("block %d", blockNumber), nil
}

func (v *Vault) getClient(ctx context.Context) (*ethclient.Client, error) {
	v.clientMux.Lock()
	defer v.clientMux.Unlock()

	if v.client != nil {
		return v.client, nil
	}

	client, err := ethclient.DialContext(ctx, v.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	v.client = client
	return client, nil
}

var _ ReferenceFetcher = (*Vault)(nil)
