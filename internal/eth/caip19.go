// Package eth proxies Ethereum JSON-RPC requests from mini apps to the host
// wallet and chain provider.
package eth

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AssetKind distinguishes the chain's native coin from ERC-20 tokens.
type AssetKind string

const (
	AssetNative AssetKind = "native"
	AssetERC20  AssetKind = "erc20"
)

// Asset is a parsed CAIP-19 identifier on an eip155 chain.
type Asset struct {
	ChainID *big.Int
	Kind    AssetKind
	// Address is the token contract; zero for native assets.
	Address common.Address
}

// String renders the canonical identifier.
func (a Asset) String() string {
	if a.Kind == AssetERC20 {
		return fmt.Sprintf("eip155:%s/erc20:%s", a.ChainID, a.Address.Hex())
	}
	return fmt.Sprintf("eip155:%s/native", a.ChainID)
}

// CAIP2 returns the chain part, e.g. "eip155:8453".
func (a Asset) CAIP2() string {
	return "eip155:" + a.ChainID.String()
}

// ParseAsset accepts eip155:<chain>/native, eip155:<chain>/slip44:60 and
// eip155:<chain>/erc20:<address>.
func ParseAsset(s string) (Asset, error) {
	chainPart, assetPart, ok := strings.Cut(s, "/")
	if !ok {
		return Asset{}, fmt.Errorf("asset %q: missing asset part", s)
	}
	chainID, err := ParseChain(chainPart)
	if err != nil {
		return Asset{}, fmt.Errorf("asset %q: %w", s, err)
	}

	if assetPart == "native" || assetPart == "slip44:60" {
		return Asset{ChainID: chainID, Kind: AssetNative}, nil
	}
	ns, ref, ok := strings.Cut(assetPart, ":")
	if !ok || ns != string(AssetERC20) {
		return Asset{}, fmt.Errorf("asset %q: unsupported asset namespace", s)
	}
	if !common.IsHexAddress(ref) {
		return Asset{}, fmt.Errorf("asset %q: invalid token address", s)
	}
	return Asset{ChainID: chainID, Kind: AssetERC20, Address: common.HexToAddress(ref)}, nil
}

// ParseChain parses a CAIP-2 eip155 chain id such as "eip155:10".
func ParseChain(s string) (*big.Int, error) {
	ns, ref, ok := strings.Cut(s, ":")
	if !ok || ns != "eip155" {
		return nil, fmt.Errorf("chain %q: only eip155 chains are supported", s)
	}
	id, ok := new(big.Int).SetString(ref, 10)
	if !ok || id.Sign() <= 0 {
		return nil, fmt.Errorf("chain %q: invalid chain id", s)
	}
	return id, nil
}
