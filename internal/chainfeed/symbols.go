package chainfeed

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onchainhedge/hedgebridge/internal/decoder"
)

// TokenInfo is one entry of the operator-supplied token-address map.
type TokenInfo struct {
	Symbol   string
	Decimals uint8
}

// StaticChainReader implements decoder.ChainReader from a fixed, operator
// supplied map of token address to symbol/decimals (spec §6's token map
// config), since resolving ERC-20 metadata over RPC is out of scope (spec
// §1's "on-chain RPC transport" boundary) — the map is populated once at
// startup and never mutated.
type StaticChainReader struct {
	tokens map[common.Address]TokenInfo
}

// NewStaticChainReader builds a reader from tokens, keyed by contract
// address.
func NewStaticChainReader(tokens map[common.Address]TokenInfo) *StaticChainReader {
	return &StaticChainReader{tokens: tokens}
}

func (r *StaticChainReader) SymbolForToken(ctx context.Context, token common.Address) (string, uint8, error) {
	info, ok := r.tokens[token]
	if !ok {
		return "", 0, fmt.Errorf("chainfeed: no symbol mapping for token %s", token.Hex())
	}
	return info.Symbol, info.Decimals, nil
}

var _ decoder.ChainReader = (*StaticChainReader)(nil)
