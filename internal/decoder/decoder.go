// Package decoder implements C3, the trade decoder: turning a raw on-chain
// log into zero or one domain.OnchainTrade. It is a pure function of the
// log plus a symbol-resolution cache; it never touches the durable store.
package decoder

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// orderFilledEventABI describes the single order-fill event this decoder
// targets: a settled swap between an input token/amount and an output
// token/amount at a given order hash. The exact event name is not load
// bearing — only the argument shape matters for unpacking.
const orderFilledEventABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true,  "name": "orderHash",   "type": "bytes32"},
		{"indexed": false, "name": "inputToken",  "type": "address"},
		{"indexed": false, "name": "inputAmount", "type": "uint256"},
		{"indexed": false, "name": "outputToken", "type": "address"},
		{"indexed": false, "name": "outputAmount","type": "uint256"}
	],
	"name": "OrderFilled",
	"type": "event"
}]`

// ChainReader resolves an on-chain token address to its off-chain equity
// symbol and decimal precision. It is the only collaborator the decoder
// consumes; the concrete RPC-backed implementation lives outside this
// package (spec §1's "out of scope" boundary).
type ChainReader interface {
	SymbolForToken(ctx context.Context, token common.Address) (symbol string, decimals uint8, err error)
}

// Decoder filters logs to a single targeted order hash and orderbook
// contract address, then decodes matching logs into OnchainTrade values.
type Decoder struct {
	orderbook common.Address
	orderHash common.Hash
	event     abi.Event
	reader    ChainReader

	mu    sync.RWMutex
	cache map[common.Address]resolvedSymbol
}

type resolvedSymbol struct {
	symbol   string
	decimals uint8
}

// New builds a Decoder targeting a specific orderbook contract and order
// hash (spec §6's orderbook_address / order_hash config options).
func New(orderbook common.Address, orderHash common.Hash, reader ChainReader) (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(orderFilledEventABI))
	if err != nil {
		return nil, fmt.Errorf("decoder: parse event ABI: %w", err)
	}
	event, ok := parsed.Events["OrderFilled"]
	if !ok {
		return nil, fmt.Errorf("decoder: event OrderFilled missing from parsed ABI")
	}
	return &Decoder{
		orderbook: orderbook,
		orderHash: orderHash,
		event:     event,
		reader:    reader,
		cache:     make(map[common.Address]resolvedSymbol),
	}, nil
}

type orderFilledArgs struct {
	InputToken   common.Address
	InputAmount  *big.Int
	OutputToken  common.Address
	OutputAmount *big.Int
}

// Decode returns nil, nil for any log that is not a fill of the targeted
// order at the targeted orderbook — the "filters non-target orders" half of
// spec §4.2. All chain-reader errors surface; there is no silent swallow.
func (d *Decoder) Decode(ctx context.Context, log types.Log) (*domain.OnchainTrade, error) {
	if log.Address != d.orderbook {
		return nil, nil
	}
	if len(log.Topics) == 0 || log.Topics[0] != d.event.ID {
		return nil, nil
	}
	if len(log.Topics) < 2 || log.Topics[1] != d.orderHash {
		return nil, nil
	}

	var args orderFilledArgs
	if err := d.event.Inputs.NonIndexed().UnpackIntoInterface(&args, "", log.Data); err != nil {
		return nil, fmt.Errorf("decoder: unpack OrderFilled log %s/%d: %w", log.TxHash, log.Index, err)
	}

	inSym, inDec, err := d.resolve(ctx, args.InputToken)
	if err != nil {
		return nil, fmt.Errorf("decoder: resolve input token %s: %w", args.InputToken, err)
	}
	outSym, outDec, err := d.resolve(ctx, args.OutputToken)
	if err != nil {
		return nil, fmt.Errorf("decoder: resolve output token %s: %w", args.OutputToken, err)
	}

	// The tokenized-equity leg is whichever side isn't the quote currency;
	// by convention the quote leg resolves to a stable symbol ("USDC") and
	// the equity leg to a ticker. Direction is the sign the broker order
	// must take to offset this on-chain change (spec §9): the hedge buys
	// when the equity token was the *input* (the on-chain actor sold it
	// away) and sells when it was the *output* (the on-chain actor bought
	// it).
	equitySymbol, equityAmount, quoteAmount, dir := classifyLeg(inSym, inDec, args.InputAmount, outSym, outDec, args.OutputAmount)
	if equitySymbol == "" {
		return nil, nil
	}

	var price float64
	if equityAmount != 0 {
		price = quoteAmount / equityAmount
	}

	return &domain.OnchainTrade{
		TxHash:   log.TxHash.Hex(),
		LogIndex: int64(log.Index),
		Symbol:   equitySymbol,
		Amount:   equityAmount,
		Direction: dir,
		Price:     price,
	}, nil
}

func classifyLeg(inSym string, inDec uint8, inAmount *big.Int, outSym string, outDec uint8, outAmount *big.Int) (symbol string, equityAmount, quoteAmount float64, dir domain.Direction) {
	const quoteSymbol = "USDC"

	if inSym == quoteSymbol && outSym != quoteSymbol {
		// Input is cash, output is equity: the on-chain actor bought the
		// equity, so the hedge must sell it to stay flat.
		return outSym, toFloat(outAmount, outDec), toFloat(inAmount, inDec), domain.DirectionSell
	}
	if outSym == quoteSymbol && inSym != quoteSymbol {
		// Input is equity, output is cash: the on-chain actor sold the
		// equity, so the hedge must buy it back.
		return inSym, toFloat(inAmount, inDec), toFloat(outAmount, outDec), domain.DirectionBuy
	}
	return "", 0, 0, ""
}

func toFloat(v *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(v)
	scale := new(big.Float).SetFloat64(1)
	for i := uint8(0); i < decimals; i++ {
		scale.Mul(scale, big.NewFloat(10))
	}
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

// resolve is a read-through cache over ChainReader.SymbolForToken, per spec
// §4.2's "read-through cache backed by the chain reader".
func (d *Decoder) resolve(ctx context.Context, token common.Address) (string, uint8, error) {
	d.mu.RLock()
	if cached, ok := d.cache[token]; ok {
		d.mu.RUnlock()
		return cached.symbol, cached.decimals, nil
	}
	d.mu.RUnlock()

	symbol, decimals, err := d.reader.SymbolForToken(ctx, token)
	if err != nil {
		return "", 0, err
	}

	d.mu.Lock()
	d.cache[token] = resolvedSymbol{symbol: symbol, decimals: decimals}
	d.mu.Unlock()

	return symbol, decimals, nil
}
