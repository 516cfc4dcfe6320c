package decoder

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

var (
	orderbookAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	orderHash     = common.HexToHash("0xdead")
	usdcAddr      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	aaplAddr      = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeChainReader struct {
	symbols map[common.Address]struct {
		symbol   string
		decimals uint8
	}
}

func newFakeChainReader() *fakeChainReader {
	return &fakeChainReader{symbols: map[common.Address]struct {
		symbol   string
		decimals uint8
	}{
		usdcAddr: {"USDC", 6},
		aaplAddr: {"AAPL", 18},
	}}
}

func (f *fakeChainReader) SymbolForToken(ctx context.Context, token common.Address) (string, uint8, error) {
	entry, ok := f.symbols[token]
	if !ok {
		return "", 0, domain.ErrNotFound
	}
	return entry.symbol, entry.decimals, nil
}

func buildLog(t *testing.T, d *Decoder, inToken common.Address, inAmount *big.Int, outToken common.Address, outAmount *big.Int) types.Log {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(orderFilledEventABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	event := parsed.Events["OrderFilled"]
	data, err := event.Inputs.NonIndexed().Pack(inToken, inAmount, outToken, outAmount)
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	return types.Log{
		Address: orderbookAddr,
		Topics:  []common.Hash{event.ID, orderHash},
		Data:    data,
		TxHash:  common.HexToHash("0xabc123"),
		Index:   3,
	}
}

func TestDecodeBuySideCrossing(t *testing.T) {
	reader := newFakeChainReader()
	d, err := New(orderbookAddr, orderHash, reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// On-chain actor sold AAPL for USDC: input=AAPL, output=USDC -> hedge buys.
	log := buildLog(t, d, aaplAddr, big.NewInt(2_000000000000000000), usdcAddr, big.NewInt(300_000000))
	trade, err := d.Decode(context.Background(), log)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if trade == nil {
		t.Fatal("expected a decoded trade, got nil")
	}
	if trade.Symbol != "AAPL" || trade.Direction != domain.DirectionBuy {
		t.Errorf("unexpected trade: %+v", trade)
	}
	if trade.Amount != 2 {
		t.Errorf("Amount = %v, want 2", trade.Amount)
	}
	if trade.Price != 150 {
		t.Errorf("Price = %v, want 150", trade.Price)
	}
	if trade.TxHash != log.TxHash.Hex() || trade.LogIndex != int64(log.Index) {
		t.Errorf("tx hash/log index not carried through: %+v", trade)
	}
}

func TestDecodeSellSideCrossing(t *testing.T) {
	reader := newFakeChainReader()
	d, err := New(orderbookAddr, orderHash, reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// On-chain actor bought AAPL with USDC: input=USDC, output=AAPL -> hedge sells.
	log := buildLog(t, d, usdcAddr, big.NewInt(150_000000), aaplAddr, big.NewInt(1_000000000000000000))
	trade, err := d.Decode(context.Background(), log)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if trade == nil {
		t.Fatal("expected a decoded trade, got nil")
	}
	if trade.Symbol != "AAPL" || trade.Direction != domain.DirectionSell {
		t.Errorf("unexpected trade: %+v", trade)
	}
	if trade.Amount != 1 {
		t.Errorf("Amount = %v, want 1", trade.Amount)
	}
}

func TestDecodeIgnoresOtherContract(t *testing.T) {
	reader := newFakeChainReader()
	d, err := New(orderbookAddr, orderHash, reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log := buildLog(t, d, usdcAddr, big.NewInt(1), aaplAddr, big.NewInt(1))
	log.Address = common.HexToAddress("0x9999999999999999999999999999999999999999")

	trade, err := d.Decode(context.Background(), log)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if trade != nil {
		t.Errorf("expected nil trade for a log from a different contract, got %+v", trade)
	}
}

func TestDecodeIgnoresOtherOrderHash(t *testing.T) {
	reader := newFakeChainReader()
	d, err := New(orderbookAddr, orderHash, reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	log := buildLog(t, d, usdcAddr, big.NewInt(1), aaplAddr, big.NewInt(1))
	log.Topics[1] = common.HexToHash("0xbeef")

	trade, err := d.Decode(context.Background(), log)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if trade != nil {
		t.Errorf("expected nil trade for a non-matching order hash, got %+v", trade)
	}
}

func TestDecodeIgnoresNonEquityQuotePair(t *testing.T) {
	reader := newFakeChainReader()
	d, err := New(orderbookAddr, orderHash, reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Neither leg is the quote currency: not a tokenized-equity/quote crossing.
	otherAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	reader.symbols[otherAddr] = struct {
		symbol   string
		decimals uint8
	}{"TSLA", 18}

	log := buildLog(t, d, aaplAddr, big.NewInt(1_000000000000000000), otherAddr, big.NewInt(1_000000000000000000))
	trade, err := d.Decode(context.Background(), log)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if trade != nil {
		t.Errorf("expected nil trade for a non-quote pair, got %+v", trade)
	}
}

func TestResolveCachesSymbolLookup(t *testing.T) {
	reader := newFakeChainReader()
	d, err := New(orderbookAddr, orderHash, reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sym1, dec1, err := d.resolve(context.Background(), aaplAddr)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	delete(reader.symbols, aaplAddr) // prove the second call hits the cache, not the reader

	sym2, dec2, err := d.resolve(context.Background(), aaplAddr)
	if err != nil {
		t.Fatalf("resolve (cached): %v", err)
	}
	if sym1 != sym2 || dec1 != dec2 {
		t.Errorf("cached resolve mismatch: (%s,%d) vs (%s,%d)", sym1, dec1, sym2, dec2)
	}
}
