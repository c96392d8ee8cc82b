package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/chain"
)

// Caller is the slice of the chain client the reader needs.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	CallFrom(ctx context.Context, from, to common.Address, data []byte) ([]byte, error)
}

// DeadAddress receives the probe transfer in the honeypot simulation.
var DeadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// Reader performs view calls against tokens and pairs. Optional getters
// default silently on revert; only plumbing failures are logged.
type Reader struct {
	caller Caller
	log    *zap.Logger
}

func NewReader(caller Caller, log *zap.Logger) *Reader {
	return &Reader{caller: caller, log: log.Named("reader")}
}

// TokenInfo is the standard ERC-20 surface, with defaults filled in where
// the contract reverts.
type TokenInfo struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// ExtendedInfo is the optional launchpad token surface.
type ExtendedInfo struct {
	Description     string
	ImageURL        string
	Twitter         string
	Telegram        string
	Website         string
	MaxWallet       *big.Int
	MaxTransaction  *big.Int
	TradingEnabled  bool
	LaunchBlock     *big.Int
	BuyTax          float64
	SellTax         float64
	LiquidityLocked bool
	LockExpiry      int64
	Owner           common.Address
	HasOwner        bool
}

// TokenInfo reads the ERC-20 basics. Decimals defaults to 18 and supply to
// zero when a getter reverts.
func (r *Reader) TokenInfo(ctx context.Context, token common.Address) TokenInfo {
	info := TokenInfo{Decimals: 18, TotalSupply: new(big.Int)}
	if v, ok := r.viewString(ctx, ERC20ABI, token, "name"); ok {
		info.Name = v
	}
	if v, ok := r.viewString(ctx, ERC20ABI, token, "symbol"); ok {
		info.Symbol = v
	}
	if v, ok := r.viewUint8(ctx, ERC20ABI, token, "decimals"); ok {
		info.Decimals = v
	}
	if v, ok := r.viewBig(ctx, ERC20ABI, token, "totalSupply"); ok {
		info.TotalSupply = v
	}
	return info
}

// Extended reads the launchpad getters. Every field is optional.
func (r *Reader) Extended(ctx context.Context, token common.Address) ExtendedInfo {
	var ext ExtendedInfo
	ext.Description, _ = r.viewString(ctx, CurveTokenABI, token, "description")
	ext.ImageURL, _ = r.viewString(ctx, CurveTokenABI, token, "image")
	ext.Twitter, _ = r.viewString(ctx, CurveTokenABI, token, "twitter")
	ext.Telegram, _ = r.viewString(ctx, CurveTokenABI, token, "telegram")
	ext.Website, _ = r.viewString(ctx, CurveTokenABI, token, "website")
	ext.MaxWallet, _ = r.viewBig(ctx, CurveTokenABI, token, "maxWallet")
	ext.MaxTransaction, _ = r.viewBig(ctx, CurveTokenABI, token, "maxTransaction")
	ext.TradingEnabled, _ = r.viewBool(ctx, CurveTokenABI, token, "tradingEnabled")
	ext.LaunchBlock, _ = r.viewBig(ctx, CurveTokenABI, token, "launchBlock")
	ext.LiquidityLocked, _ = r.viewBool(ctx, CurveTokenABI, token, "liquidityLocked")
	if v, ok := r.viewBig(ctx, CurveTokenABI, token, "liquidityLockExpiry"); ok && v.IsInt64() {
		ext.LockExpiry = v.Int64()
	}
	if v, ok := r.viewBig(ctx, CurveTokenABI, token, "buyTax"); ok {
		ext.BuyTax = taxPercent(v)
	}
	if v, ok := r.viewBig(ctx, CurveTokenABI, token, "sellTax"); ok {
		ext.SellTax = taxPercent(v)
	}
	if v, ok := r.viewAddress(ctx, ERC20ABI, token, "owner"); ok {
		ext.Owner = v
		ext.HasOwner = true
	}
	return ext
}

// taxPercent clamps absurd on-chain tax values so scoring stays sane.
func taxPercent(v *big.Int) float64 {
	if !v.IsUint64() || v.Uint64() > 100 {
		return 100
	}
	return float64(v.Uint64())
}

// Reserves reads the pair's current reserves. Errors propagate; reserve
// state is not optional.
func (r *Reader) Reserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	data, err := PairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, err
	}
	out, err := r.caller.Call(ctx, pair, data)
	if err != nil {
		return nil, nil, fmt.Errorf("getReserves %s: %w", pair.Hex(), err)
	}
	vals, err := PairABI.Unpack("getReserves", out)
	if err != nil || len(vals) < 2 {
		return nil, nil, chain.WrapKind(chain.KindDecode, fmt.Errorf("getReserves %s: bad output", pair.Hex()))
	}
	r0, ok0 := vals[0].(*big.Int)
	r1, ok1 := vals[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, chain.WrapKind(chain.KindDecode, fmt.Errorf("getReserves %s: unexpected types", pair.Hex()))
	}
	return r0, r1, nil
}

// PairTokens reads token0/token1 of a pair.
func (r *Reader) PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error) {
	t0, ok := r.viewAddress(ctx, PairABI, pair, "token0")
	if !ok {
		return common.Address{}, common.Address{}, fmt.Errorf("token0 %s: unavailable", pair.Hex())
	}
	t1, ok := r.viewAddress(ctx, PairABI, pair, "token1")
	if !ok {
		return common.Address{}, common.Address{}, fmt.Errorf("token1 %s: unavailable", pair.Hex())
	}
	return t0, t1, nil
}

// SimulateTransfer probes whether a tiny transfer from the given holder
// reverts. A revert is the honeypot signal; other failures are inconclusive
// and returned as errors.
func (r *Reader) SimulateTransfer(ctx context.Context, token, from common.Address) (bool, error) {
	data, err := ERC20ABI.Pack("transfer", DeadAddress, big.NewInt(1))
	if err != nil {
		return false, err
	}
	_, err = r.caller.CallFrom(ctx, from, token, data)
	if err == nil {
		return false, nil
	}
	if chain.IsRevert(err) {
		return true, nil
	}
	return false, err
}

// view runs a no-argument view call and unpacks the single return value.
// ok=false means the call reverted or the output was malformed; transient
// plumbing failures are logged and also default.
func (r *Reader) view(ctx context.Context, contract abi.ABI, addr common.Address, method string) (any, bool) {
	data, err := contract.Pack(method)
	if err != nil {
		return nil, false
	}
	out, err := r.caller.Call(ctx, addr, data)
	if err != nil {
		if !chain.IsRevert(err) {
			r.log.Warn("view call failed", zap.String("method", method),
				zap.String("contract", addr.Hex()), zap.Error(err))
		}
		return nil, false
	}
	if len(out) == 0 {
		return nil, false
	}
	vals, err := contract.Unpack(method, out)
	if err != nil || len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

func (r *Reader) viewString(ctx context.Context, contract abi.ABI, addr common.Address, method string) (string, bool) {
	v, ok := r.view(ctx, contract, addr, method)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (r *Reader) viewBig(ctx context.Context, contract abi.ABI, addr common.Address, method string) (*big.Int, bool) {
	v, ok := r.view(ctx, contract, addr, method)
	if !ok {
		return nil, false
	}
	b, ok := v.(*big.Int)
	return b, ok
}

func (r *Reader) viewBool(ctx context.Context, contract abi.ABI, addr common.Address, method string) (bool, bool) {
	v, ok := r.view(ctx, contract, addr, method)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (r *Reader) viewUint8(ctx context.Context, contract abi.ABI, addr common.Address, method string) (uint8, bool) {
	v, ok := r.view(ctx, contract, addr, method)
	if !ok {
		return 0, false
	}
	u, ok := v.(uint8)
	return u, ok
}

func (r *Reader) viewAddress(ctx context.Context, contract abi.ABI, addr common.Address, method string) (common.Address, bool) {
	v, ok := r.view(ctx, contract, addr, method)
	if !ok {
		return common.Address{}, false
	}
	a, ok := v.(common.Address)
	return a, ok
}
