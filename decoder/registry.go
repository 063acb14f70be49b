package decoder

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/types"
)

type selector [4]byte

// constructor turns unpacked call arguments into a SwapAction. Values are in
// ABI order; tx supplies fields the call does not carry.
type constructor func(values []interface{}, tx *types.PendingTransaction) (*SwapAction, error)

type schema struct {
	fields int
	build  constructor
}

var schemas = map[Kind]schema{
	KindExactTokensForTokens:              {5, buildExactIn},
	KindExactTokensForETH:                 {5, buildExactIn},
	KindExactTokensForTokensFeeOnTransfer: {5, buildExactIn},
	KindExactTokensForETHFeeOnTransfer:    {5, buildExactIn},
	KindExactETHForTokens:                 {4, buildNativeExactIn},
	KindExactETHForTokensFeeOnTransfer:    {4, buildNativeExactIn},
	KindTokensForExactTokens:              {5, buildExactOut},
	KindTokensForExactETH:                 {5, buildExactOut},
	KindETHForExactTokens:                 {4, buildNativeExactOut},
	KindExactInputSingle:                  {1, buildExactInputSingle},
	KindExactOutputSingle:                 {1, buildExactOutputSingle},
}

type surface struct {
	abiJSON string
	methods map[string]Kind
}

var surfaces = map[string]surface{
	config.SurfaceUniswapV2: {
		abiJSON: UniswapV2RouterABI,
		methods: map[string]Kind{
			"swapExactTokensForTokens":                              KindExactTokensForTokens,
			"swapExactTokensForETH":                                 KindExactTokensForETH,
			"swapExactETHForTokens":                                 KindExactETHForTokens,
			"swapTokensForExactTokens":                              KindTokensForExactTokens,
			"swapTokensForExactETH":                                 KindTokensForExactETH,
			"swapETHForExactTokens":                                 KindETHForExactTokens,
			"swapExactTokensForTokensSupportingFeeOnTransferTokens": KindExactTokensForTokensFeeOnTransfer,
			"swapExactETHForTokensSupportingFeeOnTransferTokens":    KindExactETHForTokensFeeOnTransfer,
			"swapExactTokensForETHSupportingFeeOnTransferTokens":    KindExactTokensForETHFeeOnTransfer,
		},
	},
	config.SurfaceUniswapV3: {
		abiJSON: UniswapV3RouterABI,
		methods: map[string]Kind{
			"exactInputSingle":  KindExactInputSingle,
			"exactOutputSingle": KindExactOutputSingle,
		},
	},
}

type entry struct {
	method abi.Method
	kind   Kind
}

// Router is one registered router and the calls it is known to accept.
type Router struct {
	Name    string
	Address common.Address
	Surface string
	methods map[selector]*entry
}

// Kinds lists the call shapes registered for the router.
func (r *Router) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.methods))
	for _, e := range r.methods {
		kinds = append(kinds, e.kind)
	}
	return kinds
}

// Registry maps router addresses to their selector tables. Selectors are
// scoped per router so two exchanges never share a table by accident.
type Registry struct {
	routers map[common.Address]*Router
}

func NewRegistry() *Registry {
	return &Registry{routers: make(map[common.Address]*Router)}
}

// NewRegistryFromConfig registers every router with its surface's methods.
func NewRegistryFromConfig(routers []config.RouterConfig) (*Registry, error) {
	reg := NewRegistry()
	for _, rc := range routers {
		if err := reg.AddRouter(rc.Name, rc.Surface, common.HexToAddress(rc.Address)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// AddRouter registers addr with every method of the named surface.
func (r *Registry) AddRouter(name, surfaceName string, addr common.Address) error {
	s, ok := surfaces[surfaceName]
	if !ok {
		return fmt.Errorf("unknown router surface %q", surfaceName)
	}
	parsed, err := abi.JSON(strings.NewReader(s.abiJSON))
	if err != nil {
		return fmt.Errorf("failed to parse %s ABI: %w", surfaceName, err)
	}
	if _, exists := r.routers[addr]; exists {
		return fmt.Errorf("router %s already registered", addr.Hex())
	}

	r.routers[addr] = &Router{
		Name:    name,
		Address: addr,
		Surface: surfaceName,
		methods: make(map[selector]*entry),
	}
	for methodName, kind := range s.methods {
		method, ok := parsed.Methods[methodName]
		if !ok {
			return fmt.Errorf("%s ABI lacks %s", surfaceName, methodName)
		}
		if err := r.Register(addr, method, kind); err != nil {
			return err
		}
	}
	return nil
}

// Register binds method to kind on an already added router. The kind's
// field layout is checked against the data on every decode.
func (r *Registry) Register(router common.Address, method abi.Method, kind Kind) error {
	rt, ok := r.routers[router]
	if !ok {
		return fmt.Errorf("router %s not registered", router.Hex())
	}
	if _, ok := schemas[kind]; !ok {
		return fmt.Errorf("no schema for kind %s", kind)
	}

	var sel selector
	copy(sel[:], method.ID)
	if prev, dup := rt.methods[sel]; dup {
		return fmt.Errorf("selector %x on %s already bound to %s", sel, rt.Name, prev.method.Name)
	}
	rt.methods[sel] = &entry{method: method, kind: kind}
	return nil
}

// Router returns the registered router at addr.
func (r *Registry) Router(addr common.Address) (*Router, bool) {
	rt, ok := r.routers[addr]
	return rt, ok
}

// Routers returns all registered routers.
func (r *Registry) Routers() []*Router {
	out := make([]*Router, 0, len(r.routers))
	for _, rt := range r.routers {
		out = append(out, rt)
	}
	return out
}

// Encode packs call data for the method bound to kind on router.
func (r *Registry) Encode(router common.Address, kind Kind, args ...interface{}) ([]byte, error) {
	rt, ok := r.routers[router]
	if !ok {
		return nil, fmt.Errorf("router %s not registered", router.Hex())
	}
	for _, e := range rt.methods {
		if e.kind != kind {
			continue
		}
		packed, err := e.method.Inputs.Pack(args...)
		if err != nil {
			return nil, fmt.Errorf("failed to pack %s: %w", e.method.Name, err)
		}
		return append(common.CopyBytes(e.method.ID), packed...), nil
	}
	return nil, fmt.Errorf("router %s has no %s method", rt.Name, kind)
}

func (r *Registry) lookup(router common.Address, data []byte) (*Router, *entry) {
	rt, ok := r.routers[router]
	if !ok {
		return rt, nil
	}
	var sel selector
	copy(sel[:], data[:4])
	return rt, rt.methods[sel]
}

// ExactInputSingleParams mirrors ISwapRouter.ExactInputSingleParams.
type ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// ExactOutputSingleParams mirrors ISwapRouter.ExactOutputSingleParams.
type ExactOutputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountOut         *big.Int
	AmountInMaximum   *big.Int
	SqrtPriceLimitX96 *big.Int
}

// fieldError reports a value whose Go type disagrees with the schema.
func fieldError(name string, v interface{}) error {
	return fmt.Errorf("%w: field %s has type %T", types.ErrSchemaInconsistency, name, v)
}

func asBig(name string, v interface{}) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fieldError(name, v)
	}
	return n, nil
}

func asAddress(name string, v interface{}) (common.Address, error) {
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fieldError(name, v)
	}
	return a, nil
}

func asPath(v interface{}) ([]common.Address, error) {
	p, ok := v.([]common.Address)
	if !ok {
		return nil, fieldError("path", v)
	}
	if len(p) < 2 {
		return nil, fmt.Errorf("%w: path has %d tokens", types.ErrDecodeMismatch, len(p))
	}
	return p, nil
}

// tail decodes the (path, to, deadline) suffix shared by every V2 call.
func tail(values []interface{}, a *SwapAction) error {
	var err error
	if a.Path, err = asPath(values[0]); err != nil {
		return err
	}
	if a.Recipient, err = asAddress("to", values[1]); err != nil {
		return err
	}
	a.Deadline, err = asBig("deadline", values[2])
	return err
}

func buildExactIn(values []interface{}, _ *types.PendingTransaction) (*SwapAction, error) {
	var (
		a   SwapAction
		err error
	)
	if a.AmountIn, err = asBig("amountIn", values[0]); err != nil {
		return nil, err
	}
	if a.AmountOutMin, err = asBig("amountOutMin", values[1]); err != nil {
		return nil, err
	}
	if err := tail(values[2:], &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func buildNativeExactIn(values []interface{}, tx *types.PendingTransaction) (*SwapAction, error) {
	var (
		a   SwapAction
		err error
	)
	if a.AmountOutMin, err = asBig("amountOutMin", values[0]); err != nil {
		return nil, err
	}
	if err := tail(values[1:], &a); err != nil {
		return nil, err
	}
	a.AmountIn = nativeValue(tx)
	return &a, nil
}

func buildExactOut(values []interface{}, _ *types.PendingTransaction) (*SwapAction, error) {
	var (
		a   SwapAction
		err error
	)
	if a.AmountOut, err = asBig("amountOut", values[0]); err != nil {
		return nil, err
	}
	if a.AmountInMax, err = asBig("amountInMax", values[1]); err != nil {
		return nil, err
	}
	if err := tail(values[2:], &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func buildNativeExactOut(values []interface{}, tx *types.PendingTransaction) (*SwapAction, error) {
	var (
		a   SwapAction
		err error
	)
	if a.AmountOut, err = asBig("amountOut", values[0]); err != nil {
		return nil, err
	}
	if err := tail(values[1:], &a); err != nil {
		return nil, err
	}
	a.AmountInMax = nativeValue(tx)
	return &a, nil
}

// nativeValue copies the ether sent with tx. A missing value reads as zero.
func nativeValue(tx *types.PendingTransaction) *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(tx.Value)
}

// tupleFields reads named fields out of the anonymous struct the ABI
// unpacker produces for tuple arguments.
func tupleFields(v interface{}, names ...string) ([]interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fieldError("params", v)
	}
	out := make([]interface{}, len(names))
	for i, name := range names {
		f := rv.FieldByName(name)
		if !f.IsValid() {
			return nil, fmt.Errorf("%w: params lacks %s", types.ErrSchemaInconsistency, name)
		}
		out[i] = f.Interface()
	}
	return out, nil
}

func singlePoolAction(fields []interface{}) (*SwapAction, error) {
	tokenIn, err := asAddress("tokenIn", fields[0])
	if err != nil {
		return nil, err
	}
	tokenOut, err := asAddress("tokenOut", fields[1])
	if err != nil {
		return nil, err
	}
	fee, err := asBig("fee", fields[2])
	if err != nil {
		return nil, err
	}
	recipient, err := asAddress("recipient", fields[3])
	if err != nil {
		return nil, err
	}
	deadline, err := asBig("deadline", fields[4])
	if err != nil {
		return nil, err
	}
	return &SwapAction{
		Path:      []common.Address{tokenIn, tokenOut},
		Recipient: recipient,
		Deadline:  deadline,
		Fee:       uint32(fee.Uint64()),
	}, nil
}

func buildExactInputSingle(values []interface{}, _ *types.PendingTransaction) (*SwapAction, error) {
	fields, err := tupleFields(values[0], "TokenIn", "TokenOut", "Fee", "Recipient", "Deadline", "AmountIn", "AmountOutMinimum")
	if err != nil {
		return nil, err
	}
	a, err := singlePoolAction(fields)
	if err != nil {
		return nil, err
	}
	if a.AmountIn, err = asBig("amountIn", fields[5]); err != nil {
		return nil, err
	}
	if a.AmountOutMin, err = asBig("amountOutMinimum", fields[6]); err != nil {
		return nil, err
	}
	return a, nil
}

func buildExactOutputSingle(values []interface{}, _ *types.PendingTransaction) (*SwapAction, error) {
	fields, err := tupleFields(values[0], "TokenIn", "TokenOut", "Fee", "Recipient", "Deadline", "AmountOut", "AmountInMaximum")
	if err != nil {
		return nil, err
	}
	a, err := singlePoolAction(fields)
	if err != nil {
		return nil, err
	}
	if a.AmountOut, err = asBig("amountOut", fields[5]); err != nil {
		return nil, err
	}
	if a.AmountInMax, err = asBig("amountInMaximum", fields[6]); err != nil {
		return nil, err
	}
	return a, nil
}
