package eth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/errors"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/wallet"
)

// Handler serves one JSON-RPC method. params is the positional parameter
// array, possibly empty.
type Handler func(ctx context.Context, params []json.RawMessage) (interface{}, error)

// ReadMethods are forwarded to the provider untouched.
var ReadMethods = []string{
	"eth_chainId",
	"eth_getBalance",
	"eth_blockNumber",
	"eth_call",
	"eth_estimateGas",
	"eth_gasPrice",
	"eth_getTransactionCount",
	"eth_getTransactionReceipt",
}

// Proxy maps method names to handlers. Reads go to the provider; signing and
// sending go through the host wallet after an address check.
type Proxy struct {
	provider  wallet.Provider
	signer    wallet.Signer
	confirmer confirm.Confirmer
	sender    *Sender
	logger    *logging.Logger
	methods   map[string]Handler
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Proxy) { p.logger = l }
}

// WithHandler adds or replaces a method handler.
func WithHandler(method string, h Handler) Option {
	return func(p *Proxy) { p.methods[method] = h }
}

// NewProxy builds the method table.
func NewProxy(provider wallet.Provider, signer wallet.Signer, confirmer confirm.Confirmer, opts ...Option) *Proxy {
	p := &Proxy{
		provider:  provider,
		signer:    signer,
		confirmer: confirmer,
		sender:    NewSender(provider, signer),
		logger:    logging.NewDiscard(),
		methods:   make(map[string]Handler),
	}
	for _, m := range ReadMethods {
		p.methods[m] = p.passthrough(m)
	}
	p.methods["eth_accounts"] = p.accounts
	p.methods["eth_requestAccounts"] = p.accounts
	p.methods["personal_sign"] = p.personalSign
	p.methods["eth_sign"] = p.ethSign
	p.methods["eth_signTypedData"] = p.signTypedData
	p.methods["eth_signTypedData_v4"] = p.signTypedData
	p.methods["eth_sendTransaction"] = p.sendTransaction
	p.methods["wallet_switchEthereumChain"] = p.switchChain
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Methods lists the supported method names.
func (p *Proxy) Methods() []string {
	out := make([]string, 0, len(p.methods))
	for m := range p.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Handler returns the handler for method.
func (p *Proxy) Handler(method string) (Handler, bool) {
	h, ok := p.methods[method]
	return h, ok
}

// Request dispatches one call. rawParams must be a JSON array, null or empty.
func (p *Proxy) Request(ctx context.Context, method string, rawParams json.RawMessage) (interface{}, error) {
	h, ok := p.methods[method]
	if !ok {
		return nil, errors.UnsupportedMethod(method)
	}
	var params []json.RawMessage
	if trimmed := strings.TrimSpace(string(rawParams)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, errors.InvalidParams("params must be an array")
		}
	}
	return h(ctx, params)
}

func (p *Proxy) passthrough(method string) Handler {
	return func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
		args := make([]interface{}, len(params))
		for i := range params {
			args[i] = params[i]
		}
		var out json.RawMessage
		if err := p.provider.Call(ctx, &out, method, args...); err != nil {
			return nil, providerFailure(err, errors.NetworkError)
		}
		return out, nil
	}
}

func (p *Proxy) accounts(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	return []string{p.signer.Address().Hex()}, nil
}

// personal_sign: [message, address]
func (p *Proxy) personalSign(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	msg, err := stringParam(params, 0, "message")
	if err != nil {
		return nil, err
	}
	addr, err := stringParam(params, 1, "address")
	if err != nil {
		return nil, err
	}
	if err := p.checkAddress(addr); err != nil {
		return nil, err
	}
	return p.signMessage(ctx, decodeMessage(msg))
}

// eth_sign: [address, message]
func (p *Proxy) ethSign(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	addr, err := stringParam(params, 0, "address")
	if err != nil {
		return nil, err
	}
	msg, err := stringParam(params, 1, "message")
	if err != nil {
		return nil, err
	}
	if err := p.checkAddress(addr); err != nil {
		return nil, err
	}
	return p.signMessage(ctx, decodeMessage(msg))
}

func (p *Proxy) signMessage(ctx context.Context, msg []byte) (interface{}, error) {
	sig, err := p.signer.SignMessage(ctx, msg)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return hexutil.Encode(sig), nil
}

// eth_signTypedData[_v4]: [address, typedData] where typedData is an object
// or its JSON string.
func (p *Proxy) signTypedData(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	addr, err := stringParam(params, 0, "address")
	if err != nil {
		return nil, err
	}
	if len(params) < 2 || isNull(params[1]) {
		return nil, errors.MissingParameter("typedData")
	}
	if err := p.checkAddress(addr); err != nil {
		return nil, err
	}

	raw := []byte(params[1])
	var encoded string
	if json.Unmarshal(params[1], &encoded) == nil {
		raw = []byte(encoded)
	}
	var data apitypes.TypedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.InvalidParams("typedData is not valid EIP-712 JSON")
	}
	sig, err := p.signer.SignTypedData(ctx, data)
	if err != nil {
		return nil, errors.InvalidParams("typedData could not be hashed").WithCause(err)
	}
	return hexutil.Encode(sig), nil
}

// eth_sendTransaction: [tx]
func (p *Proxy) sendTransaction(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) < 1 || isNull(params[0]) {
		return nil, errors.MissingParameter("transaction")
	}
	var req TxRequest
	if err := json.Unmarshal(params[0], &req); err != nil {
		return nil, errors.InvalidParams("transaction object is malformed")
	}
	if req.From == "" {
		return nil, errors.MissingParameter("from")
	}
	if err := p.checkAddress(req.From); err != nil {
		return nil, err
	}

	fields := map[string]string{"value": req.value().String()}
	if req.To != nil {
		fields["to"] = req.To.Hex()
	}
	if data := req.payload(); len(data) > 0 {
		fields["data"] = hexutil.Encode(data)
	}
	approved, err := p.confirmer.RequestConfirmation(ctx, confirm.Details{
		Kind:   confirm.KindTransaction,
		Domain: logging.GetDomain(ctx),
		Title:  "Send transaction",
		Fields: fields,
	})
	if err != nil {
		return nil, errors.ConfirmationFailed(err)
	}
	if !approved {
		return nil, errors.RejectedByUser()
	}

	hash, err := p.sender.Send(ctx, req)
	if err != nil {
		return nil, providerFailure(err, errors.TransactionFailed)
	}
	p.logger.WithContext(ctx).WithField("tx_hash", hash.Hex()).Info("transaction submitted")
	return hash.Hex(), nil
}

// wallet_switchEthereumChain: [{chainId}]. Only the provider's chain is
// available.
func (p *Proxy) switchChain(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) < 1 || isNull(params[0]) {
		return nil, errors.MissingParameter("chainId")
	}
	var arg struct {
		ChainID *hexutil.Big `json:"chainId"`
	}
	if err := json.Unmarshal(params[0], &arg); err != nil {
		return nil, errors.InvalidParams("chainId must be a hex quantity")
	}
	if arg.ChainID == nil {
		return nil, errors.MissingParameter("chainId")
	}
	current, err := p.sender.ChainID(ctx)
	if err != nil {
		return nil, providerFailure(err, errors.NetworkError)
	}
	if current.Cmp(arg.ChainID.ToInt()) != 0 {
		return nil, errors.UnsupportedMethod("wallet_switchEthereumChain").
			WithData("chainId", arg.ChainID.String()).
			WithData("currentChainId", (*hexutil.Big)(current).String())
	}
	return nil, nil
}

func (p *Proxy) checkAddress(addr string) error {
	own := p.signer.Address().Hex()
	if !wallet.SameAddress(addr, own) {
		return errors.AddressMismatch(addr, own)
	}
	return nil
}

// ChainID reports the provider's chain.
func (p *Proxy) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := p.sender.ChainID(ctx)
	if err != nil {
		return nil, providerFailure(err, errors.NetworkError)
	}
	return id, nil
}

func stringParam(params []json.RawMessage, i int, name string) (string, error) {
	if i >= len(params) || isNull(params[i]) {
		return "", errors.MissingParameter(name)
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err != nil {
		return "", errors.InvalidParams(name + " must be a string")
	}
	if s == "" {
		return "", errors.MissingParameter(name)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// decodeMessage treats 0x-prefixed hex as bytes and anything else as UTF-8.
func decodeMessage(msg string) []byte {
	if strings.HasPrefix(msg, "0x") {
		if b, err := hexutil.Decode(msg); err == nil {
			return b
		}
	}
	return []byte(msg)
}

// providerFailure maps provider errors onto the bridge taxonomy. Node answers
// keep their code and message as data; cancellations pass through so the
// caller sees the session closing.
func providerFailure(err error, wrap func(error) *errors.BridgeError) error {
	var be *errors.BridgeError
	if stderrors.As(err, &be) {
		return be
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.From(err)
	}
	out := wrap(err)
	if pe, ok := wallet.AsProviderError(err); ok {
		out = out.WithData("providerCode", pe.Code).WithData("providerMessage", pe.Message)
	}
	if stderrors.Is(err, wallet.ErrCircuitOpen) {
		out = out.WithData("circuit", "open")
	}
	return out
}
