// Package wallettest provides an in-memory chain provider for tests.
package wallettest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/R3E-Network/miniapp-host/internal/wallet"
)

// Call is one recorded provider call.
type Call struct {
	Method string
	Params []interface{}
}

// Provider answers the common chain RPCs deterministically. Submitted raw
// transactions are decoded and kept; their hash is returned.
type Provider struct {
	ChainID  *big.Int
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	Balance  *big.Int

	mu        sync.Mutex
	calls     []Call
	sent      []*types.Transaction
	overrides map[string]func(params []interface{}) (interface{}, error)
}

// NewProvider returns a provider on chainID with sensible defaults.
func NewProvider(chainID int64) *Provider {
	return &Provider{
		ChainID:   big.NewInt(chainID),
		Nonce:     3,
		GasPrice:  big.NewInt(1_000_000_000),
		Gas:       21000,
		Balance:   new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		overrides: make(map[string]func([]interface{}) (interface{}, error)),
	}
}

// Handle overrides the answer for method.
func (p *Provider) Handle(method string, fn func(params []interface{}) (interface{}, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[method] = fn
}

// Fail makes method return a node error.
func (p *Provider) Fail(method string, code int, message string) {
	p.Handle(method, func([]interface{}) (interface{}, error) {
		return nil, &wallet.ProviderError{Code: code, Message: message}
	})
}

// Calls returns the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount counts calls to method.
func (p *Provider) CallCount(method string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Sent returns the transactions submitted through eth_sendRawTransaction.
func (p *Provider) Sent() []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Transaction, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *Provider) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.calls = append(p.calls, Call{Method: method, Params: params})
	override := p.overrides[method]
	p.mu.Unlock()

	var (
		answer interface{}
		err    error
	)
	if override != nil {
		answer, err = override(params)
	} else {
		answer, err = p.answer(method, params)
	}
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func (p *Provider) answer(method string, params []interface{}) (interface{}, error) {
	switch method {
	case "eth_chainId":
		return (*hexutil.Big)(p.ChainID), nil
	case "eth_blockNumber":
		return hexutil.Uint64(100), nil
	case "eth_getTransactionCount":
		return hexutil.Uint64(p.Nonce), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(p.GasPrice), nil
	case "eth_estimateGas":
		return hexutil.Uint64(p.Gas), nil
	case "eth_getBalance":
		return (*hexutil.Big)(p.Balance), nil
	case "eth_call":
		return hexutil.Bytes{}, nil
	case "eth_getTransactionReceipt":
		return nil, nil
	case "eth_sendRawTransaction":
		return p.sendRaw(params)
	default:
		return nil, &wallet.ProviderError{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", method)}
	}
}

func (p *Provider) sendRaw(params []interface{}) (interface{}, error) {
	if len(params) != 1 {
		return nil, &wallet.ProviderError{Code: -32602, Message: "missing raw transaction"}
	}
	var raw hexutil.Bytes
	switch v := params[0].(type) {
	case hexutil.Bytes:
		raw = v
	case []byte:
		raw = v
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return nil, &wallet.ProviderError{Code: -32602, Message: err.Error()}
		}
		raw = b
	default:
		return nil, &wallet.ProviderError{Code: -32602, Message: "raw transaction must be hex"}
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, &wallet.ProviderError{Code: -32000, Message: err.Error()}
	}
	p.mu.Lock()
	p.sent = append(p.sent, tx)
	p.mu.Unlock()
	return common.Hash(tx.Hash()), nil
}
