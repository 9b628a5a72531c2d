package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/R3E-Network/miniapp-host/internal/metrics"
)

// Provider executes JSON-RPC calls against a chain node. result follows
// rpc.Client.CallContext semantics: a *json.RawMessage receives the node's
// answer untouched.
type Provider interface {
	Call(ctx context.Context, result interface{}, method string, params ...interface{}) error
}

// RPCProvider is a Provider backed by a go-ethereum rpc.Client.
type RPCProvider struct {
	client *rpc.Client
}

// DialProvider connects to an HTTP or websocket RPC endpoint.
func DialProvider(ctx context.Context, url string) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}
	return &RPCProvider{client: client}, nil
}

// NewRPCProvider wraps an existing client.
func NewRPCProvider(client *rpc.Client) *RPCProvider {
	return &RPCProvider{client: client}
}

func (p *RPCProvider) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	err := p.client.CallContext(ctx, result, method, params...)
	metrics.RecordProviderCall(method, err == nil)
	return err
}

// Close releases the underlying connection.
func (p *RPCProvider) Close() {
	p.client.Close()
}

// ProviderError describes an error answer from the node itself, as opposed to
// a transport failure.
type ProviderError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// AsProviderError extracts node-level error details when err carries them.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return nil, false
	}
	pe = &ProviderError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	var de rpc.DataError
	if errors.As(err, &de) {
		pe.Data = de.ErrorData()
	}
	return pe, true
}
