package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/R3E-Network/miniapp-host/internal/wallet"
)

// TxRequest is the eth_sendTransaction parameter object. Absent fields are
// populated from the provider.
type TxRequest struct {
	From     string          `json:"from,omitempty"`
	To       *common.Address `json:"to,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
	Input    hexutil.Bytes   `json:"input,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
	ChainID  *hexutil.Big    `json:"chainId,omitempty"`
}

func (r *TxRequest) payload() []byte {
	if len(r.Input) > 0 {
		return r.Input
	}
	return r.Data
}

func (r *TxRequest) value() *big.Int {
	if r.Value == nil {
		return new(big.Int)
	}
	return r.Value.ToInt()
}

// Sender fills, signs and submits transactions from the host wallet.
type Sender struct {
	provider wallet.Provider
	signer   wallet.Signer
}

// NewSender creates a Sender.
func NewSender(provider wallet.Provider, signer wallet.Signer) *Sender {
	return &Sender{provider: provider, signer: signer}
}

// ChainID asks the provider for its chain id.
func (s *Sender) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := s.provider.Call(ctx, &id, "eth_chainId"); err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	return id.ToInt(), nil
}

// Build populates the missing fields of req and returns the signed transaction.
func (s *Sender) Build(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	from := s.signer.Address()

	var chainID *big.Int
	if req.ChainID != nil {
		chainID = req.ChainID.ToInt()
	} else {
		id, err := s.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		chainID = id
	}

	var nonce uint64
	if req.Nonce != nil {
		nonce = uint64(*req.Nonce)
	} else {
		var n hexutil.Uint64
		if err := s.provider.Call(ctx, &n, "eth_getTransactionCount", from, "pending"); err != nil {
			return nil, fmt.Errorf("eth_getTransactionCount: %w", err)
		}
		nonce = uint64(n)
	}

	var gasPrice *big.Int
	if req.GasPrice != nil {
		gasPrice = req.GasPrice.ToInt()
	} else {
		var p hexutil.Big
		if err := s.provider.Call(ctx, &p, "eth_gasPrice"); err != nil {
			return nil, fmt.Errorf("eth_gasPrice: %w", err)
		}
		gasPrice = p.ToInt()
	}

	var gas uint64
	if req.Gas != nil {
		gas = uint64(*req.Gas)
	} else {
		call := map[string]interface{}{
			"from":  from,
			"value": (*hexutil.Big)(req.value()),
		}
		if req.To != nil {
			call["to"] = req.To
		}
		if data := req.payload(); len(data) > 0 {
			call["data"] = hexutil.Bytes(data)
		}
		var g hexutil.Uint64
		if err := s.provider.Call(ctx, &g, "eth_estimateGas", call); err != nil {
			return nil, fmt.Errorf("eth_estimateGas: %w", err)
		}
		gas = uint64(g)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       req.To,
		Value:    req.value(),
		Data:     req.payload(),
	})
	return s.signer.SignTransaction(ctx, tx, chainID)
}

// Send builds req and submits it with eth_sendRawTransaction.
func (s *Sender) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	signed, err := s.Build(ctx, req)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	var hash common.Hash
	if err := s.provider.Call(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendRawTransaction: %w", err)
	}
	return hash, nil
}
