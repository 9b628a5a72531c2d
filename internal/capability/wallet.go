package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/R3E-Network/miniapp-host/internal/audit"
	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/errors"
	"github.com/R3E-Network/miniapp-host/internal/eth"
)

// Transfer failure reasons.
const (
	ReasonRejectedByUser = "rejected_by_user"
	ReasonSendFailed     = "send_failed"
	ReasonNotImplemented = "not_implemented"
	ReasonSwapFailed     = "swap_failed"
)

// TransferError details a failed sendToken or swapToken.
type TransferError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// TransferResult is the discriminated result of sendToken and swapToken.
type TransferResult struct {
	Success         bool           `json:"success"`
	TransactionHash string         `json:"transactionHash,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	Error           *TransferError `json:"error,omitempty"`
}

func failed(reason, code, message string) TransferResult {
	res := TransferResult{Reason: reason}
	if code != "" {
		res.Error = &TransferError{Error: code, Message: message}
	}
	return res
}

var signingMethods = map[string]bool{
	"personal_sign":        true,
	"eth_sign":             true,
	"eth_signTypedData":    true,
	"eth_signTypedData_v4": true,
	"eth_sendTransaction":  true,
}

func (r *Registry) ethProviderRequest(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Method == "" {
		return nil, errors.MissingParameter("method")
	}

	result, err := r.proxy.Request(ctx, p.Method, p.Params)
	if !signingMethods[p.Method] {
		return result, err
	}

	switch {
	case err == nil && p.Method == "eth_sendTransaction":
		hash, _ := result.(string)
		r.record(ctx, p.Method, audit.OutcomeSent, hash, "")
	case err == nil:
		r.record(ctx, p.Method, audit.OutcomeSigned, "", "")
	case errors.IsCode(err, errors.CodeRejectedByUser):
		r.record(ctx, p.Method, audit.OutcomeRejected, "", "")
	case errors.IsCode(err, errors.CodeTransactionFailed):
		r.record(ctx, p.Method, audit.OutcomeFailed, "", err.Error())
	}
	return result, err
}

type sendTokenParams struct {
	Token            string `json:"token"`
	Amount           string `json:"amount"`
	RecipientAddress string `json:"recipientAddress"`
	RecipientFID     *int64 `json:"recipientFid"`
}

// sendToken transfers the native asset or an ERC-20 token from the host
// wallet. Only input errors are returned as errors; every outcome after
// validation is a TransferResult.
func (r *Registry) sendToken(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p sendTokenParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Amount == "" {
		return nil, errors.MissingParameter("amount")
	}
	amount, err := eth.ParseAmount(p.Amount)
	if err != nil {
		return nil, errors.InvalidParams(err.Error())
	}
	if p.RecipientAddress == "" {
		if p.RecipientFID != nil {
			return failed(ReasonSendFailed, "FidResolutionNotImplemented",
				"sending to a fid is not supported; pass recipientAddress"), nil
		}
		return nil, errors.MissingParameter("recipientAddress")
	}
	if !common.IsHexAddress(p.RecipientAddress) {
		return nil, errors.InvalidParams("recipientAddress is not a valid address")
	}
	recipient := common.HexToAddress(p.RecipientAddress)

	chainID, err := r.proxy.ChainID(ctx)
	if err != nil {
		return failed(ReasonSendFailed, string(errors.CodeOf(err)), "chain provider unavailable"), nil
	}

	asset := eth.Asset{ChainID: chainID, Kind: eth.AssetNative}
	if p.Token != "" {
		if asset, err = eth.ParseAsset(p.Token); err != nil {
			return nil, errors.InvalidParams(err.Error())
		}
		if asset.ChainID.Cmp(chainID) != 0 {
			return failed(ReasonSendFailed, "ChainMismatch",
				fmt.Sprintf("token is on %s but the wallet is connected to eip155:%s", asset.CAIP2(), chainID)), nil
		}
	}

	req := eth.TxRequest{ChainID: (*hexutil.Big)(chainID)}
	switch asset.Kind {
	case eth.AssetNative:
		req.To = &recipient
		req.Value = (*hexutil.Big)(amount)
	case eth.AssetERC20:
		data, err := eth.TransferCalldata(recipient, amount)
		if err != nil {
			return nil, errors.InvalidParams(err.Error())
		}
		contract := asset.Address
		req.To = &contract
		req.Data = data
	}

	approved, err := r.askConfirmation(ctx, confirm.Details{
		Kind:    confirm.KindSendToken,
		Title:   "Send token",
		Summary: fmt.Sprintf("Send %s of %s to %s", amount, asset, recipient.Hex()),
		Fields: map[string]string{
			"token":     asset.String(),
			"amount":    amount.String(),
			"recipient": recipient.Hex(),
		},
	})
	if err != nil {
		r.deps.Logger.WithContext(ctx).WithError(err).Warn("sendToken confirmation failed")
		r.record(ctx, "sendToken", audit.OutcomeFailed, "", asset.String())
		return failed(ReasonSendFailed, string(errors.CodeOf(err)), "confirmation could not be completed"), nil
	}
	if !approved {
		r.record(ctx, "sendToken", audit.OutcomeRejected, "", asset.String())
		return failed(ReasonRejectedByUser, "", ""), nil
	}

	hash, err := r.sender.Send(ctx, req)
	if err != nil {
		r.deps.Logger.WithContext(ctx).WithError(err).Warn("sendToken failed")
		r.record(ctx, "sendToken", audit.OutcomeFailed, "", asset.String())
		return failed(ReasonSendFailed, "SendFailed", "transaction could not be submitted"), nil
	}
	r.record(ctx, "sendToken", audit.OutcomeSent, hash.Hex(), asset.String())
	return TransferResult{Success: true, TransactionHash: hash.Hex()}, nil
}

type swapTokenParams struct {
	SellToken  string `json:"sellToken"`
	BuyToken   string `json:"buyToken"`
	SellAmount string `json:"sellAmount"`
}

// swapToken validates its input and reports not_implemented: the host has
// no exchange integration.
func (r *Registry) swapToken(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p swapTokenParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.SellToken == "" {
		return nil, errors.MissingParameter("sellToken")
	}
	if p.BuyToken == "" {
		return nil, errors.MissingParameter("buyToken")
	}
	for name, id := range map[string]string{"sellToken": p.SellToken, "buyToken": p.BuyToken} {
		if _, err := eth.ParseAsset(id); err != nil {
			return nil, errors.InvalidParams(name + ": " + err.Error())
		}
	}
	if p.SellAmount != "" {
		if _, err := eth.ParseAmount(p.SellAmount); err != nil {
			return nil, errors.InvalidParams("sellAmount: " + err.Error())
		}
	}
	return failed(ReasonNotImplemented, "NotImplemented", "token swaps are not available in this host"), nil
}
