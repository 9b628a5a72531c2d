package capability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/R3E-Network/miniapp-host/internal/audit"
	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/errors"
	"github.com/R3E-Network/miniapp-host/internal/manifest"
	"github.com/R3E-Network/miniapp-host/internal/siwf"
)

type signInParams struct {
	Nonce             string `json:"nonce"`
	NotBefore         string `json:"notBefore"`
	ExpirationTime    string `json:"expirationTime"`
	AcceptAuthAddress *bool  `json:"acceptAuthAddress"`
}

// SignInResult is returned by signIn.
type SignInResult struct {
	Message    string          `json:"message"`
	Signature  string          `json:"signature"`
	AuthMethod siwf.AuthMethod `json:"authMethod"`
}

func (r *Registry) signIn(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p signInParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	user := r.deps.Identity()
	if user == nil {
		return nil, errors.NotAuthenticated()
	}

	method := siwf.AuthMethodCustody
	if user.External() && (p.AcceptAuthAddress == nil || *p.AcceptAuthAddress) {
		method = siwf.AuthMethodAuthAddress
	}

	msg := &siwf.Message{
		Domain:    r.domain,
		Address:   r.deps.Signer.Address(),
		Statement: r.deps.SignInStatement,
		URI:       "https://" + r.domain + "/",
		ChainID:   r.deps.SignInChainID,
		Nonce:     p.Nonce,
		IssuedAt:  r.deps.Now().UTC(),
		FID:       user.FID,
	}
	if msg.Nonce == "" {
		msg.Nonce = siwf.NewNonce()
	}
	var err error
	if msg.NotBefore, err = optionalTime("notBefore", p.NotBefore); err != nil {
		return nil, err
	}
	if msg.ExpirationTime, err = optionalTime("expirationTime", p.ExpirationTime); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, errors.InvalidParams(err.Error())
	}

	text, sig, err := siwf.Sign(ctx, r.deps.Signer, msg)
	if err != nil {
		return nil, errors.Internal(err)
	}
	r.record(ctx, "signIn", audit.OutcomeSigned, "", string(method))
	return SignInResult{Message: text, Signature: hexutil.Encode(sig), AuthMethod: method}, nil
}

func optionalTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := siwf.ParseTime(value)
	if err != nil {
		return nil, errors.InvalidParams(name + " must be an ISO-8601 timestamp")
	}
	return &t, nil
}

func (r *Registry) signManifest(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Domain string `json:"domain"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Domain == "" {
		return nil, errors.MissingParameter("domain")
	}
	if !manifest.ValidDomain(p.Domain) {
		return nil, errors.InvalidDomain(p.Domain)
	}

	approved, err := r.askConfirmation(ctx, confirm.Details{
		Kind:    confirm.KindSignManifest,
		Title:   "Sign domain manifest",
		Summary: "Associate " + p.Domain + " with your account",
		Fields:  map[string]string{"domain": p.Domain},
	})
	if err != nil {
		return nil, err
	}
	if !approved {
		r.record(ctx, "signManifest", audit.OutcomeRejected, "", p.Domain)
		return nil, errors.RejectedByUser()
	}

	tok, err := r.issuer.Sign(ctx, p.Domain)
	if err != nil {
		return nil, errors.Internal(err)
	}
	r.record(ctx, "signManifest", audit.OutcomeSigned, "", p.Domain)
	return tok, nil
}
