// Package manifest issues domain association tokens: JWT-shaped compact
// tokens whose signature is an EIP-191 personal signature from the host
// wallet over "header.payload".
package manifest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/miniapp-host/internal/wallet"
)

// Alg is the header alg value for wallet-signed tokens.
const Alg = "EIP191"

var domainRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// ValidDomain reports whether domain is a lowercase dotted hostname with an
// alphabetic TLD of at least two letters.
func ValidDomain(domain string) bool {
	return len(domain) <= 253 && domainRe.MatchString(domain)
}

// Claims is the token payload.
type Claims struct {
	Domain string `json:"domain"`
	jwt.RegisteredClaims
}

// Token is a signed manifest split into its three base64url segments.
type Token struct {
	Header    string `json:"header"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Compact joins the segments into the dotted form.
func (t Token) Compact() string {
	return t.Header + "." + t.Payload + "." + t.Signature
}

// SplitToken parses a compact token into segments without verifying it.
func SplitToken(compact string) (Token, error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return Token{}, fmt.Errorf("token must have 3 segments, got %d", len(parts))
	}
	return Token{Header: parts[0], Payload: parts[1], Signature: parts[2]}, nil
}

// SignerKey is the signing key handed to the jwt library. The context bounds
// the wallet call.
type SignerKey struct {
	Ctx    context.Context
	Signer wallet.Signer
}

type signingMethodEIP191 struct{}

// SigningMethodEIP191 signs with wallet.Signer.SignMessage and verifies by
// address recovery. Sign takes a SignerKey, Verify a common.Address.
var SigningMethodEIP191 jwt.SigningMethod = &signingMethodEIP191{}

func init() {
	jwt.RegisterSigningMethod(Alg, func() jwt.SigningMethod { return SigningMethodEIP191 })
}

func (m *signingMethodEIP191) Alg() string { return Alg }

func (m *signingMethodEIP191) Sign(signingString string, key interface{}) ([]byte, error) {
	k, ok := key.(SignerKey)
	if !ok || k.Signer == nil {
		return nil, jwt.ErrInvalidKeyType
	}
	ctx := k.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return k.Signer.SignMessage(ctx, []byte(signingString))
}

func (m *signingMethodEIP191) Verify(signingString string, sig []byte, key interface{}) error {
	addr, ok := key.(common.Address)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	recovered, err := wallet.RecoverMessageSigner([]byte(signingString), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", jwt.ErrSignatureInvalid, err)
	}
	if recovered != addr {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// Issuer signs manifests for one wallet.
type Issuer struct {
	signer wallet.Signer
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithClock sets the time source for iat and exp.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer returns an Issuer whose tokens expire ttl after issuance.
func NewIssuer(signer wallet.Signer, ttl time.Duration, opts ...IssuerOption) *Issuer {
	i := &Issuer{signer: signer, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Sign issues a token binding domain to the wallet address.
func (i *Issuer) Sign(ctx context.Context, domain string) (Token, error) {
	if !ValidDomain(domain) {
		return Token{}, fmt.Errorf("invalid domain %q", domain)
	}
	now := i.now()
	claims := Claims{
		Domain: domain,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.signer.Address().Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	compact, err := jwt.NewWithClaims(SigningMethodEIP191, claims).SignedString(SignerKey{Ctx: ctx, Signer: i.signer})
	if err != nil {
		return Token{}, fmt.Errorf("sign manifest: %w", err)
	}
	return SplitToken(compact)
}

// Verify checks that t was signed by its issuer and is within its validity
// window at now. It returns the decoded claims.
func Verify(t Token, now time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(t.Compact(), claims, func(tok *jwt.Token) (interface{}, error) {
		c, ok := tok.Claims.(*Claims)
		if !ok || !common.IsHexAddress(c.Issuer) {
			return nil, fmt.Errorf("issuer must be an address")
		}
		return common.HexToAddress(c.Issuer), nil
	},
		jwt.WithValidMethods([]string{Alg}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("verify manifest: %w", err)
	}
	if !ValidDomain(claims.Domain) {
		return nil, fmt.Errorf("verify manifest: invalid domain %q", claims.Domain)
	}
	return claims, nil
}
