package manifest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-host/internal/wallet"
)

func newIssuer(t *testing.T, now time.Time) (*Issuer, *wallet.LocalSigner) {
	t.Helper()
	signer, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	return NewIssuer(signer, 24*time.Hour, WithClock(func() time.Time { return now })), signer
}

func TestValidDomain(t *testing.T) {
	for _, d := range []string{"example.com", "app.example.co", "a-b.example.io", "x1.y2.zz"} {
		assert.True(t, ValidDomain(d), d)
	}
	for _, d := range []string{"", "localhost", "Example.com", "example.c", "-a.com", "a-.com", "example.com.", "exa mple.com", "example.123", "https://example.com"} {
		assert.False(t, ValidDomain(d), d)
	}
}

func TestSign_RoundTrip(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	iss, signer := newIssuer(t, now)

	tok, err := iss.Sign(context.Background(), "app.example.com")
	require.NoError(t, err)

	for _, seg := range []string{tok.Header, tok.Payload, tok.Signature} {
		assert.NotContains(t, seg, "=")
		assert.NotContains(t, seg, "+")
		assert.NotContains(t, seg, "/")
	}

	rawHeader, err := base64.RawURLEncoding.DecodeString(tok.Header)
	require.NoError(t, err)
	assert.Equal(t, tok.Header, base64.RawURLEncoding.EncodeToString(rawHeader))

	rawPayload, err := base64.RawURLEncoding.DecodeString(tok.Payload)
	require.NoError(t, err)
	assert.Equal(t, tok.Payload, base64.RawURLEncoding.EncodeToString(rawPayload))

	var header map[string]string
	require.NoError(t, json.Unmarshal(rawHeader, &header))
	assert.Equal(t, Alg, header["alg"])
	assert.Equal(t, "JWT", header["typ"])

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rawPayload, &payload))
	assert.Equal(t, "app.example.com", payload["domain"])
	assert.Equal(t, signer.Address().Hex(), payload["iss"])
	assert.Equal(t, float64(now.Unix()), payload["iat"])
	assert.Equal(t, float64(now.Add(24*time.Hour).Unix()), payload["exp"])

	sig, err := base64.RawURLEncoding.DecodeString(tok.Signature)
	require.NoError(t, err)
	recovered, err := wallet.RecoverMessageSigner([]byte(tok.Header+"."+tok.Payload), sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestSign_InvalidDomain(t *testing.T) {
	iss, _ := newIssuer(t, time.Now())
	_, err := iss.Sign(context.Background(), "NOT A DOMAIN")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	iss, signer := newIssuer(t, now)

	tok, err := iss.Sign(context.Background(), "app.example.com")
	require.NoError(t, err)

	claims, err := Verify(tok, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", claims.Domain)
	assert.Equal(t, signer.Address().Hex(), claims.Issuer)

	_, err = Verify(tok, now.Add(48*time.Hour))
	assert.Error(t, err, "expired token")

	other, _ := newIssuer(t, now)
	forged, err := other.Sign(context.Background(), "app.example.com")
	require.NoError(t, err)
	tampered := Token{Header: tok.Header, Payload: tok.Payload, Signature: forged.Signature}
	_, err = Verify(tampered, now)
	assert.Error(t, err)
}

func TestSplitToken(t *testing.T) {
	tok, err := SplitToken("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", tok.Compact())

	_, err = SplitToken(strings.Repeat("a.", 3))
	assert.Error(t, err)
}
