// Package siwf builds and verifies Sign-In-With-Farcaster messages: SIWE
// plaintext challenges extended with a farcaster fid resource.
package siwf

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/R3E-Network/miniapp-host/internal/wallet"
)

const (
	// Version is the only supported message version.
	Version = "1"
	// TimeLayout is the ISO-8601 layout used for all timestamps.
	TimeLayout = "2006-01-02T15:04:05.000Z"

	headerSuffix   = " wants you to sign in with your Ethereum account:"
	resourcePrefix = "farcaster://fid/"
)

// AuthMethod tells verifiers which key signed the message.
type AuthMethod string

const (
	AuthMethodCustody     AuthMethod = "custody"
	AuthMethodAuthAddress AuthMethod = "authAddress"
)

// Message is a structured sign-in challenge.
type Message struct {
	Domain         string
	Address        common.Address
	Statement      string
	URI            string
	ChainID        int64
	Nonce          string
	IssuedAt       time.Time
	NotBefore      *time.Time
	ExpirationTime *time.Time
	FID            int64
}

var nonceRe = regexp.MustCompile(`^[a-zA-Z0-9]{8,}$`)

// NewNonce returns a random alphanumeric nonce.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Validate checks the fields that verifiers reject.
func (m *Message) Validate() error {
	if m.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if m.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if m.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if !nonceRe.MatchString(m.Nonce) {
		return fmt.Errorf("nonce must be at least 8 alphanumeric characters")
	}
	if m.IssuedAt.IsZero() {
		return fmt.Errorf("issued at is required")
	}
	if strings.ContainsAny(m.Statement, "\n\r") {
		return fmt.Errorf("statement must be a single line")
	}
	return nil
}

// String renders the exact text that is signed. Field order and separators
// are fixed; identical inputs always produce identical bytes.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(m.Domain + headerSuffix + "\n")
	b.WriteString(m.Address.Hex() + "\n")
	b.WriteString("\n")
	b.WriteString(m.Statement + "\n")
	b.WriteString("\n")
	b.WriteString("URI: " + m.URI + "\n")
	b.WriteString("Version: " + Version + "\n")
	b.WriteString("Chain ID: " + strconv.FormatInt(m.ChainID, 10) + "\n")
	b.WriteString("Nonce: " + m.Nonce + "\n")
	b.WriteString("Issued At: " + FormatTime(m.IssuedAt) + "\n")
	if m.NotBefore != nil {
		b.WriteString("Not Before: " + FormatTime(*m.NotBefore) + "\n")
	}
	if m.ExpirationTime != nil {
		b.WriteString("Expiration Time: " + FormatTime(*m.ExpirationTime) + "\n")
	}
	b.WriteString("Resources:\n")
	b.WriteString("- " + resourcePrefix + strconv.FormatInt(m.FID, 10))
	return b.String()
}

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts the message layout and plain RFC 3339.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

// Sign renders m and signs its UTF-8 bytes.
func Sign(ctx context.Context, signer wallet.Signer, m *Message) (text string, signature []byte, err error) {
	if err := m.Validate(); err != nil {
		return "", nil, err
	}
	text = m.String()
	signature, err = signer.SignMessage(ctx, []byte(text))
	if err != nil {
		return "", nil, fmt.Errorf("sign message: %w", err)
	}
	return text, signature, nil
}

// Parse reconstructs a Message from its text. Parse(m.String()) round-trips.
func Parse(text string) (*Message, error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) < 12 {
		return nil, fmt.Errorf("message too short")
	}

	m := &Message{}
	if !strings.HasSuffix(lines[0], headerSuffix) {
		return nil, fmt.Errorf("missing header line")
	}
	m.Domain = strings.TrimSuffix(lines[0], headerSuffix)

	if !common.IsHexAddress(lines[1]) {
		return nil, fmt.Errorf("invalid address line")
	}
	m.Address = common.HexToAddress(lines[1])

	if lines[2] != "" || lines[4] != "" {
		return nil, fmt.Errorf("statement must be surrounded by blank lines")
	}
	m.Statement = lines[3]

	i := 5
	field := func(name string) (string, bool) {
		if i < len(lines) && strings.HasPrefix(lines[i], name+": ") {
			v := strings.TrimPrefix(lines[i], name+": ")
			i++
			return v, true
		}
		return "", false
	}

	var ok bool
	if m.URI, ok = field("URI"); !ok {
		return nil, fmt.Errorf("missing URI")
	}
	if v, ok := field("Version"); !ok || v != Version {
		return nil, fmt.Errorf("unsupported version")
	}
	chain, ok := field("Chain ID")
	if !ok {
		return nil, fmt.Errorf("missing chain id")
	}
	id, err := strconv.ParseInt(chain, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chain id: %w", err)
	}
	m.ChainID = id
	if m.Nonce, ok = field("Nonce"); !ok {
		return nil, fmt.Errorf("missing nonce")
	}
	issued, ok := field("Issued At")
	if !ok {
		return nil, fmt.Errorf("missing issued at")
	}
	if m.IssuedAt, err = ParseTime(issued); err != nil {
		return nil, err
	}
	if v, ok := field("Not Before"); ok {
		t, err := ParseTime(v)
		if err != nil {
			return nil, err
		}
		m.NotBefore = &t
	}
	if v, ok := field("Expiration Time"); ok {
		t, err := ParseTime(v)
		if err != nil {
			return nil, err
		}
		m.ExpirationTime = &t
	}

	if i+1 >= len(lines) || lines[i] != "Resources:" {
		return nil, fmt.Errorf("missing resources")
	}
	res := strings.TrimPrefix(lines[i+1], "- ")
	if !strings.HasPrefix(res, resourcePrefix) {
		return nil, fmt.Errorf("missing fid resource")
	}
	if m.FID, err = strconv.ParseInt(strings.TrimPrefix(res, resourcePrefix), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid fid resource: %w", err)
	}
	return m, nil
}

// Verify parses text, checks the signature was produced by the message's
// address over the exact text, and checks the validity window against now.
func Verify(text string, signature []byte, now time.Time) (*Message, error) {
	m, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if m.String() != text {
		return nil, fmt.Errorf("message is not in canonical form")
	}
	signer, err := wallet.RecoverMessageSigner([]byte(text), signature)
	if err != nil {
		return nil, err
	}
	if signer != m.Address {
		return nil, fmt.Errorf("signature does not match address %s", m.Address.Hex())
	}
	if m.NotBefore != nil && now.Before(*m.NotBefore) {
		return nil, fmt.Errorf("message not yet valid")
	}
	if m.ExpirationTime != nil && !now.Before(*m.ExpirationTime) {
		return nil, fmt.Errorf("message expired")
	}
	return m, nil
}
