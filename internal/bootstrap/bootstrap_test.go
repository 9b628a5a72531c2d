package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-host/internal/config"
	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/wallet/wallettest"
)

const (
	devKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestBuild_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Wallet.PrivateKey = devKey
	cfg.Identity = config.IdentityConfig{FID: 3, Username: "dwr"}

	rt, err := Build(context.Background(), &cfg, logging.NewDiscard())
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close(context.Background())) }()

	assert.Equal(t, devAddress, rt.Signer.Address().Hex())
	assert.NotNil(t, rt.Audit)
	assert.Equal(t, rt.Provider, rt.Deps.Provider)
	assert.Equal(t, confirm.Deny, rt.Deps.Confirmer)
	assert.Equal(t, int64(10), rt.Deps.SignInChainID)
	assert.Equal(t, cfg.Chain.SupportedChains, rt.Deps.SupportedChains)
	assert.NotNil(t, rt.Deps.Opener)

	id := rt.Auth.Current()
	require.NotNil(t, id)
	assert.Equal(t, int64(3), id.FID)
	assert.Equal(t, devAddress, id.WalletAddress)
}

func TestBuild_EphemeralWalletNoIdentity(t *testing.T) {
	cfg := config.Default()
	cfg.Audit.Enabled = false

	rt, err := Build(context.Background(), &cfg, logging.NewDiscard())
	require.NoError(t, err)
	defer rt.Close(context.Background())

	assert.NotEqual(t, "0x0000000000000000000000000000000000000000", rt.Signer.Address().Hex())
	assert.Nil(t, rt.Audit)
	assert.Nil(t, rt.Auth.Current())
}

func TestBuild_LocalIdentityDropsFID(t *testing.T) {
	cfg := config.Default()
	cfg.Wallet.PrivateKey = devKey
	cfg.Identity = config.IdentityConfig{FID: 99, Username: "local", Local: true}

	rt, err := Build(context.Background(), &cfg, logging.NewDiscard())
	require.NoError(t, err)
	defer rt.Close(context.Background())

	require.NotNil(t, rt.Auth.Current())
	assert.Equal(t, int64(0), rt.Auth.Current().FID)
}

func TestBuild_Options(t *testing.T) {
	cfg := config.Default()
	cfg.Wallet.PrivateKey = devKey
	provider := wallettest.NewProvider(10)

	rt, err := Build(context.Background(), &cfg, logging.NewDiscard(),
		WithProvider(provider), WithConfirmer(confirm.Approve))
	require.NoError(t, err)
	defer rt.Close(context.Background())

	assert.Equal(t, provider, rt.Deps.Provider)
	assert.Equal(t, confirm.Approve, rt.Deps.Confirmer)
}

func TestBuild_Errors(t *testing.T) {
	cfg := config.Default()
	cfg.Wallet.PrivateKey = "not-hex"
	_, err := Build(context.Background(), &cfg, logging.NewDiscard())
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Confirm.Policy = "sometimes"
	_, err = Build(context.Background(), &cfg, logging.NewDiscard())
	assert.Error(t, err)
}
