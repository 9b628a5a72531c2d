package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-host/internal/capability"
	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/host"
	"github.com/R3E-Network/miniapp-host/internal/identity"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/sandbox"
	"github.com/R3E-Network/miniapp-host/internal/store"
	"github.com/R3E-Network/miniapp-host/internal/wallet"
	"github.com/R3E-Network/miniapp-host/internal/wallet/wallettest"
)

func newHost(t *testing.T) *host.Host {
	t.Helper()
	signer, err := wallet.NewLocalSignerFromHex("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	h := host.New(identity.NewContext(&identity.Identity{FID: 3, Username: "dwr"}), capability.Deps{
		Signer:    signer,
		Provider:  wallettest.NewProvider(10),
		Confirmer: confirm.Approve,
		Store:     store.NewMemory(),
		Client:    identity.ClientInfo{PlatformType: "web", ClientFID: 9152},
	})
	t.Cleanup(h.CloseAll)
	return h
}

func directions(entries []sandbox.Entry) map[string]int {
	out := make(map[string]int)
	for _, e := range entries {
		out[e.Direction]++
	}
	return out
}

func TestRun_ContentCloses(t *testing.T) {
	script := `
		miniapp.call("ready").then(function () {
			return miniapp.call("context");
		}).then(function (ctx) {
			console.log("user", ctx.user.username);
			return miniapp.call("setPrimaryButton", {text: "Mint"});
		}).then(function () {
			return miniapp.call("close");
		});
	`
	report := run(context.Background(), newHost(t), logging.NewDiscard(),
		runOptions{url: "https://app.example.com/", script: script, timeout: 5 * time.Second})

	assert.Equal(t, OutcomeClosed, report.Outcome, report.Error)
	assert.Equal(t, "closed", report.FinalState)
	assert.NotEmpty(t, report.SessionID)
	assert.Contains(t, report.Console, "userdwr")

	counts := directions(report.Transcript)
	assert.Equal(t, 4, counts[sandbox.Outbound])
	assert.Equal(t, 4, counts[sandbox.Inbound], "close is answered before teardown")
	assert.GreaterOrEqual(t, counts[sandbox.Injected], 1)
}

func TestRun_Deadline(t *testing.T) {
	report := run(context.Background(), newHost(t), logging.NewDiscard(),
		runOptions{url: "https://app.example.com/", script: `console.log("idle")`, timeout: 100 * time.Millisecond})

	assert.Equal(t, OutcomeDeadline, report.Outcome)
	assert.Equal(t, "opening", report.FinalState)
	assert.Equal(t, []string{"idle"}, report.Console)
}

func TestRun_ScriptError(t *testing.T) {
	report := run(context.Background(), newHost(t), logging.NewDiscard(),
		runOptions{url: "https://app.example.com/", script: `throw new Error("boom")`, timeout: time.Second})

	assert.Equal(t, OutcomeError, report.Outcome)
	assert.Contains(t, report.Error, "boom")
}

func TestRun_BadURL(t *testing.T) {
	report := run(context.Background(), newHost(t), logging.NewDiscard(),
		runOptions{url: "ftp://files.example", script: ``, timeout: time.Second})

	assert.Equal(t, OutcomeError, report.Outcome)
	assert.Empty(t, report.SessionID)
}
