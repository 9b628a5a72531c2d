// Package capability implements the host operations exposed to mini apps.
// Every operation validates its own input and maps every failure onto the
// bridge error taxonomy before returning.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/R3E-Network/miniapp-host/internal/audit"
	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/errors"
	"github.com/R3E-Network/miniapp-host/internal/eth"
	"github.com/R3E-Network/miniapp-host/internal/identity"
	"github.com/R3E-Network/miniapp-host/internal/logging"
	"github.com/R3E-Network/miniapp-host/internal/manifest"
	"github.com/R3E-Network/miniapp-host/internal/metrics"
	"github.com/R3E-Network/miniapp-host/internal/protocol"
	"github.com/R3E-Network/miniapp-host/internal/store"
	"github.com/R3E-Network/miniapp-host/internal/wallet"
)

// UI is the slice of the host UI controller the registry drives directly.
type UI interface {
	MarkReady()
	RequestClose()
	SetPrimaryButton(state protocol.PrimaryButtonState)
	CurrentURL() string
	SetCurrentURL(url string)
}

// URLOpener opens a URL outside the mini app surface.
type URLOpener interface {
	OpenURL(ctx context.Context, url string) error
}

// Alerter surfaces a host-level alert to the user.
type Alerter interface {
	Alert(ctx context.Context, title, message string)
}

// Haptics plays a vibration pattern: alternating on and off durations.
type Haptics interface {
	Vibrate(ctx context.Context, pattern []time.Duration) error
}

// Navigator switches the visible screen to a mini app URL.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Signer    wallet.Signer
	Provider  wallet.Provider
	Confirmer confirm.Confirmer
	Identity  identity.Accessor
	Store     store.AppStore
	Audit     *audit.Logger
	Logger    *logging.Logger

	Opener  URLOpener
	Alerter Alerter
	Haptics Haptics
	// Navigator is optional; openMiniApp falls back to updating state only.
	Navigator Navigator

	Client          identity.ClientInfo
	SignInChainID   int64
	SignInStatement string
	ManifestTTL     time.Duration
	SupportedChains []string

	// ContextChanged is called after an operation changes the host context.
	ContextChanged func()
	Now            func() time.Time
}

type operation func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Registry serves capability calls for one session bound to one domain.
type Registry struct {
	deps   Deps
	ui     UI
	domain string

	proxy  *eth.Proxy
	sender *eth.Sender
	issuer *manifest.Issuer
	ops    map[string]operation
}

// New builds a registry for a session on domain.
func New(deps Deps, ui UI, domain string) *Registry {
	if deps.Logger == nil {
		deps.Logger = logging.NewDiscard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Identity == nil {
		deps.Identity = func() *identity.Identity { return nil }
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if deps.SignInStatement == "" {
		deps.SignInStatement = "Farcaster Auth"
	}
	if deps.SignInChainID == 0 {
		deps.SignInChainID = 10
	}
	if deps.ManifestTTL == 0 {
		deps.ManifestTTL = 365 * 24 * time.Hour
	}

	r := &Registry{
		deps:   deps,
		ui:     ui,
		domain: domain,
		proxy:  eth.NewProxy(deps.Provider, deps.Signer, deps.Confirmer, eth.WithLogger(deps.Logger)),
		sender: eth.NewSender(deps.Provider, deps.Signer),
		issuer: manifest.NewIssuer(deps.Signer, deps.ManifestTTL, manifest.WithClock(deps.Now)),
	}
	r.ops = map[string]operation{
		"ready":                r.ready,
		"close":                r.closeSurface,
		"openUrl":              r.openURL,
		"openMiniApp":          r.openMiniApp,
		"composeCast":          r.composeCast,
		"viewProfile":          r.viewProfile,
		"viewToken":            r.viewToken,
		"setPrimaryButton":     r.setPrimaryButton,
		"addMiniApp":           r.addMiniApp,
		"context":              r.hostContext,
		"getCapabilities":      r.getCapabilities,
		"getChains":            r.getChains,
		"signIn":               r.signIn,
		"signManifest":         r.signManifest,
		"ethProviderRequest":   r.ethProviderRequest,
		"sendToken":            r.sendToken,
		"swapToken":            r.swapToken,
		"impactOccurred":       r.impactOccurred,
		"notificationOccurred": r.notificationOccurred,
		"selectionChanged":     r.selectionChanged,
	}
	return r
}

// Domain is the hostname this registry is bound to.
func (r *Registry) Domain() string { return r.domain }

// Methods lists the operation names in sorted order.
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.ops))
	for name := range r.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke runs one operation. The returned error, if any, is always a
// *errors.BridgeError; panics inside an operation become Internal errors.
func (r *Registry) Invoke(ctx context.Context, method string, params json.RawMessage) (result interface{}, err error) {
	start := time.Now()
	ctx = logging.WithDomain(ctx, r.domain)

	op, ok := r.ops[method]
	if !ok {
		err = errors.UnsupportedMethod(method)
		r.finish(ctx, "unsupported", start, err)
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = errors.Internal(fmt.Errorf("panic in %s: %v", method, rec))
		}
		if err != nil {
			result = nil
			err = errors.From(err)
		}
		r.finish(ctx, method, start, err)
	}()

	return op(ctx, params)
}

func (r *Registry) finish(ctx context.Context, method string, start time.Time, err error) {
	dur := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = string(errors.CodeOf(err))
	}
	metrics.RecordCapabilityCall(method, outcome, dur)

	entry := r.deps.Logger.WithContext(ctx).WithFields(map[string]interface{}{
		"method":      method,
		"outcome":     outcome,
		"duration_ms": dur.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("capability failed")
		return
	}
	entry.Debug("capability served")
}

func (r *Registry) askConfirmation(ctx context.Context, d confirm.Details) (bool, error) {
	d.Domain = r.domain
	approved, err := r.deps.Confirmer.RequestConfirmation(ctx, d)
	if err != nil {
		metrics.RecordConfirmation(string(d.Kind), false)
		return false, errors.ConfirmationFailed(err)
	}
	metrics.RecordConfirmation(string(d.Kind), approved)
	return approved, nil
}

func (r *Registry) record(ctx context.Context, method, outcome, txHash, detail string) {
	r.deps.Audit.Log(audit.Event{
		Session: logging.GetSessionID(ctx),
		Domain:  r.domain,
		Method:  method,
		Outcome: outcome,
		Address: r.deps.Signer.Address().Hex(),
		TxHash:  txHash,
		Detail:  detail,
	})
}

func (r *Registry) contextChanged() {
	if r.deps.ContextChanged != nil {
		r.deps.ContextChanged()
	}
}

// decode unmarshals an object parameter. Absent params leave v untouched.
func decode(params json.RawMessage, v interface{}) error {
	trimmed := strings.TrimSpace(string(params))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errors.InvalidParams("malformed params: " + err.Error())
	}
	return nil
}
