package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/R3E-Network/miniapp-host/internal/audit"
	"github.com/R3E-Network/miniapp-host/internal/confirm"
	"github.com/R3E-Network/miniapp-host/internal/errors"
	"github.com/R3E-Network/miniapp-host/internal/identity"
	"github.com/R3E-Network/miniapp-host/internal/protocol"
	"github.com/R3E-Network/miniapp-host/internal/store"
	"github.com/R3E-Network/miniapp-host/internal/transport"
)

// DeepLinkBase prefixes the compose, profile and token links.
const DeepLinkBase = "https://farcaster.xyz/~"

func (r *Registry) ready(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	r.ui.MarkReady()
	return nil, nil
}

// closeSurface answers before tearing down, so the close call still gets its
// null result.
func (r *Registry) closeSurface(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	transport.AfterReply(ctx, r.ui.RequestClose)
	return nil, nil
}

type urlParams struct {
	URL string `json:"url"`
}

// openURL is best effort: failures are logged and alerted, never returned.
func (r *Registry) openURL(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p urlParams
	if err := decode(params, &p); err != nil || strings.TrimSpace(p.URL) == "" {
		r.reportOpenFailure(ctx, p.URL, fmt.Errorf("url must be a non-empty string"))
		return nil, nil
	}
	r.open(ctx, p.URL)
	return nil, nil
}

func (r *Registry) open(ctx context.Context, target string) {
	if r.deps.Opener == nil {
		r.reportOpenFailure(ctx, target, fmt.Errorf("no url opener available"))
		return
	}
	if err := r.deps.Opener.OpenURL(ctx, target); err != nil {
		r.reportOpenFailure(ctx, target, err)
	}
}

func (r *Registry) reportOpenFailure(ctx context.Context, target string, err error) {
	r.deps.Logger.WithContext(ctx).WithError(err).WithField("url", target).Warn("open url failed")
	if r.deps.Alerter != nil {
		r.deps.Alerter.Alert(ctx, "Unable to open link", err.Error())
	}
}

// openMiniApp records the new URL first; the navigator, when present, then
// switches the visible screen. Without one the next render picks it up.
func (r *Registry) openMiniApp(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p urlParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, errors.MissingParameter("url")
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, errors.InvalidParams("url must be an absolute http(s) URL")
	}
	r.ui.SetCurrentURL(p.URL)
	if r.deps.Navigator != nil {
		if err := r.deps.Navigator.Navigate(ctx, p.URL); err != nil {
			r.deps.Logger.WithContext(ctx).WithError(err).Warn("navigation deferred")
		}
	}
	return nil, nil
}

type castParent struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
	FID  int64  `json:"fid,omitempty"`
}

type composeParams struct {
	Text       string      `json:"text"`
	Embeds     []string    `json:"embeds"`
	Parent     *castParent `json:"parent"`
	ChannelKey string      `json:"channelKey"`
	Close      bool        `json:"close"`
}

type composeResult struct {
	Cast interface{} `json:"cast"`
}

func (r *Registry) composeCast(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p composeParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Close {
		transport.AfterReply(ctx, r.ui.RequestClose)
		return nil, nil
	}
	if len(p.Embeds) > 2 {
		return nil, errors.InvalidParams("at most 2 embeds are allowed")
	}
	r.open(ctx, composeURL(p.Text, p.Embeds, p.Parent, p.ChannelKey))
	return composeResult{Cast: nil}, nil
}

// composeURL builds the external compose deep link.
func composeURL(text string, embeds []string, parent *castParent, channelKey string) string {
	q := url.Values{}
	if text != "" {
		q.Set("text", text)
	}
	for _, e := range embeds {
		q.Add("embeds[]", e)
	}
	if channelKey != "" {
		q.Set("channelKey", channelKey)
	}
	if parent != nil && parent.Hash != "" {
		q.Set("parentCastHash", parent.Hash)
	}
	if len(q) == 0 {
		return DeepLinkBase + "/compose"
	}
	return DeepLinkBase + "/compose?" + q.Encode()
}

func (r *Registry) viewProfile(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		FID int64 `json:"fid"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.FID <= 0 {
		return nil, errors.MissingParameter("fid")
	}
	r.open(ctx, DeepLinkBase+"/profiles/"+strconv.FormatInt(p.FID, 10))
	return nil, nil
}

func (r *Registry) viewToken(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Token string `json:"token"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Token == "" {
		return nil, errors.MissingParameter("token")
	}
	r.open(ctx, DeepLinkBase+"/token/"+url.PathEscape(p.Token))
	return nil, nil
}

func (r *Registry) setPrimaryButton(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var state protocol.PrimaryButtonState
	if err := decode(params, &state); err != nil {
		return nil, err
	}
	r.ui.SetPrimaryButton(state)
	return nil, nil
}

func (r *Registry) addMiniApp(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	added, err := r.deps.Store.IsAdded(ctx, r.domain)
	if err != nil {
		return nil, errors.Internal(err)
	}
	if added {
		return struct{}{}, nil
	}

	approved, err := r.askConfirmation(ctx, confirm.Details{
		Kind:    confirm.KindAddMiniApp,
		Title:   "Add mini app",
		Summary: "Add " + r.domain + " to your apps",
	})
	if err != nil {
		return nil, err
	}
	if !approved {
		r.record(ctx, "addMiniApp", audit.OutcomeRejected, "", "")
		return nil, errors.RejectedByUser()
	}

	if _, err := r.deps.Store.Add(ctx, store.AddedApp{
		Domain:  r.domain,
		URL:     r.ui.CurrentURL(),
		AddedAt: r.deps.Now().UTC(),
	}); err != nil {
		return nil, errors.Internal(err)
	}
	r.record(ctx, "addMiniApp", audit.OutcomeApproved, "", "")
	r.contextChanged()
	return struct{}{}, nil
}

func (r *Registry) hostContext(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return r.Snapshot(ctx), nil
}

// Snapshot recomputes the host context for this session.
func (r *Registry) Snapshot(ctx context.Context) protocol.HostContext {
	added, err := r.deps.Store.IsAdded(ctx, r.domain)
	if err != nil {
		r.deps.Logger.WithContext(ctx).WithError(err).Warn("added-app lookup failed")
	}
	hc := identity.Snapshot(r.deps.Identity(), r.deps.Client, added)
	if current := r.ui.CurrentURL(); current != "" {
		hc.Location = &protocol.LocationContext{Type: "launcher", URL: current}
	}
	return hc
}

func (r *Registry) getCapabilities(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return r.Methods(), nil
}

func (r *Registry) getChains(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	out := make([]string, len(r.deps.SupportedChains))
	copy(out, r.deps.SupportedChains)
	return out, nil
}
