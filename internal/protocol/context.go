package protocol

// HostContext is the read side of the bridge. It is derived on every read and
// never persisted.
type HostContext struct {
	Client   ClientContext    `json:"client"`
	User     UserContext      `json:"user"`
	Features FeaturesContext  `json:"features"`
	Location *LocationContext `json:"location,omitempty"`
}

type ClientContext struct {
	PlatformType   string         `json:"platformType"`
	ClientFID      int64          `json:"clientFid"`
	Added          bool           `json:"added"`
	SafeAreaInsets SafeAreaInsets `json:"safeAreaInsets"`
}

type SafeAreaInsets struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
}

type UserContext struct {
	FID           int64  `json:"fid"`
	Username      string `json:"username,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	PfpURL        string `json:"pfpUrl,omitempty"`
	BackendUserID string `json:"backendUserId,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

type FeaturesContext struct {
	Haptics                   bool `json:"haptics"`
	CameraAndMicrophoneAccess bool `json:"cameraAndMicrophoneAccess"`
}

// LocationContext describes how the session was launched.
type LocationContext struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// PrimaryButtonState is the host-rendered call-to-action controlled by content.
type PrimaryButtonState struct {
	Text     string `json:"text"`
	Loading  bool   `json:"loading"`
	Disabled bool   `json:"disabled"`
	Hidden   bool   `json:"hidden"`
}

// DefaultPrimaryButton is the state every session starts with.
func DefaultPrimaryButton() PrimaryButtonState {
	return PrimaryButtonState{Hidden: true}
}
