package identity

import (
	"github.com/R3E-Network/miniapp-host/internal/protocol"
)

// ClientInfo describes the host client for Host Context snapshots.
type ClientInfo struct {
	PlatformType   string
	ClientFID      int64
	SafeAreaInsets protocol.SafeAreaInsets
	Haptics        bool
	CameraAndMic   bool
}

// Snapshot derives a Host Context. A nil identity yields a zero user.
func Snapshot(id *Identity, client ClientInfo, added bool) protocol.HostContext {
	ctx := protocol.HostContext{
		Client: protocol.ClientContext{
			PlatformType:   client.PlatformType,
			ClientFID:      client.ClientFID,
			Added:          added,
			SafeAreaInsets: client.SafeAreaInsets,
		},
		Features: protocol.FeaturesContext{
			Haptics:                   client.Haptics,
			CameraAndMicrophoneAccess: client.CameraAndMic,
		},
	}
	if id != nil {
		ctx.User = protocol.UserContext{
			FID:           id.FID,
			Username:      id.Username,
			DisplayName:   id.DisplayName,
			PfpURL:        id.PfpURL,
			BackendUserID: id.BackendUserID,
			WalletAddress: id.WalletAddress,
		}
	}
	return ctx
}
