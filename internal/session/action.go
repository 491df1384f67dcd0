package session

import (
	"reelgrab/internal/channel"
	"reelgrab/internal/platform"
	"reelgrab/internal/preview"
)

// Action is the state of the primary download action.
type Action string

const (
	ActionProcessing   Action = "processing"
	ActionLoading      Action = "loading"
	ActionDisconnected Action = "disconnected"
	ActionNoPlatform   Action = "no-platform"
	ActionReady        Action = "ready"
)

// Label returns the text a front end shows for the action.
func (a Action) Label() string {
	switch a {
	case ActionProcessing:
		return "Processing..."
	case ActionLoading:
		return "Loading Preview..."
	case ActionDisconnected:
		return "Server Disconnected"
	case ActionNoPlatform:
		return "Invalid URL"
	default:
		return "Download"
	}
}

// Inputs are the facts ActionState is derived from.
type Inputs struct {
	Processing bool
	Loading    bool
	Connection channel.State
	Platform   platform.Platform
}

// DeriveAction applies the fixed precedence processing, loading,
// disconnected, no-platform, ready.
func DeriveAction(in Inputs) Action {
	switch {
	case in.Processing:
		return ActionProcessing
	case in.Loading:
		return ActionLoading
	case in.Connection != channel.Connected:
		return ActionDisconnected
	case in.Platform == platform.None:
		return ActionNoPlatform
	default:
		return ActionReady
	}
}

// AudioAvailable reports whether an audio-only job makes sense for the
// preview: it must carry a video, either directly or as a media item.
func AudioAvailable(st preview.State) bool {
	if st.Preview == nil || st.Platform == platform.None {
		return false
	}
	if st.Preview.VideoURL != "" {
		return true
	}
	for _, item := range st.Preview.Media {
		if item.IsVideo() {
			return true
		}
	}
	return false
}
