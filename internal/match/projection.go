package match

// DisplayState is what the dashboard shows for one platform tile on a
// profile. It is derived, never stored.
type DisplayState string

// Display states, in precedence order.
const (
	StateHidden        DisplayState = "hidden"
	StateLoading       DisplayState = "loading"
	StateSuggested     DisplayState = "suggested"
	StateAutoConfirmed DisplayState = "auto_confirmed"
	StateConfirmed     DisplayState = "confirmed"
	StateNoMatch       DisplayState = "no_match"
)

// ProjectionInput gathers everything the display state depends on.
type ProjectionInput struct {
	// Connected reports whether the profile's home platform is linked.
	Connected bool
	// ReleaseCount is how many releases the profile has synced.
	ReleaseCount int
	// DiscoveryActive reports whether a discovery run is in flight for
	// this platform.
	DiscoveryActive bool
	// Match is the slot's match record, if any. A rejected record counts
	// as an open slot.
	Match *ArtistMatch
	// HasLinks reports whether any of the profile's releases carry a link
	// on this platform.
	HasLinks bool
}

// ProjectState derives the platform tile state from its inputs. Profiles
// with nothing to match are hidden outright; an in-flight discovery run
// shows as loading; otherwise the match record decides, and a platform with
// release links but no match record still counts as confirmed.
func ProjectState(in ProjectionInput) DisplayState {
	if !in.Connected || in.ReleaseCount == 0 {
		return StateHidden
	}
	if in.DiscoveryActive {
		return StateLoading
	}
	if in.Match != nil && in.Match.Active() {
		switch in.Match.Status {
		case StatusConfirmed:
			return StateConfirmed
		case StatusAutoConfirmed:
			return StateAutoConfirmed
		default:
			return StateSuggested
		}
	}
	if in.HasLinks {
		return StateConfirmed
	}
	return StateNoMatch
}
