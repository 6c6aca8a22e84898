package enums

import "fmt"

// SessionEvent names a provider-originated session transition.
type SessionEvent string

const (
	SessionEventSignedIn       SessionEvent = "signed_in"
	SessionEventSignedOut      SessionEvent = "signed_out"
	SessionEventTokenRefreshed SessionEvent = "token_refreshed"
	SessionEventUserUpdated    SessionEvent = "user_updated"
)

var validSessionEvents = []SessionEvent{
	SessionEventSignedIn,
	SessionEventSignedOut,
	SessionEventTokenRefreshed,
	SessionEventUserUpdated,
}

// String implements fmt.Stringer.
func (e SessionEvent) String() string {
	return string(e)
}

// IsValid reports whether the value is a known SessionEvent.
func (e SessionEvent) IsValid() bool {
	for _, candidate := range validSessionEvents {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseSessionEvent converts raw input into a SessionEvent.
func ParseSessionEvent(value string) (SessionEvent, error) {
	for _, candidate := range validSessionEvents {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid session event %q", value)
}
