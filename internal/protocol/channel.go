package protocol

import "strings"

// ChannelPrefix marks a presence channel carrying one live session.
const ChannelPrefix = "presence-session-"

// ChannelName returns the channel a session's events travel on.
func ChannelName(sessionID string) string {
	return ChannelPrefix + sessionID
}

// SessionIDFromChannel reverses ChannelName. ok is false for names without the prefix or
// with nothing after it.
func SessionIDFromChannel(channelName string) (string, bool) {
	sessionID, found := strings.CutPrefix(channelName, ChannelPrefix)
	if !found || sessionID == "" {
		return "", false
	}

	return sessionID, true
}
