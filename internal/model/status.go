// internal/model/status.go
package model

import "time"

// ConnectionState describes one push subscription.
type ConnectionState string

const (
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
	Stopped      ConnectionState = "stopped"
)

// StreamStatus is the observable state of a stream connection.
type StreamStatus struct {
	ID        string          `json:"id"`
	Stream    string          `json:"stream"`
	State     ConnectionState `json:"state"`
	Messages  int64           `json:"messages"`
	LastError string          `json:"last_error,omitempty"`
	Since     time.Time       `json:"since"`
}

// SessionStatus aggregates the streams of the active symbol session. Live is
// true only while every stream is connected.
type SessionStatus struct {
	SessionID string         `json:"session_id"`
	Symbol    Symbol         `json:"symbol"`
	Live      bool           `json:"live"`
	Levels    int            `json:"levels"`
	Streams   []StreamStatus `json:"streams"`
}

// Label renders the connection badge text.
func (s SessionStatus) Label() string {
	if s.Live {
		return "LIVE"
	}
	return "OFFLINE"
}

// TickerBarStatus aggregates the mini ticker streams. Live is true only while
// every stream is connected.
type TickerBarStatus struct {
	Live    bool           `json:"live"`
	Streams []StreamStatus `json:"streams"`
}

// AllConnected reports whether streams is non-empty and every entry is Connected.
func AllConnected(streams []StreamStatus) bool {
	if len(streams) == 0 {
		return false
	}
	for _, st := range streams {
		if st.State != Connected {
			return false
		}
	}
	return true
}
