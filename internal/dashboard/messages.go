package dashboard

import (
	"github.com/profileboard/profileboard/internal/analyzer"
	"github.com/profileboard/profileboard/internal/profiler"
	"github.com/profileboard/profileboard/internal/storage"
)

// Message types dispatched over the dashboard websocket.
const (
	msgInitialData     = "initial_data"
	msgRequestHistory  = "request_history"
	msgRequestDetails  = "request_details"
	msgToggleProfiler  = "toggle_profiler"
	msgProfilerToggled = "profiler_toggled"
	msgProfileUpdate   = "profile_update"
	msgError           = "error"
)

// inboundMessage is the envelope for all client frames. The type field
// selects which of the remaining fields are meaningful.
type inboundMessage struct {
	Type      string        `json:"type"`
	Params    historyParams `json:"params"`
	RequestID string        `json:"request_id"`
	Enabled   bool          `json:"enabled"`
}

// historyParams filters a request_history query.
type historyParams struct {
	TimeRange     string  `json:"time_range"`
	ViewName      string  `json:"view_name"`
	Status        string  `json:"status"`
	SlowThreshold float64 `json:"slow_threshold"`
}

type initialDataMessage struct {
	Type           string             `json:"type"`
	RecentRequests []profiler.Profile `json:"recent_requests"`
	Stats          storage.Stats      `json:"stats"`
}

type historyMessage struct {
	Type     string             `json:"type"`
	Requests []profiler.Profile `json:"requests"`
	Stats    storage.Stats      `json:"stats"`
}

type detailsMessage struct {
	Type    string        `json:"type"`
	Details detailPayload `json:"details"`
}

// detailPayload is a full stored profile plus a query analysis recomputed
// at request time.
type detailPayload struct {
	profiler.Profile
	Analysis analyzer.Analysis `json:"analysis"`
}

type toggledMessage struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

type updateMessage struct {
	Type string            `json:"type"`
	Data *profiler.Profile `json:"data"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorReply(message string) errorMessage {
	return errorMessage{Type: msgError, Message: message}
}
