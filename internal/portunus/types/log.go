package types

type LogEntryView struct {
	Event          string `json:"event"`
	Code           uint8  `json:"code"`
	Card           string `json:"card"`
	At             string `json:"at"`
	ElapsedSeconds uint32 `json:"elapsed_s"`
}

type DrainView struct {
	Unit     string         `json:"unit"`
	Complete bool           `json:"complete"`
	Entries  []LogEntryView `json:"entries"`
	Last     ExchangeView   `json:"last"`
}

type DrainResponse struct {
	Results    []DrainView `json:"results"`
	ServerTime string      `json:"server_time"`
	// PersistError is set when drained entries could not be stored.
	PersistError string `json:"persist_error,omitempty"`
}

// StoredEventView is a log entry as kept in the audit trail.
type StoredEventView struct {
	LogEntryView
	DrainedAt string `json:"drained_at"`
}

type UnitEventsView struct {
	Unit   string            `json:"unit"`
	Events []StoredEventView `json:"events"`
}

type EventsResponse struct {
	Results    []UnitEventsView `json:"results"`
	ServerTime string           `json:"server_time"`
}
