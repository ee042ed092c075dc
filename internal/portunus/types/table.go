package types

// TableEntry is one row of an access table upload. Card is 8 hex digits.
type TableEntry struct {
	Card       string `json:"card"`
	Authorized bool   `json:"authorized"`
}

// UpdateTableRequest pushes Entries to every addressed unit. An empty body
// pushes each unit's column of the configured access table file instead.
type UpdateTableRequest struct {
	Entries []TableEntry `json:"entries"`
}

type UpdateView struct {
	Unit         string       `json:"unit"`
	Complete     bool         `json:"complete"`
	MemoryFull   bool         `json:"memory_full"`
	EntriesSent  int          `json:"entries_sent"`
	NewCards     int          `json:"new_cards"`
	ModifiedAuth int          `json:"modified_auth"`
	NoUpdate     int          `json:"no_update"`
	FailedRow    *int         `json:"failed_row,omitempty"`
	Last         ExchangeView `json:"last"`
}

type UpdateTableResponse struct {
	Results    []UpdateView `json:"results"`
	ServerTime string       `json:"server_time"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
