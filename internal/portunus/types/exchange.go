package types

// ExchangeView reports the outcome of one operation against one unit.
type ExchangeView struct {
	Unit      string `json:"unit"`
	Opcode    string `json:"opcode"`
	LinkOK    bool   `json:"link_ok"`
	ReplyOK   bool   `json:"reply_ok"`
	UnitOK    bool   `json:"unit_ok"`
	Condition string `json:"condition"`
	Attempts  int    `json:"attempts,omitempty"`
}

type CommandResponse struct {
	Results    []ExchangeView `json:"results"`
	ServerTime string         `json:"server_time"`
}

type MemoryResult struct {
	ExchangeView
	Capacity int  `json:"capacity"`
	Used     int  `json:"used"`
	NearFull bool `json:"near_full"`
}

type MemoryResponse struct {
	Results    []MemoryResult `json:"results"`
	ServerTime string         `json:"server_time"`
}
