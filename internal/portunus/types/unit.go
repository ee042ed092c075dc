package types

// UnitView is the last-known state of one commutator.
type UnitView struct {
	Name    string `json:"name"`
	ID      int    `json:"id"`
	Channel int    `json:"channel"`

	LastSeen      string `json:"last_seen,omitempty"` // RFC 3339
	LastOpcode    string `json:"last_opcode,omitempty"`
	LastCondition string `json:"last_condition,omitempty"`
	LastUnitOK    bool   `json:"last_unit_ok"`
	Mode          string `json:"mode,omitempty"`

	Memory *MemoryView `json:"memory,omitempty"`
}

type MemoryView struct {
	Capacity  int     `json:"capacity"`
	Used      int     `json:"used"`
	Ratio     float64 `json:"ratio"`
	CheckedAt string  `json:"checked_at,omitempty"`
}

type UnitsResponse struct {
	Units      []UnitView `json:"units"`
	ServerTime string     `json:"server_time"`
}
