package model

import (
	"encoding/json"
	"time"
)

// Run は1回のパイプライン実行の履歴。
type Run struct {
	ID              string          `json:"id"`
	BriefingDate    string          `json:"briefing_date"`
	DeliveryTime    time.Time       `json:"delivery_time"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	TotalCandidates int             `json:"total_candidates"`
	Valid           int             `json:"valid"`
	Stale           int             `json:"stale"`
	Unverified      int             `json:"unverified"`
	Error           int             `json:"error"`
	Primary         int             `json:"primary"`
	Secondary       int             `json:"secondary"`
	Local           int             `json:"local"`
	Social          int             `json:"social"`
	AuditPath       string          `json:"audit_path"`
	BriefingPath    string          `json:"briefing_path"`
	Summary         json.RawMessage `json:"summary,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RunVerdict は実行内の1記事の判定。鮮度検証表の行と対応する。
type RunVerdict struct {
	URL        string `json:"url"`
	Headline   string `json:"headline"`
	Source     string `json:"source"`
	Section    string `json:"section"`
	Verdict    string `json:"verdict"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Reason     string `json:"reason,omitempty"`
	AgeHours   *int   `json:"age_hours"`
	DateMethod string `json:"date_method,omitempty"`
}

// RunDetail は実行履歴と判定一覧。
type RunDetail struct {
	Run
	Verdicts []RunVerdict `json:"verdicts"`
}
