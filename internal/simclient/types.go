package simclient

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/explant/explant/internal/growth"
)

// DateLayout is the wire format for simulation dates.
const DateLayout = "2006-01-02"

// --- Request ---

// SimulationRequest is the payload for one simulation call. Build it once
// per run and do not modify it afterwards.
type SimulationRequest struct {
	RegionID  int       `json:"regionId"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Daily     bool      `json:"daily"`
	// Water is a preset token (FC, WP, SAT) or a percentage such as "45".
	Water string `json:"water"`
	Crop  string `json:"crop"`
}

type wireRequest struct {
	Regiao int    `json:"regiao"`
	DtI    string `json:"dt_i"`
	DtF    string `json:"dt_f"`
	Daily  bool   `json:"daily"`
	Agua   string `json:"agua"`
	Crop   string `json:"crop"`
}

// Wire returns the request body in the service's field naming.
func (r SimulationRequest) Wire() ([]byte, error) {
	return json.Marshal(wireRequest{
		Regiao: r.RegionID,
		DtI:    r.StartDate.Format(DateLayout),
		DtF:    r.EndDate.Format(DateLayout),
		Daily:  r.Daily,
		Agua:   r.Water,
		Crop:   r.Crop,
	})
}

// --- Response ---

// SoilMetrics are the season totals reported by the service. Each reading
// is optional: nil means the service did not report it, which is not the
// same as a reported zero.
type SoilMetrics struct {
	Efficiency   *float64 `json:"efic,omitempty"`
	Stress       *float64 `json:"stress,omitempty"`
	Productivity *float64 `json:"prod,omitempty"`

	Region       string   `json:"regiao,omitempty"`
	Infiltration *float64 `json:"infilt,omitempty"`
	Runoff       *float64 `json:"escoa,omitempty"`
	Percolation  *float64 `json:"percol,omitempty"`
}

// Float returns a pointer to v, for building SoilMetrics literals.
func Float(v float64) *float64 { return &v }

// ValueOr returns *p, or def when p is nil.
func ValueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// SimulationResponse is the decoded service reply.
type SimulationResponse struct {
	Soil *SoilMetrics `json:"solo,omitempty"`
	// Growth is nil when the field was absent or was not a JSON array.
	Growth []growth.Sample `json:"crescimento,omitempty"`
	// HasGrowth is true when the reply carried a non-null growth field,
	// even one that could not be read as a series.
	HasGrowth bool `json:"-"`
}

// HasData reports whether the reply carries soil or growth data.
func (r *SimulationResponse) HasData() bool {
	return r != nil && (r.Soil != nil || r.HasGrowth)
}

type wireResponse struct {
	Solo        json.RawMessage `json:"solo"`
	Crescimento json.RawMessage `json:"crescimento"`
}

// UnmarshalJSON rejects a reply that is not an object or whose soil field is
// not an object. A JSON-falsy field counts as absent. A growth field of the
// wrong shape is kept as present but unreadable.
func (r *SimulationResponse) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*r = SimulationResponse{}
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &ShapeError{Reason: "reply is not a JSON object"}
	}
	var w wireResponse
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return &ShapeError{Reason: "reply is not a JSON object", Err: err}
	}
	*r = SimulationResponse{}

	if solo := bytes.TrimSpace(w.Solo); !falsy(solo) {
		if solo[0] != '{' {
			return &ShapeError{Reason: "solo is not an object"}
		}
		var soil SoilMetrics
		if err := json.Unmarshal(solo, &soil); err != nil {
			return &ShapeError{Reason: "solo has malformed metrics", Err: err}
		}
		r.Soil = &soil
	}

	raw := bytes.TrimSpace(w.Crescimento)
	if falsy(raw) {
		return nil
	}
	r.HasGrowth = true
	var series []growth.Sample
	if err := json.Unmarshal(raw, &series); err == nil {
		r.Growth = series
	}
	return nil
}

// falsy reports whether raw is missing, null, false, zero or an empty string.
func falsy(raw []byte) bool {
	switch string(raw) {
	case "", "null", "false", `""`:
		return true
	}
	if c := raw[0]; c == '-' || (c >= '0' && c <= '9') {
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f == 0
	}
	return false
}
