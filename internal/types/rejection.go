package types

import "fmt"

// Stage names the pipeline step that produced a rejection.
type Stage string

const (
	StageSignal    Stage = "signal"
	StageDirection Stage = "direction"
	StageStrategy  Stage = "strategy"
	StageRisk      Stage = "risk"
)

// Rejection is the typed "no trade" result of a pipeline stage.
type Rejection struct {
	Stage    Stage  `json:"stage"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

func Reject(stage Stage, category, format string, args ...any) *Rejection {
	return &Rejection{Stage: stage, Category: category, Reason: fmt.Sprintf(format, args...)}
}

func (r *Rejection) String() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s: %s", r.Stage, r.Category, r.Reason)
}
