package types

// Decision is one entry in a StreamContext's bounded decision history:
// the reasoning that led to an action, kept for future prompt-building.
type Decision struct {
	Thought string `json:"thought"`
	Action  string `json:"action"`
	Time    int64  `json:"time"`
}
