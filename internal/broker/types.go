// Package broker implements the top-level coordinator: the JobQueue, the
// session map keyed by job id, and the secondary (user id, engine id) map
// used for preemption (spec §4.3).
package broker

// Work is the analysis work description a client submits and a provider
// receives (spec §3 JobRequest, §6 the `work` JSON object).
type Work struct {
	SessionID  string   `json:"sessionId"`
	Threads    int      `json:"threads"`
	HashMB     int      `json:"hash"`
	Infinite   bool     `json:"infinite"`
	MultiPV    int      `json:"multiPv"`
	Variant    string   `json:"variant"`
	InitialFEN string   `json:"initialFen"`
	Moves      []string `json:"moves"`
}

// JobRequest is what a provider receives from acquire: the work plus the
// engine id it targets and the job id it must submit output under (spec §3).
type JobRequest struct {
	JobID    string `json:"id"`
	EngineID string `json:"engineId"`
	UserID   string `json:"-"`
	Work     Work   `json:"work"`
}
