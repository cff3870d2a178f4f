// Package registry owns EngineRegistration persistence: lookup by engine id
// for the broker's hot path, and the admin CRUD operations that create,
// rotate, and delete registrations.
package registry

import "time"

// Params are the default analysis parameters a registration declares limits
// for (spec §3: "variant, multi-pv, depth limits, thread and hash-size
// hints"). Stored as a jsonb column so a single relational table still reads
// like a per-engine document.
type Params struct {
	Variant    string `json:"variant"`
	MaxMultiPV int    `json:"maxMultiPv"`
	MaxDepth   int    `json:"maxDepth"`
	MaxThreads int    `json:"maxThreads"`
	MaxHashMB  int    `json:"maxHashMb"`
}

// EngineRegistration is the persistent record binding an engine id to a
// user, a variant, parameter limits, and two secret hashes (spec §3). Params
// is stored as a jsonb column; see registrationRow for the scan shape.
type EngineRegistration struct {
	EngineID           string
	UserID             string
	DisplayName        string
	ClientSecretHash   string
	ProviderSecretHash string
	Params             Params
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewRegistration is the input to Create: everything an operator supplies
// up front, before secrets are generated.
type NewRegistration struct {
	UserID      string
	DisplayName string
	Params      Params
}

// CreatedRegistration is returned exactly once, at creation time, since the
// plaintext secrets are never stored or retrievable again.
type CreatedRegistration struct {
	Registration   *EngineRegistration
	ClientSecret   string
	ProviderSecret string
}
