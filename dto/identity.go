package dto

// RequestIdentity is decided once per request by the auth middleware and
// passed to the gates through Locals. Gates never re-derive it.
type RequestIdentity struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Tier          string `json:"tier,omitempty"`
}

func AnonymousIdentity() RequestIdentity {
	return RequestIdentity{Authenticated: false}
}

func AuthenticatedIdentity(userID, tier string) RequestIdentity {
	return RequestIdentity{
		Authenticated: true,
		UserID:        userID,
		Tier:          tier,
	}
}

// Fingerprint is the derived identity signal for anonymous clients. Hash is
// a hex SHA-256 of the canonical header triple; the raw components are never
// persisted.
type Fingerprint struct {
	Hash       string            `json:"hash"`
	Components map[string]string `json:"components"`
}
