package models

type ReconciliationState string

const (
	StateActive  ReconciliationState = "ACTIVE"
	StateDeleted ReconciliationState = "DELETED"
	StateError   ReconciliationState = "ERROR"
)

var statusTokens = map[string]ReconciliationState{
	"EKS": StateActive,
	"DEL": StateDeleted,
	"ERR": StateError,
}

// ResolveStatus maps a raw register status token to its lifecycle state.
// Tokens outside the closed table are rejected, never defaulted.
func ResolveStatus(token string) (ReconciliationState, error) {
	state, ok := statusTokens[token]
	if !ok {
		return "", &UnknownStatusError{Token: token}
	}
	return state, nil
}

// StatusToken is the inverse of ResolveStatus.
func (s ReconciliationState) StatusToken() string {
	for token, state := range statusTokens {
		if state == s {
			return token
		}
	}
	return ""
}
