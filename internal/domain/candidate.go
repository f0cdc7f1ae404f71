package domain

import "strings"

// EndpointKind is the type of a contact endpoint.
type EndpointKind string

const (
	EndpointMobilePhone EndpointKind = "MOBILE_PHONE"
	EndpointEmail       EndpointKind = "EMAIL"
)

// ContactEndpoint is one phone number or address of a candidate.
type ContactEndpoint struct {
	Kind      EndpointKind `json:"kind"`
	Value     string       `json:"value"`
	IsBounced bool         `json:"isBounced,omitempty"`
}

// Candidate is the subset of a person record needed to address a message.
type Candidate struct {
	ID        string            `json:"id"`
	DomainID  string            `json:"domainId"`
	FirstName string            `json:"firstName,omitempty"`
	Endpoints []ContactEndpoint `json:"endpoints"`
}

// UsableEndpoints returns the non-bounced endpoints of the given kind.
func (c Candidate) UsableEndpoints(kind EndpointKind) []ContactEndpoint {
	out := make([]ContactEndpoint, 0, 1)
	for _, ep := range c.Endpoints {
		if ep.Kind != kind || ep.IsBounced || strings.TrimSpace(ep.Value) == "" {
			continue
		}
		out = append(out, ep)
	}
	return out
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizeEndpoint returns the canonical form an endpoint is stored and
// matched in: phone numbers lose their separators, addresses are lowercased.
func NormalizeEndpoint(kind EndpointKind, value string) string {
	value = strings.TrimSpace(value)
	switch kind {
	case EndpointMobilePhone:
		return phoneSeparators.Replace(value)
	case EndpointEmail:
		return strings.ToLower(value)
	default:
		return value
	}
}

// Recipient is a candidate paired with the single endpoint chosen for a channel.
type Recipient struct {
	CandidateID string
	Endpoint    string
}
