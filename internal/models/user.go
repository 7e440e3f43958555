package models

// SCIM schema and message URNs used by the bridge.
const (
	SchemaUser                  = "urn:ietf:params:scim:schemas:core:2.0:User"
	SchemaGroup                 = "urn:ietf:params:scim:schemas:core:2.0:Group"
	SchemaServiceProviderConfig = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"
	MessageListResponse         = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	MessageError                = "urn:ietf:params:scim:api:messages:2.0:Error"
)

// User is the SCIM user resource as exchanged with the identity provider.
type User struct {
	Schemas     []string `json:"schemas"`
	ID          string   `json:"id,omitempty"`
	ExternalID  string   `json:"externalId,omitempty"`
	Active      bool     `json:"active"`
	UserName    string   `json:"userName" binding:"required"`
	DisplayName string   `json:"displayName,omitempty"`
	Emails      []Email  `json:"emails"`
	Meta        *Meta    `json:"meta,omitempty"`
}

// Meta is the SCIM resource metadata block.
type Meta struct {
	ResourceType string `json:"resourceType"`
	Location     string `json:"location,omitempty"`
}

// Group is the SCIM group resource. Groups are not persisted.
type Group struct {
	Schemas     []string `json:"schemas"`
	ID          string   `json:"id,omitempty"`
	ExternalID  string   `json:"externalId,omitempty"`
	DisplayName string   `json:"displayName" binding:"required"`
	Members     []Member `json:"members"`
}

// Member references a group member.
type Member struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
}

// ListResponse is the SCIM list envelope.
type ListResponse[T any] struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	ItemsPerPage int      `json:"itemsPerPage"`
	StartIndex   int      `json:"startIndex"`
	Resources    []T      `json:"Resources"`
}

// Error is the SCIM error body.
type Error struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}
