package shadow

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Document is a shadow update request. A nil value inside Desired or Reported clears that property.
type Document struct {
	State       DocumentState `json:"state"`
	ClientToken string        `json:"clientToken,omitempty"`
}

// DocumentState holds the desired and reported sections of a Document. Empty sections are omitted.
type DocumentState struct {
	Desired  map[string]any `json:"desired,omitempty"`
	Reported map[string]any `json:"reported,omitempty"`
}

// Reported builds a document that reports values.
func Reported(values map[string]any) Document {
	return Document{State: DocumentState{Reported: values}}
}

// Accepted acknowledges a delta property by reporting its new value.
func Accepted(property string, value any) Document {
	return Reported(map[string]any{property: value})
}

// AcceptedAndClear acknowledges a delta property and clears the desired value, leaving reported as the only source.
func AcceptedAndClear(property string, value any) Document {
	d := Accepted(property, value)
	d.State.Desired = map[string]any{property: nil}

	return d
}

// Rejected refuses a delta property by clearing its desired value without reporting anything.
func Rejected(property string) Document {
	return Document{State: DocumentState{Desired: map[string]any{property: nil}}}
}

// WithClientToken returns d with token set. AWS echoes it on the accepted and rejected topics.
func (d Document) WithClientToken(token string) Document {
	d.ClientToken = token
	return d
}

// Marshal encodes d as JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// NewClientToken returns a random token for correlating responses.
func NewClientToken() string {
	return uuid.NewString()
}
