// Package label models provenance labels: the owning user, a tag unique to
// one labeling event, and the policies that travel with the data.
//
// A Label is immutable. Its fields are unexported and the policies map is
// copied on the way in and on the way out, so a label handed to a sink is
// the label the source minted.
package label

import (
	"encoding/json"
	"maps"

	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
)

// Policy keys and values understood by the deletion cascade.
const (
	PolicyDelete      = "delete_policy"
	DeleteAllUserData = "delete_all_user_data"
)

// Policies are opaque string settings attached to a label.
type Policies map[string]string

// DefaultPolicies is the policy set sources attach when none is configured.
func DefaultPolicies() Policies {
	return Policies{PolicyDelete: DeleteAllUserData}
}

// Label is provenance metadata for one labeled value.
type Label struct {
	userID   id.UserID
	tagID    id.TagID
	policies Policies
}

// New mints a label for userID with a fresh tag.
func New(userID id.UserID, policies Policies) Label {
	return Label{
		userID:   userID,
		tagID:    id.NewTagID(),
		policies: clonePolicies(policies),
	}
}

func (l Label) UserID() id.UserID { return l.userID }

func (l Label) TagID() id.TagID { return l.tagID }

// Policies returns a copy of the label's policies.
func (l Label) Policies() Policies { return clonePolicies(l.policies) }

// Policy looks up a single policy value.
func (l Label) Policy(key string) (string, bool) {
	v, ok := l.policies[key]
	return v, ok
}

// IsZero reports whether l was never minted. Zero labels mark untagged values.
func (l Label) IsZero() bool {
	return l.userID.IsZero() && l.tagID.IsZero()
}

// Equal compares labels field by field. A nil and an empty policy set are equal.
func (l Label) Equal(other Label) bool {
	return l.userID == other.userID &&
		l.tagID == other.tagID &&
		maps.Equal(l.policies, other.policies)
}

// wireLabel is the compact JSON form carried in transport headers.
type wireLabel struct {
	UserID   string   `json:"user_id"`
	TagID    string   `json:"tag_id"`
	Policies Policies `json:"policies"`
}

// Encode renders the label as its compact JSON wire form.
func (l Label) Encode() string {
	policies := l.policies
	if policies == nil {
		policies = Policies{}
	}
	// A struct of strings and a string map always marshals.
	b, _ := json.Marshal(wireLabel{
		UserID:   string(l.userID),
		TagID:    string(l.tagID),
		Policies: policies,
	})
	return string(b)
}

// Decode parses the JSON wire form produced by Encode.
func Decode(s string) (Label, error) {
	var w wireLabel
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Label{}, dErrors.Wrap(err, dErrors.CodeMalformedLabel, "label header is not valid JSON")
	}
	return fromWire(w.UserID, w.TagID, w.Policies)
}

func fromWire(userID, tagID string, policies Policies) (Label, error) {
	uid, err := id.ParseUserID(userID)
	if err != nil {
		return Label{}, dErrors.Wrap(err, dErrors.CodeMalformedLabel, "label has invalid user_id")
	}
	tid, err := id.ParseTagID(tagID)
	if err != nil {
		return Label{}, dErrors.Wrap(err, dErrors.CodeMalformedLabel, "label has invalid tag_id")
	}
	return Label{userID: uid, tagID: tid, policies: clonePolicies(policies)}, nil
}

func clonePolicies(p Policies) Policies {
	out := make(Policies, len(p))
	maps.Copy(out, p)
	return out
}
