package domain

// ContactKind identifies how a record can be reached.
type ContactKind string

const (
	ContactNone  ContactKind = ""
	ContactEmail ContactKind = "email"
	ContactPhone ContactKind = "phone"
)

// Identity is who a record belongs to.
type Identity struct {
	Name        string
	Contact     string
	ContactKind ContactKind
}

// HasContact reports whether the identity carries an address.
func (i Identity) HasContact() bool {
	return i.Contact != ""
}

// Record is one unit of work derived from a store row.
type Record struct {
	ID       string
	Identity Identity
	// Payload is an opaque reference (document URL, s3:// or gs:// URI). Empty for
	// notification-only instances.
	Payload string
}

// Outcome is the successful result of a side effect.
type Outcome struct {
	Score    *int   `json:"score,omitempty"`
	Feedback string `json:"feedback,omitempty"`
	Receipt  string `json:"receipt,omitempty"`
	// Fields are the property updates written back together with the completion flag.
	Fields map[string]Value `json:"fields"`
}
