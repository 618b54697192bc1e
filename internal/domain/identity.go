package domain

// SelfIdentity is the set of participant ids that count as "me": the account id
// and, optionally, a linked client record matched by email.
type SelfIdentity struct {
	primary string
	linked  string
}

func NewSelfIdentity(primary string) SelfIdentity {
	return SelfIdentity{primary: primary}
}

// WithLinked returns a copy with the linked id set. The set only grows: once a
// linked id is present, or when id is empty or equal to the primary, the
// receiver is returned unchanged.
func (s SelfIdentity) WithLinked(id string) SelfIdentity {
	if id == "" || id == s.primary || s.linked != "" || s.primary == "" {
		return s
	}
	s.linked = id
	return s
}

func (s SelfIdentity) Primary() string {
	return s.primary
}

func (s SelfIdentity) Linked() (string, bool) {
	return s.linked, s.linked != ""
}

func (s SelfIdentity) IsZero() bool {
	return s.primary == ""
}

func (s SelfIdentity) Contains(id string) bool {
	if id == "" {
		return false
	}
	return id == s.primary || id == s.linked
}

// IDs returns the ids with the primary first.
func (s SelfIdentity) IDs() []string {
	if s.primary == "" {
		return nil
	}
	if s.linked == "" {
		return []string{s.primary}
	}
	return []string{s.primary, s.linked}
}

// IsRelevant reports whether m belongs in this identity's conversation.
func (s SelfIdentity) IsRelevant(m *Message) bool {
	return s.Contains(m.SenderID) || s.Contains(m.ReceiverID)
}
