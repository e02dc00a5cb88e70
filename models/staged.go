package models

// StagedRecord is the codec's output for one decoded wire record: everything
// the incoming applicator needs to upsert a staging row, or a tombstone
// marker. Exactly one of IsTombstone or Kind is meaningful.
type StagedRecord struct {
	Guid           Guid
	IsTombstone    bool
	Kind           Kind
	ParentGuid     Guid
	ServerModified int64
	DateAdded      int64
	Title          string
	// URL is set only when HasURL is true; a Bookmark/Query staged without
	// a URL carries Validity == ValidityReplace.
	URL      string
	HasURL   bool
	Keyword  string
	Tags     []string
	Children []Guid
	Position int64
	Validity Validity
	// UnknownFields is a raw JSON object of top-level fields this client
	// does not understand, re-emitted verbatim on upload. Nil when none.
	UnknownFields []byte
}
