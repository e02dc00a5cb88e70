package models

import "encoding/json"

// RawRecord is a single undecoded wire record as produced by the transport.
// The payload is kept raw so the codec can preserve fields this client does
// not understand.
type RawRecord struct {
	Payload        json.RawMessage
	ServerModified int64 // ms since epoch, per-record server timestamp
}

// OutgoingRecord is a fully materialised record staged for upload. The
// payload already matches the on-wire schema; the GUID is duplicated out of
// the payload so the glue step can match server acknowledgements without
// re-parsing JSON.
type OutgoingRecord struct {
	Guid    Guid
	Payload json.RawMessage
}

// WireRecord is the on-wire shape of a bookmark collection record. Optional
// fields use pointers or zero values that the codec omits on encode. Fields
// not listed here are carried in Unknown and re-emitted verbatim.
type WireRecord struct {
	ID         string   `json:"id"`
	Deleted    bool     `json:"deleted,omitempty"`
	Type       string   `json:"type,omitempty"`
	ParentID   string   `json:"parentid,omitempty"`
	HasDupe    bool     `json:"hasDupe,omitempty"`
	ParentName *string  `json:"parentName,omitempty"`
	DateAdded  *int64   `json:"dateAdded,omitempty"`
	Title      *string  `json:"title,omitempty"`
	URL        *string  `json:"bmkUri,omitempty"`
	Keyword    *string  `json:"keyword,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	FolderName *string  `json:"tagFolderName,omitempty"`
	Children   []string `json:"children,omitempty"`
	FeedURL    *string  `json:"feedUri,omitempty"`
	SiteURL    *string  `json:"siteUri,omitempty"`
	Position   *int64   `json:"pos,omitempty"`

	// Unknown holds top-level fields that are not part of the known schema,
	// keyed by field name. They round-trip through the mirror untouched.
	Unknown map[string]json.RawMessage `json:"-"`
}
