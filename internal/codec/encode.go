package codec

import (
	"encoding/json"
	"fmt"

	"github.com/MKhiriev/go-mark-sync/models"
)

// ItemToUpload is the stager's assembled view of one local item: current
// row values plus live-derived associations (children from positions, tags
// from the URL) and the unknown fields preserved in the mirror.
type ItemToUpload struct {
	Guid          models.Guid
	Kind          models.Kind
	ParentGuid    models.Guid
	ParentTitle   string
	Title         string
	URL           string
	Keyword       string
	Tags          []string
	Children      []models.Guid
	Position      int
	DateAdded     int64
	HasDupe       bool
	UnknownFields []byte
}

// EncodeItem materialises one outgoing wire record.
func EncodeItem(item ItemToUpload) (models.OutgoingRecord, error) {
	wire := models.WireRecord{
		ID:       RecordIDFromGuid(item.Guid),
		Type:     item.Kind.WireName(),
		ParentID: RecordIDFromGuid(item.ParentGuid),
		HasDupe:  item.HasDupe,
	}

	if item.ParentTitle != "" {
		wire.ParentName = &item.ParentTitle
	}
	if item.DateAdded > 0 {
		dateAdded := item.DateAdded
		wire.DateAdded = &dateAdded
	}

	switch item.Kind {
	case models.KindBookmark, models.KindQuery:
		title := item.Title
		wire.Title = &title
		url := item.URL
		wire.URL = &url
		if item.Keyword != "" {
			keyword := item.Keyword
			wire.Keyword = &keyword
		}
		if len(item.Tags) > 0 {
			wire.Tags = item.Tags
		}

	case models.KindFolder, models.KindLivemark:
		title := item.Title
		wire.Title = &title
		children := make([]string, len(item.Children))
		for i, child := range item.Children {
			children[i] = RecordIDFromGuid(child)
		}
		wire.Children = children

	case models.KindSeparator:
		pos := int64(item.Position)
		wire.Position = &pos
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return models.OutgoingRecord{}, fmt.Errorf("failed to encode record %s: %w", item.Guid, err)
	}

	if len(item.UnknownFields) > 0 {
		payload, err = mergeUnknownFields(payload, item.UnknownFields)
		if err != nil {
			return models.OutgoingRecord{}, fmt.Errorf("failed to encode record %s: %w", item.Guid, err)
		}
	}

	return models.OutgoingRecord{Guid: item.Guid, Payload: payload}, nil
}

// EncodeTombstone materialises an outgoing deletion marker.
func EncodeTombstone(guid models.Guid) (models.OutgoingRecord, error) {
	payload, err := json.Marshal(models.WireRecord{
		ID:      RecordIDFromGuid(guid),
		Deleted: true,
	})
	if err != nil {
		return models.OutgoingRecord{}, fmt.Errorf("failed to encode tombstone %s: %w", guid, err)
	}

	return models.OutgoingRecord{Guid: guid, Payload: payload}, nil
}

// mergeUnknownFields re-attaches preserved fields to an encoded payload.
// Known fields always win over a stale preserved copy of the same key.
func mergeUnknownFields(payload, unknown []byte) ([]byte, error) {
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(payload, &merged); err != nil {
		return nil, err
	}

	var extra map[string]json.RawMessage
	if err := json.Unmarshal(unknown, &extra); err != nil {
		return nil, err
	}

	for key, value := range extra {
		if _, exists := merged[key]; !exists {
			merged[key] = value
		}
	}

	return json.Marshal(merged)
}
