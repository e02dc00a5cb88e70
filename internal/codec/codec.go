// Package codec translates wire records of the bookmarks collection to and
// from staged rows. Decoding is forgiving: a malformed record is reported to
// the caller and skipped, it never aborts the batch. Fields the client does
// not understand are captured verbatim and re-emitted on upload.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/MKhiriev/go-mark-sync/models"
)

// ErrMalformedRecord marks records that cannot be staged at all: unreadable
// JSON, a missing or invalid id, or an unknown type.
var ErrMalformedRecord = errors.New("malformed record")

const (
	// MaxTitleLength bounds stored titles; longer titles are truncated and
	// the truncation is not treated as an error.
	MaxTitleLength = 4096
	// MaxURLLength bounds accepted URLs; longer URLs invalidate the record
	// the same way an unparseable URL does.
	MaxURLLength = 65536
	// MaxTagLength bounds stored tags; a tag empty or over-long after
	// trimming is dropped and the cleaned record goes back up.
	MaxTagLength = 100
)

// recordIDsToGuids maps the abbreviated on-wire ids of the syncable roots to
// their fixed GUIDs. All other record ids are GUIDs already.
var recordIDsToGuids = map[string]models.Guid{
	"places":  models.RootGuid,
	"menu":    models.MenuGuid,
	"toolbar": models.ToolbarGuid,
	"unfiled": models.UnfiledGuid,
	"mobile":  models.MobileGuid,
}

var guidsToRecordIDs = map[models.Guid]string{
	models.RootGuid:    "places",
	models.MenuGuid:    "menu",
	models.ToolbarGuid: "toolbar",
	models.UnfiledGuid: "unfiled",
	models.MobileGuid:  "mobile",
}

// GuidFromRecordID translates an on-wire record id into a GUID.
func GuidFromRecordID(id string) (models.Guid, error) {
	if g, ok := recordIDsToGuids[id]; ok {
		return g, nil
	}

	g := models.Guid(id)
	if !g.IsValid() {
		return "", fmt.Errorf("%w: invalid record id %q", ErrMalformedRecord, id)
	}

	return g, nil
}

// RecordIDFromGuid translates a GUID into its on-wire record id.
func RecordIDFromGuid(g models.Guid) string {
	if id, ok := guidsToRecordIDs[g]; ok {
		return id
	}
	return string(g)
}

// knownFields lists the top-level keys the client understands. Everything
// else round-trips through the mirror.
var knownFields = map[string]struct{}{
	"id":            {},
	"deleted":       {},
	"type":          {},
	"parentid":      {},
	"hasDupe":       {},
	"parentName":    {},
	"dateAdded":     {},
	"title":         {},
	"bmkUri":        {},
	"keyword":       {},
	"tags":          {},
	"tagFolderName": {},
	"children":      {},
	"feedUri":       {},
	"siteUri":       {},
	"pos":           {},
}

// Decode translates one raw wire record into a staged row. Tombstones come
// back with IsTombstone set and no content. The returned error wraps
// ErrMalformedRecord for records that must be skipped.
func Decode(raw models.RawRecord) (*models.StagedRecord, error) {
	var wire models.WireRecord
	if err := json.Unmarshal(raw.Payload, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	if wire.ID == "" {
		return nil, fmt.Errorf("%w: record without id", ErrMalformedRecord)
	}

	guid, err := GuidFromRecordID(wire.ID)
	if err != nil {
		return nil, err
	}

	staged := &models.StagedRecord{
		Guid:           guid,
		ServerModified: raw.ServerModified,
		Validity:       models.ValidityValid,
	}

	if wire.Deleted {
		staged.IsTombstone = true
		return staged, nil
	}

	kind, err := models.KindFromWire(wire.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	staged.Kind = kind

	if wire.ParentID != "" {
		// A bad parent id is survivable: the tree builder reparents
		// orphans to the unfiled root.
		if parent, parentErr := GuidFromRecordID(wire.ParentID); parentErr == nil {
			staged.ParentGuid = parent
		} else {
			staged.Validity = models.ValidityReupload
		}
	}

	if wire.DateAdded != nil && *wire.DateAdded > 0 {
		staged.DateAdded = *wire.DateAdded
	}

	if wire.Title != nil {
		staged.Title = truncateTitle(*wire.Title)
	}

	switch kind {
	case models.KindBookmark, models.KindQuery:
		decodeURL(&wire, staged)
		staged.Keyword = normalizeKeyword(wire.Keyword)

		tags, cleaned := normalizeTags(wire.Tags)
		staged.Tags = tags
		if cleaned && staged.Validity < models.ValidityReupload {
			staged.Validity = models.ValidityReupload
		}

	case models.KindFolder:
		children, childErr := decodeChildren(wire.Children)
		if childErr != nil {
			staged.Validity = models.ValidityReupload
		}
		staged.Children = children

	case models.KindSeparator:
		if wire.Position != nil {
			staged.Position = *wire.Position
		}

	case models.KindLivemark:
		// Deprecated kind: staged so the merge sees it, never materialised
		// with feed content locally.
	}

	staged.UnknownFields = collectUnknownFields(raw.Payload)

	return staged, nil
}

// decodeURL validates and attaches the record's URL. A Bookmark or Query
// without a usable URL is staged with validity=Replace: the remote entry is
// accepted but a corrected local copy wins and is reuploaded.
func decodeURL(wire *models.WireRecord, staged *models.StagedRecord) {
	if wire.URL == nil || *wire.URL == "" {
		staged.Validity = models.ValidityReplace
		return
	}

	rawURL := *wire.URL
	if len(rawURL) > MaxURLLength {
		staged.Validity = models.ValidityReplace
		return
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" {
		staged.Validity = models.ValidityReplace
		return
	}

	staged.URL = rawURL
	staged.HasURL = true
}

func decodeChildren(wireChildren []string) ([]models.Guid, error) {
	if len(wireChildren) == 0 {
		return nil, nil
	}

	children := make([]models.Guid, 0, len(wireChildren))
	seen := make(map[models.Guid]struct{}, len(wireChildren))
	var bad error

	for _, id := range wireChildren {
		g, err := GuidFromRecordID(id)
		if err != nil {
			bad = err
			continue
		}
		// A GUID repeated in one child list keeps its first position.
		if _, dup := seen[g]; dup {
			bad = fmt.Errorf("duplicate child %s", g)
			continue
		}
		seen[g] = struct{}{}
		children = append(children, g)
	}

	return children, bad
}

func truncateTitle(title string) string {
	if len(title) <= MaxTitleLength {
		return title
	}

	// Cut on a rune boundary.
	cut := MaxTitleLength
	for cut > 0 && title[cut]&0xC0 == 0x80 {
		cut--
	}
	return title[:cut]
}

func normalizeKeyword(keyword *string) string {
	if keyword == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*keyword))
}

// normalizeTags trims, bounds and dedupes the record's tags. The second
// return reports whether cleaning altered the set at all: a cleaned record is
// applied locally but the corrected copy must go back up.
func normalizeTags(tags []string) ([]string, bool) {
	if len(tags) == 0 {
		return nil, false
	}

	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	cleaned := false

	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag != raw {
			cleaned = true
		}
		if tag == "" || len(tag) > MaxTagLength {
			cleaned = true
			continue
		}
		if _, dup := seen[tag]; dup {
			cleaned = true
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	if len(out) == 0 {
		return nil, cleaned
	}
	return out, cleaned
}

// collectUnknownFields returns the top-level fields outside the known schema
// as a raw JSON object, or nil when there are none.
func collectUnknownFields(payload json.RawMessage) []byte {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(payload, &all); err != nil {
		return nil
	}

	unknown := make(map[string]json.RawMessage, 2)
	for key, value := range all {
		if _, known := knownFields[key]; !known {
			unknown[key] = value
		}
	}

	if len(unknown) == 0 {
		return nil
	}

	encoded, err := json.Marshal(unknown)
	if err != nil {
		return nil
	}
	return encoded
}
