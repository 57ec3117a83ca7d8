package talent

import (
	"encoding/json"
	"strings"
)

// SubRecordItem is one (title, description) entry inside a sub-record value.
type SubRecordItem struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SubRecordValue is the tagged union stored in a sub-record's value column:
// either free text, a list of items, or both. Stored shapes are not trusted;
// ParseSubRecordValue normalizes whatever is found on read.
type SubRecordValue struct {
	RawText *string         `json:"raw_text,omitempty"`
	Items   []SubRecordItem `json:"items,omitempty"`
}

// IsEmpty reports whether the value carries no usable content.
func (v SubRecordValue) IsEmpty() bool {
	return (v.RawText == nil || strings.TrimSpace(*v.RawText) == "") && len(v.Items) == 0
}

// Text flattens the value into a single display/search string.
func (v SubRecordValue) Text() string {
	var parts []string
	if v.RawText != nil && strings.TrimSpace(*v.RawText) != "" {
		parts = append(parts, strings.TrimSpace(*v.RawText))
	}
	for _, item := range v.Items {
		t := strings.TrimSpace(item.Title)
		d := strings.TrimSpace(item.Description)
		switch {
		case t != "" && d != "":
			parts = append(parts, t+": "+d)
		case t != "":
			parts = append(parts, t)
		case d != "":
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "; ")
}

// ParseSubRecordValue decodes a stored value blob into a normalized
// SubRecordValue. Historic rows contain several shapes: the canonical
// object, a bare JSON string, a bare array of items, or arrays of strings.
// Unrecognized shapes degrade to an empty value, never an error.
func ParseSubRecordValue(raw []byte) SubRecordValue {
	if len(raw) == 0 {
		return SubRecordValue{}
	}

	// Canonical shape first.
	var v SubRecordValue
	if err := json.Unmarshal(raw, &v); err == nil && !v.IsEmpty() {
		return normalizeValue(v)
	}

	// Bare string.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return SubRecordValue{RawText: &s}
		}
		return SubRecordValue{}
	}

	// Bare array of items.
	var items []SubRecordItem
	if err := json.Unmarshal(raw, &items); err == nil {
		return normalizeValue(SubRecordValue{Items: items})
	}

	// Array of plain strings becomes title-only items.
	var titles []string
	if err := json.Unmarshal(raw, &titles); err == nil {
		out := SubRecordValue{}
		for _, t := range titles {
			if t = strings.TrimSpace(t); t != "" {
				out.Items = append(out.Items, SubRecordItem{Title: t})
			}
		}
		return out
	}

	return SubRecordValue{}
}

// normalizeValue trims item fields and drops entries with no content.
func normalizeValue(v SubRecordValue) SubRecordValue {
	out := SubRecordValue{}
	if v.RawText != nil {
		if t := strings.TrimSpace(*v.RawText); t != "" {
			out.RawText = &t
		}
	}
	for _, item := range v.Items {
		item.Title = strings.TrimSpace(item.Title)
		item.Description = strings.TrimSpace(item.Description)
		if item.Title == "" && item.Description == "" {
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out
}
