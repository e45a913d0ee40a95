package model

import (
	"strings"
)

// Recognized lead fields a CSV column may map to. FieldSkip is the explicit
// "drop this column" variant; anything else must be one of the constants below.
const (
	FieldSkip      = ""
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldFullName  = "full_name"
	FieldEmail     = "email"
	FieldPhone     = "phone"
	FieldSource    = "source"
	FieldNotes     = "notes"
	FieldStatus    = "status"
)

// leadFields is the closed set of assignable lead fields.
var leadFields = map[string]struct{}{
	FieldFirstName: {},
	FieldLastName:  {},
	FieldFullName:  {},
	FieldEmail:     {},
	FieldPhone:     {},
	FieldSource:    {},
	FieldNotes:     {},
	FieldStatus:    {},
}

// IsLeadField reports whether f names an assignable lead field or the skip variant.
func IsLeadField(f string) bool {
	if f == FieldSkip {
		return true
	}
	_, ok := leadFields[f]
	return ok
}

// ColumnMapping maps CSV header names to lead fields. An empty value means
// the column is skipped. Mappings are validated once at mapping time, not
// trusted at insert time.
type ColumnMapping map[string]string

// Validate checks every target against the recognized lead field set and
// returns the offending targets, if any.
func (m ColumnMapping) Validate() []string {
	var bad []string
	for _, field := range m {
		if !IsLeadField(field) {
			bad = append(bad, field)
		}
	}
	return bad
}

// Apply translates one raw CSV record (header -> cell) into a lead field map,
// dropping skipped columns and unmapped headers. Cell values are trimmed.
func (m ColumnMapping) Apply(record map[string]string) map[string]string {
	out := make(map[string]string, len(record))
	for column, value := range record {
		field, ok := m[column]
		if !ok || field == FieldSkip {
			continue
		}
		out[field] = strings.TrimSpace(value)
	}
	return out
}

// headerSynonyms maps normalized header text to lead fields. Lookup happens
// after NormalizeHeader, so entries contain lowercase letters only.
var headerSynonyms = map[string]string{
	"firstname":    FieldFirstName,
	"fname":        FieldFirstName,
	"first":        FieldFirstName,
	"givenname":    FieldFirstName,
	"lastname":     FieldLastName,
	"lname":        FieldLastName,
	"last":         FieldLastName,
	"surname":      FieldLastName,
	"familyname":   FieldLastName,
	"fullname":     FieldFullName,
	"name":         FieldFullName,
	"contactname":  FieldFullName,
	"email":        FieldEmail,
	"emailaddress": FieldEmail,
	"mail":         FieldEmail,
	"phone":        FieldPhone,
	"phonenumber":  FieldPhone,
	"mobile":       FieldPhone,
	"cell":         FieldPhone,
	"telephone":    FieldPhone,
	"tel":          FieldPhone,
	"source":       FieldSource,
	"leadsource":   FieldSource,
	"origin":       FieldSource,
	"notes":        FieldNotes,
	"note":         FieldNotes,
	"comments":     FieldNotes,
	"status":       FieldStatus,
	"leadstatus":   FieldStatus,
}

// NormalizeHeader lowercases a CSV header and strips everything but letters,
// so "First Name", "first_name" and "FIRST-NAME" all normalize identically.
func NormalizeHeader(header string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(header) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SuggestMapping proposes a ColumnMapping for the given CSV headers by
// normalizing each header and looking it up in the synonym table. Headers
// without a match map to FieldSkip.
func SuggestMapping(headers []string) ColumnMapping {
	mapping := make(ColumnMapping, len(headers))
	for _, header := range headers {
		if field, ok := headerSynonyms[NormalizeHeader(header)]; ok {
			mapping[header] = field
		} else {
			mapping[header] = FieldSkip
		}
	}
	return mapping
}
