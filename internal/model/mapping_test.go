package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"already normalized", "email", "email"},
		{"uppercase", "EMAIL", "email"},
		{"underscores stripped", "first_name", "firstname"},
		{"spaces and dashes stripped", "First - Name", "firstname"},
		{"digits stripped", "phone2", "phone"},
		{"empty", "", ""},
		{"only punctuation", "__--", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeHeader(tc.header))
		})
	}
}

func TestSuggestMapping(t *testing.T) {
	headers := []string{"fname", "Last Name", "E-Mail", "Phone Number", "Favorite Color"}
	mapping := SuggestMapping(headers)

	assert.Equal(t, FieldFirstName, mapping["fname"])
	assert.Equal(t, FieldLastName, mapping["Last Name"])
	assert.Equal(t, FieldEmail, mapping["E-Mail"])
	assert.Equal(t, FieldPhone, mapping["Phone Number"])
	// Unknown headers map to the explicit skip variant, not a guessed field.
	assert.Equal(t, FieldSkip, mapping["Favorite Color"])
	assert.Len(t, mapping, len(headers))
}

func TestColumnMappingValidate(t *testing.T) {
	good := ColumnMapping{"a": FieldEmail, "b": FieldSkip, "c": FieldPhone}
	assert.Empty(t, good.Validate())

	bad := ColumnMapping{"a": FieldEmail, "b": "shoe_size"}
	offending := bad.Validate()
	assert.Equal(t, []string{"shoe_size"}, offending)
}

func TestColumnMappingApply(t *testing.T) {
	mapping := ColumnMapping{
		"First": FieldFirstName,
		"Mail":  FieldEmail,
		"Junk":  FieldSkip,
	}

	record := map[string]string{
		"First":    "  Ada ",
		"Mail":     "ada@example.com",
		"Junk":     "ignored",
		"Unmapped": "also ignored",
	}

	out := mapping.Apply(record)
	assert.Equal(t, map[string]string{
		FieldFirstName: "Ada",
		FieldEmail:     "ada@example.com",
	}, out)
}

func TestInvitationPending(t *testing.T) {
	now := time.Now()

	open := Invitation{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, open.Pending(now))

	expired := Invitation{ExpiresAt: now.Add(-time.Hour)}
	assert.False(t, expired.Pending(now))

	accepted := Invitation{ExpiresAt: now.Add(time.Hour), AcceptedAt: &now}
	assert.False(t, accepted.Pending(now))
}

func TestSeatUsageDetails(t *testing.T) {
	usage := SeatUsage{ActiveMembers: 3, PendingInvites: 2, SeatCount: 10, Available: 5, CanProceed: true}
	assert.Equal(t, "5 of 10 seats used (3 members, 2 pending invitations), 5 available", usage.Details())
}

func TestSeatUsageMarshalIncludesDetails(t *testing.T) {
	usage := SeatUsage{ActiveMembers: 3, PendingInvites: 2, SeatCount: 10, Available: 5, CanProceed: true}

	raw, err := json.Marshal(usage)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, usage.Details(), decoded["details"])
	assert.Equal(t, float64(3), decoded["activeMembers"])
	assert.Equal(t, float64(10), decoded["seatCount"])
	assert.Equal(t, true, decoded["canProceed"])
}

func TestRowCountsProcessed(t *testing.T) {
	counts := RowCounts{Total: 10, Succeeded: 6, Failed: 2, Pending: 2}
	assert.Equal(t, 8, counts.Processed())
}
