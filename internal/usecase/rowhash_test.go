package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalRowJSONSortsKeys(t *testing.T) {
	record := map[string]string{
		"phone":      "+15550100",
		"email":      "jane@example.com",
		"first_name": "Jane",
	}
	assert.JSONEq(t,
		`{"email":"jane@example.com","first_name":"Jane","phone":"+15550100"}`,
		string(CanonicalRowJSON(record)))
	// Key order in the literal must not matter.
	assert.Equal(t, string(CanonicalRowJSON(record)), string(CanonicalRowJSON(map[string]string{
		"first_name": "Jane",
		"phone":      "+15550100",
		"email":      "jane@example.com",
	})))
}

func TestRowHashStableAndDistinct(t *testing.T) {
	a := map[string]string{"email": "jane@example.com", "first_name": "Jane"}
	b := map[string]string{"first_name": "Jane", "email": "jane@example.com"}
	c := map[string]string{"email": "john@example.com", "first_name": "John"}

	assert.Equal(t, RowHash(a), RowHash(b), "same logical content must hash identically")
	assert.NotEqual(t, RowHash(a), RowHash(c))
	assert.Len(t, RowHash(a), 64, "hex-encoded SHA-256")
}

func TestRowHashSensitiveToEveryField(t *testing.T) {
	base := map[string]string{"email": "jane@example.com", "phone": "+15550100"}
	changed := map[string]string{"email": "jane@example.com", "phone": "+15550101"}
	assert.NotEqual(t, RowHash(base), RowHash(changed))
}
