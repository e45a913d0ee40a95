package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"gitlab.com/polisuite/api/agency-crm-service/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// JSONBMap marshals a map into a JSONB value for fixtures.
func JSONBMap(data map[string]interface{}) datatypes.JSON {
	bytes, _ := json.Marshal(data)
	return datatypes.JSON(bytes)
}

// NewLead creates a Lead instance with fake data. Override fields via the
// optional argument.
func NewLead(overrideDefaults ...*Lead) *Lead {
	first := gofakeit.FirstName()
	last := gofakeit.LastName()
	base := &Lead{
		ID:        uuid.NewString(),
		AgencyID:  "agency_" + gofakeit.LetterN(10),
		FirstName: first,
		LastName:  last,
		FullName:  first + " " + last,
		Email:     gofakeit.Email(),
		Phone:     gofakeit.Phone(),
		Source:    DefaultLeadSource,
		Status:    LeadStatusNew,
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.AgencyID != "" {
			base.AgencyID = ovr.AgencyID
		}
		if ovr.FirstName != "" {
			base.FirstName = ovr.FirstName
		}
		if ovr.LastName != "" {
			base.LastName = ovr.LastName
		}
		if ovr.FullName != "" {
			base.FullName = ovr.FullName
		}
		if ovr.Email != "" {
			base.Email = ovr.Email
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
	}
	return base
}

// NewImportJob creates an ImportJob instance with fake data.
func NewImportJob(overrideDefaults ...*ImportJob) *ImportJob {
	base := &ImportJob{
		ID:       uuid.NewString(),
		AgencyID: "agency_" + gofakeit.LetterN(10),
		Filename: fmt.Sprintf("%s.csv", gofakeit.Word()),
		Status:   JobStatusPending,
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.AgencyID != "" {
			base.AgencyID = ovr.AgencyID
		}
		if ovr.Filename != "" {
			base.Filename = ovr.Filename
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
	}
	return base
}

// NewInvitation creates an Invitation instance with fake data and a 7-day expiry.
func NewInvitation(overrideDefaults ...*Invitation) *Invitation {
	base := &Invitation{
		ID:        uuid.NewString(),
		AgencyID:  "agency_" + gofakeit.LetterN(10),
		Email:     gofakeit.Email(),
		Role:      gofakeit.RandomString([]string{RoleAdmin, RoleManager, RoleAgent, RoleStaff}),
		InvitedBy: uuid.NewString(),
		ExpiresAt: utils.Now().Add(7 * 24 * time.Hour),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.AgencyID != "" {
			base.AgencyID = ovr.AgencyID
		}
		if ovr.Email != "" {
			base.Email = ovr.Email
		}
		if ovr.Role != "" {
			base.Role = ovr.Role
		}
		if ovr.InvitedBy != "" {
			base.InvitedBy = ovr.InvitedBy
		}
		if !ovr.ExpiresAt.IsZero() {
			base.ExpiresAt = ovr.ExpiresAt
		}
		if ovr.AcceptedAt != nil {
			base.AcceptedAt = ovr.AcceptedAt
		}
	}
	return base
}
