package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Lead statuses
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusLost      = "lost"
)

// DefaultLeadSource is the source recorded for leads created by the import pipeline.
const DefaultLeadSource = "import"

// Lead represents a CRM lead in the PostgreSQL database.
type Lead struct {
	ID           string         `json:"id" gorm:"primaryKey;type:text"`
	AgencyID     string         `json:"agency_id" gorm:"column:agency_id;index" validate:"required"`
	FirstName    string         `json:"first_name,omitempty" gorm:"type:text"`
	LastName     string         `json:"last_name,omitempty" gorm:"type:text"`
	FullName     string         `json:"full_name,omitempty" gorm:"type:text"`
	Email        string         `json:"email,omitempty" gorm:"index;type:text"`
	Phone        string         `json:"phone,omitempty" gorm:"index;type:text"`
	Source       string         `json:"source,omitempty" gorm:"type:text;default:import"`
	Status       string         `json:"status,omitempty" gorm:"type:text;default:new"`
	Notes        string         `json:"notes,omitempty" gorm:"type:text"`
	AssignedTo   string         `json:"assigned_to,omitempty" gorm:"index;type:text"`
	CreatedAt    time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
	LastMetadata datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
}

// TableName specifies the table name for the Lead model, respecting the Namer.
func (Lead) TableName(namer schema.Namer) string {
	return namer.TableName("leads")
}
