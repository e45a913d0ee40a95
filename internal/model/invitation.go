package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Membership roles. Owner and admin may manage invitations.
const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleAgent   = "agent"
	RoleStaff   = "staff"
)

// Membership statuses
const (
	MemberStatusActive   = "active"
	MemberStatusDisabled = "disabled"
)

// Agency is the tenant root. SeatCount is the number of purchased seats;
// active members plus unexpired pending invitations may never exceed it.
type Agency struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	Name      string    `json:"name" gorm:"type:text" validate:"required"`
	SeatCount int       `json:"seat_count" gorm:"column:seat_count"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (Agency) TableName(namer schema.Namer) string {
	return namer.TableName("agencies")
}

// Membership ties a user to an agency with a role.
type Membership struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	AgencyID  string    `json:"agency_id" gorm:"column:agency_id;uniqueIndex:idx_memberships_agency_user" validate:"required"`
	UserID    string    `json:"user_id" gorm:"column:user_id;uniqueIndex:idx_memberships_agency_user" validate:"required"`
	Email     string    `json:"email" gorm:"index;type:text"`
	Role      string    `json:"role" gorm:"type:text" validate:"required,oneof=owner admin manager agent staff"`
	Status    string    `json:"status" gorm:"type:text;default:active"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (Membership) TableName(namer schema.Namer) string {
	return namer.TableName("memberships")
}

// CanManageInvitations reports whether the role may invite new members.
func CanManageInvitations(role string) bool {
	return role == RoleOwner || role == RoleAdmin
}

// Invitation is a tenant-scoped pending membership offer. No two unexpired,
// unaccepted invitations share (agency_id, email).
type Invitation struct {
	ID         string     `json:"id" gorm:"primaryKey;type:text"`
	AgencyID   string     `json:"agency_id" gorm:"column:agency_id;index:idx_invitations_agency_email" validate:"required"`
	Email      string     `json:"email" gorm:"index:idx_invitations_agency_email;type:text" validate:"required,email"`
	Role       string     `json:"role" gorm:"type:text" validate:"required,oneof=admin manager agent staff"`
	InvitedBy  string     `json:"invited_by" gorm:"column:invited_by;type:text"`
	ExpiresAt  time.Time  `json:"expires_at" gorm:"column:expires_at;index"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty" gorm:"column:accepted_at"`
	CreatedAt  time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (Invitation) TableName(namer schema.Namer) string {
	return namer.TableName("invitations")
}

// Pending reports whether the invitation is still open at the given time.
func (i Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}

// SeatUsage is the seat accounting snapshot computed under the tenant lock.
// It is never persisted.
type SeatUsage struct {
	ActiveMembers  int  `json:"activeMembers"`
	PendingInvites int  `json:"pendingInvites"`
	SeatCount      int  `json:"seatCount"`
	Available      int  `json:"availableSeats"`
	CanProceed     bool `json:"canProceed"`
}

// Details renders the human-readable usage summary surfaced in errors and
// invite results.
func (u SeatUsage) Details() string {
	return fmt.Sprintf("%d of %d seats used (%d members, %d pending invitations), %d available",
		u.ActiveMembers+u.PendingInvites, u.SeatCount, u.ActiveMembers, u.PendingInvites, u.Available)
}

// MarshalJSON adds the rendered summary as a "details" field so API clients
// get it without reassembling the numbers themselves.
func (u SeatUsage) MarshalJSON() ([]byte, error) {
	type seatUsage SeatUsage
	return json.Marshal(struct {
		seatUsage
		Details string `json:"details"`
	}{seatUsage(u), u.Details()})
}

// InviteRequest is the invitation submission payload. Either Email or Emails
// may be set; they are merged before validation.
type InviteRequest struct {
	Email  string   `json:"email,omitempty"`
	Emails []string `json:"emails,omitempty"`
	Role   string   `json:"role" validate:"required,oneof=admin manager agent staff"`
}

// InviteResult reports the outcome of one bulk-invite call.
type InviteResult struct {
	Created            int      `json:"created"`
	Skipped            int      `json:"skipped"`
	CreatedInvitations []string `json:"createdInvitations"`
	AlreadyInvited     []string `json:"alreadyInvited"`
	ExistingUsers      []string `json:"existingUsers"`
	SeatUsage          string   `json:"seatUsage"`
}

// Audit actions
const (
	AuditActionInvitationCreated = "invitation.created"
	AuditActionJobFinalized      = "import_job.finalized"
)

// AuditLog records administrative actions. Diff content is redacted before
// persistence; raw emails never reach this table.
type AuditLog struct {
	ID        int64          `json:"-" gorm:"primaryKey;autoIncrement"`
	AgencyID  string         `json:"agency_id" gorm:"column:agency_id;index" validate:"required"`
	ActorID   string         `json:"actor_id" gorm:"column:actor_id;type:text"`
	Action    string         `json:"action" gorm:"type:text;index" validate:"required"`
	Entity    string         `json:"entity" gorm:"type:text"`
	EntityID  string         `json:"entity_id" gorm:"column:entity_id;type:text"`
	Diff      datatypes.JSON `json:"diff,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM, respecting the Namer.
func (AuditLog) TableName(namer schema.Namer) string {
	return namer.TableName("audit_logs")
}
