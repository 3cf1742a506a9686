package models

import "time"

type BoxStatus string

const (
	BoxStatusAvailable  BoxStatus = "AVAILABLE"
	BoxStatusRegistered BoxStatus = "REGISTERED"
	BoxStatusInactive   BoxStatus = "INACTIVE"
)

const MemberRoleOwner = "owner"

// Box is a physical locker. Boxes are provisioned in AVAILABLE state
// outside of this service and are never hard-deleted here.
type Box struct {
	ID           string            `json:"id"`
	Status       BoxStatus         `json:"status"`
	OwnerID      string            `json:"ownerId,omitempty"`
	BatchName    string            `json:"batchName,omitempty"`
	QRPayload    string            `json:"qrPayload,omitempty"`
	RegisteredAt *time.Time        `json:"registeredAt,omitempty"`
	Members      map[string]string `json:"members,omitempty"`
}

// UserBoxMembership is the part of a user record that tracks claimed boxes.
type UserBoxMembership struct {
	UserID     string            `json:"userId"`
	BoxAliases map[string]string `json:"boxAliases"`
	MainBoxID  string            `json:"mainBoxId,omitempty"`
}

func (m *UserBoxMembership) HasBoxes() bool {
	return len(m.BoxAliases) > 0
}

type ValidationResult struct {
	IsValid     bool      `json:"isValid"`
	CanRegister bool      `json:"canRegister"`
	Status      BoxStatus `json:"status,omitempty"`
	OwnerID     *string   `json:"ownerId,omitempty"`
	Message     string    `json:"message"`
}
