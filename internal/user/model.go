// Package user holds the user domain: the persisted row, its repository,
// input validation and the service that routes every write through the
// signing pipeline.
package user

import (
	"time"

	pb "useradmin/pkg/proto"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	StatusActive   = "active"
	StatusInactive = "inactive"
)

// User is a signed user row. EmailHash and DigitalSignature are written
// together and only from pipeline output.
type User struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	Email            string    `gorm:"size:255;not null;uniqueIndex"`
	Role             string    `gorm:"size:16;not null;default:user;index"`
	Status           string    `gorm:"size:16;not null;default:active;index"`
	EmailHash        string    `gorm:"column:email_hash;size:96;not null"`
	DigitalSignature string    `gorm:"column:digital_signature;type:text;not null"`
	CreatedAt        time.Time `gorm:"index"`
	UpdatedAt        time.Time
}

func (User) TableName() string { return "users" }

// Record converts the row to its wire form.
func (u User) Record() pb.Record {
	return pb.Record{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		Status:    u.Status,
		EmailHash: u.EmailHash,
		Signature: u.DigitalSignature,
		CreatedAt: pb.FormatTime(u.CreatedAt),
		UpdatedAt: pb.FormatTime(u.UpdatedAt),
	}
}

// View is the JSON shape returned by the API.
type View struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	EmailHash string `json:"emailHash"`
	Signature string `json:"signature"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func (u User) View() View { return RecordView(u.Record()) }

// RecordView renders a wire record, such as one decoded from an export.
func RecordView(r pb.Record) View {
	return View{
		ID:        r.ID,
		Email:     r.Email,
		Role:      r.Role,
		Status:    r.Status,
		EmailHash: r.EmailHash,
		Signature: r.Signature,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func Views(users []User) []View {
	out := make([]View, len(users))
	for i, u := range users {
		out[i] = u.View()
	}
	return out
}
