package models

import "time"

// Family is the tenancy boundary: every list and member belongs to exactly one family
type Family struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AppUser links an Identity to exactly one Family with exactly one Role
type AppUser struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	FamilyID    int64     `json:"familyId"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
