package models

import (
	"time"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleUser
}

// User 员工账号；Email 不区分大小写唯一，作为登录名。
// Password holds plaintext in legacy mode and a bcrypt hash in secure mode.
type User struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Role               Role   `json:"role"`
	Email              string `json:"email"`
	Password           string `json:"password,omitempty"`
	IsEnabled          bool   `json:"isEnabled"`
	MustChangePassword bool   `json:"mustChangePassword,omitempty"`
}

// Public drops the password before the record leaves the service.
func (u User) Public() User {
	u.Password = ""
	return u
}

// Credential 为每个注册的 Passkey 存档（生物识别登录）
type Credential struct {
	ID              uint       `json:"id"`
	UserID          string     `json:"userId"`
	CredentialID    []byte     `json:"credentialId"`
	PublicKey       []byte     `json:"publicKey"`
	AttestationType string     `json:"attestationType"`
	AAGUID          []byte     `json:"aaguid"`
	SignCount       uint32     `json:"signCount"`
	CloneWarning    bool       `json:"cloneWarning"`
	BackupEligible  bool       `json:"backupEligible"`
	BackupState     bool       `json:"backupState"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
}
