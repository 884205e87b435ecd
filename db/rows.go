package db

import "time"

const (
	ToolTable       = "tools"
	LogTable        = "tool_logs"
	UserTable       = "users"
	CredentialTable = "credentials"
)

// ToolRow is the canonical column set. Reads go through raw row maps so
// that legacy column names still resolve; see mapping.go. NOT NULL columns
// carry defaults so they can be added to a populated legacy table.
type ToolRow struct {
	ID                string  `gorm:"primaryKey;size:64"`
	Name              string  `gorm:"size:200;not null;default:'Unnamed tool'"`
	Category          string  `gorm:"size:120;not null;default:'General'"`
	Status            string  `gorm:"size:20;not null;default:'AVAILABLE'"`
	CurrentHolderID   *string `gorm:"size:64;index"`
	CurrentHolderName *string `gorm:"size:200"`
	CurrentSite       *string `gorm:"size:255"`
	MainPhoto         *string `gorm:"type:text"`
	Notes             string  `gorm:"type:text;not null;default:''"`
	PurchaseDate      *time.Time
	ItemCount         int    `gorm:"not null;default:1"`
	SerialNumber      string `gorm:"size:120;not null;default:''"`
	BookedAt          *time.Time
	LastReturnedAt    *time.Time
	Version           int64 `gorm:"not null;default:0"`
}

// ToolLogRow 审计日志：只追加，seq 由数据库分配，决定顺序
type ToolLogRow struct {
	Seq       int64     `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"size:64;uniqueIndex;not null"`
	ToolID    string    `gorm:"size:64;not null"`
	UserID    string    `gorm:"size:64;not null"`
	UserName  string    `gorm:"size:200;not null"`
	Action    string    `gorm:"size:20;not null"`
	Timestamp time.Time `gorm:"not null"`
	Site      *string   `gorm:"size:255"`
	Comment   *string   `gorm:"type:text"`
	Photo     *string   `gorm:"type:text"`
}

type UserRow struct {
	ID                 string `gorm:"primaryKey;size:64"`
	Name               string `gorm:"size:200;not null;default:'Unknown'"`
	Role               string `gorm:"size:20;not null;default:'USER'"`
	Email              string `gorm:"size:255;not null;default:''"`
	Password           string `gorm:"size:255;not null;default:''"`
	IsEnabled          bool   `gorm:"not null;default:true"`
	MustChangePassword bool   `gorm:"not null;default:false"`
}

// CredentialRow 为每个注册的 Passkey 存档
// 注意：CredentialID / PublicKey 为二进制，GORM 在 Postgres 下可用 bytea
type CredentialRow struct {
	ID              uint   `gorm:"primaryKey"`
	UserID          string `gorm:"size:64;index"`
	CredentialID    []byte `gorm:"uniqueIndex"`
	PublicKey       []byte `gorm:"not null"`
	AttestationType string `gorm:"size:64"`
	AAGUID          []byte `gorm:"type:bytea"`
	SignCount       uint32 `gorm:"not null;default:0"`
	CloneWarning    bool   `gorm:"not null;default:false"`
	BackupEligible  bool   `gorm:"not null;default:false"`
	BackupState     bool   `gorm:"not null;default:false"`
	CreatedAt       time.Time
	LastUsedAt      *time.Time `gorm:"index"`
}

func (ToolRow) TableName() string       { return ToolTable }
func (ToolLogRow) TableName() string    { return LogTable }
func (UserRow) TableName() string       { return UserTable }
func (CredentialRow) TableName() string { return CredentialTable }
