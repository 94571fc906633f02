package gormrepo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	goOTP "github.com/MrEthical07/goOTP"
)

// GuestIdentity is the persisted form of goOTP.GuestIdentity. Phone and
// email are nullable so the unique indexes never collide on empty values.
type GuestIdentity struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	Phone         *string `gorm:"uniqueIndex"`
	Email         *string `gorm:"uniqueIndex"`
	PhoneVerified bool    `gorm:"not null;default:false"`
	EmailVerified bool    `gorm:"not null;default:false"`
	Kind          string  `gorm:"not null;default:GUEST"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (GuestIdentity) TableName() string { return "guest_identities" }

func (g *GuestIdentity) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// OrderRecord is the minimal order shape tracking lookups need.
type OrderRecord struct {
	ID          uint   `gorm:"primaryKey"`
	OrderNumber string `gorm:"uniqueIndex;not null"`
	Phone       string `gorm:"index;not null"`
	CreatedAt   time.Time
}

func (OrderRecord) TableName() string { return "order_records" }

// Migrate creates or updates the tables used by this package.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&GuestIdentity{}, &OrderRecord{})
}

func fromDomain(g goOTP.GuestIdentity) GuestIdentity {
	kind := string(g.Kind)
	if kind == "" {
		kind = string(goOTP.IdentityGuest)
	}
	return GuestIdentity{
		ID:            g.ID,
		Phone:         nullable(g.Phone),
		Email:         nullable(g.Email),
		PhoneVerified: g.PhoneVerified,
		EmailVerified: g.EmailVerified,
		Kind:          kind,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}

func (g GuestIdentity) toDomain() *goOTP.GuestIdentity {
	return &goOTP.GuestIdentity{
		ID:            g.ID,
		Phone:         deref(g.Phone),
		Email:         deref(g.Email),
		PhoneVerified: g.PhoneVerified,
		EmailVerified: g.EmailVerified,
		Kind:          goOTP.IdentityKind(g.Kind),
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
