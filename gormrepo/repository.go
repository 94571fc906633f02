package gormrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	goOTP "github.com/MrEthical07/goOTP"
)

const uniqueViolation = "23505"

var (
	_ goOTP.IdentityRepository = (*IdentityRepository)(nil)
	_ goOTP.RecordRepository   = (*RecordRepository)(nil)
)

// IdentityRepository implements goOTP.IdentityRepository on gorm.
type IdentityRepository struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) FindByPhone(ctx context.Context, phone string) (*goOTP.GuestIdentity, error) {
	return r.findBy(ctx, "phone = ?", phone)
}

func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*goOTP.GuestIdentity, error) {
	return r.findBy(ctx, "email = ?", email)
}

func (r *IdentityRepository) findBy(ctx context.Context, query string, value string) (*goOTP.GuestIdentity, error) {
	if value == "" {
		return nil, goOTP.ErrIdentityNotFound
	}

	var row GuestIdentity
	err := r.db.WithContext(ctx).Where(query, value).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, goOTP.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return row.toDomain(), nil
}

// CreateGuest inserts identity. A unique violation on phone or email is
// reported as goOTP.ErrIdentityConflict.
func (r *IdentityRepository) CreateGuest(ctx context.Context, identity goOTP.GuestIdentity) (*goOTP.GuestIdentity, error) {
	row := fromDomain(identity)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return nil, goOTP.ErrIdentityConflict
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return row.toDomain(), nil
}

func (r *IdentityRepository) SetVerified(ctx context.Context, identityID string, kind goOTP.ContactKind) error {
	column := "phone_verified"
	if kind == goOTP.ContactEmail {
		column = "email_verified"
	}

	res := r.db.WithContext(ctx).Model(&GuestIdentity{}).Where("id = ?", identityID).Update(column, true)
	if res.Error != nil {
		return fmt.Errorf("set verified: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return goOTP.ErrIdentityNotFound
	}
	return nil
}

// RecordRepository counts orders placed with a phone.
type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) CountRecordsByPhone(ctx context.Context, phone, orderNumber string) (int, error) {
	q := r.db.WithContext(ctx).Model(&OrderRecord{}).Where("phone = ?", phone)
	if orderNumber != "" {
		q = q.Where("order_number = ?", orderNumber)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int(n), nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
