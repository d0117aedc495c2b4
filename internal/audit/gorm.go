package audit

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// payloadColumn writes the event as text so both postgres and sqlite store it
// unchanged.
type payloadColumn []byte

func (p payloadColumn) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return string(p), nil
}

func (p *payloadColumn) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(payloadColumn(nil), v...)
	case string:
		*p = payloadColumn(v)
	default:
		return fmt.Errorf("audit: unsupported payload column type %T", value)
	}
	return nil
}

type logRow struct {
	ID           string        `gorm:"type:varchar(36);primaryKey"`
	EntityID     string        `gorm:"type:varchar(255);index:idx_audit_entity_id"`
	EntityType   string        `gorm:"type:varchar(100);not null;index:idx_audit_entity_created,priority:1"`
	Action       string        `gorm:"type:varchar(100);not null;index:idx_audit_action_created,priority:1"`
	ResourceName string        `gorm:"type:varchar(255)"`
	UserID       string        `gorm:"type:varchar(255);not null;index:idx_audit_user_created,priority:1"`
	UserName     string        `gorm:"type:varchar(255);not null"`
	Severity     string        `gorm:"type:varchar(20);not null"`
	Description  string        `gorm:"type:text"`
	Payload      payloadColumn `gorm:"type:text"`
	CreatedAt    time.Time     `gorm:"not null;index:idx_audit_entity_created,priority:2;index:idx_audit_action_created,priority:2;index:idx_audit_user_created,priority:2"`
}

func (logRow) TableName() string { return "audit_logs" }

func rowFromRecord(rec Record) logRow {
	return logRow{
		ID:           rec.ID,
		EntityID:     rec.EntityID,
		EntityType:   rec.EntityType,
		Action:       rec.Action,
		ResourceName: rec.ResourceName,
		UserID:       rec.UserID,
		UserName:     rec.UserName,
		Severity:     rec.Severity,
		Description:  rec.Description,
		Payload:      payloadColumn(rec.Payload),
		CreatedAt:    rec.CreatedAt.UTC(),
	}
}

func (r logRow) record() Record {
	return Record{
		ID:           r.ID,
		EntityID:     r.EntityID,
		EntityType:   r.EntityType,
		Action:       r.Action,
		ResourceName: r.ResourceName,
		UserID:       r.UserID,
		UserName:     r.UserName,
		Severity:     r.Severity,
		Description:  r.Description,
		Payload:      []byte(r.Payload),
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

// Open connects to dsn. postgres:// and postgresql:// URLs and key=value DSNs
// with host= use postgres; anything else is a sqlite path, optionally
// prefixed with sqlite://.
func Open(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("audit: database URL is required")
	}
	if cfg == nil {
		cfg = &gorm.Config{}
	}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	return db, nil
}

// GormStore keeps records in the audit_logs table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the audit_logs table and returns a store over db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("audit: database is required")
	}
	if err := db.AutoMigrate(&logRow{}); err != nil {
		return nil, fmt.Errorf("audit: migrate audit_logs: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Append(ctx context.Context, rec Record) error {
	row := rowFromRecord(rec)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (Record, error) {
	var row logRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return row.record(), nil
}

func (s *GormStore) List(ctx context.Context, q Query) (Page, error) {
	var page Page
	if err := s.filtered(ctx, q).Count(&page.Total).Error; err != nil {
		return Page{}, err
	}

	var rows []logRow
	err := s.filtered(ctx, q).
		Order("created_at DESC").
		Offset(q.offset()).
		Limit(q.limit()).
		Find(&rows).Error
	if err != nil {
		return Page{}, err
	}

	page.Records = make([]Record, 0, len(rows))
	for _, row := range rows {
		page.Records = append(page.Records, row.record())
	}
	return page, nil
}

func (s *GormStore) filtered(ctx context.Context, q Query) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&logRow{})
	if q.EntityType != "" {
		tx = tx.Where("entity_type = ?", q.EntityType)
	}
	if q.Action != "" {
		tx = tx.Where("action = ?", q.Action)
	}
	if q.EntityID != "" {
		tx = tx.Where("entity_id = ?", q.EntityID)
	}
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if !q.From.IsZero() {
		tx = tx.Where("created_at >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		tx = tx.Where("created_at <= ?", q.To.UTC())
	}
	return tx
}
