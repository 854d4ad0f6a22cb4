package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CatalogItem is one priced line of a year's price book. Rows are immutable;
// a year is replaced wholesale on re-ingestion.
type CatalogItem struct {
	ID           uuid.UUID                    `gorm:"type:uuid;primaryKey" json:"id"`
	Code         string                       `gorm:"column:code;not null;uniqueIndex:idx_catalog_code_year" json:"code"`
	Year         int                          `gorm:"column:year;not null;uniqueIndex:idx_catalog_code_year;index" json:"year"`
	Description  string                       `gorm:"column:description;not null" json:"description"`
	Unit         string                       `gorm:"column:unit;not null" json:"unit"`
	UnitPrice    decimal.Decimal              `gorm:"column:unit_price;type:numeric(14,2);not null" json:"unit_price"`
	PriceFlagged bool                         `gorm:"column:price_flagged;not null;default:false" json:"price_flagged,omitempty"`
	Embedding    datatypes.JSONSlice[float32] `gorm:"column:embedding;type:jsonb" json:"-"`
	SourceJobID  uuid.UUID                    `gorm:"type:uuid;column:source_job_id;index" json:"source_job_id"`
	CreatedAt    time.Time                    `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (CatalogItem) TableName() string { return "catalog_item" }

func (c *CatalogItem) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Filter narrows nearest-neighbour search. A zero Year matches every year.
type Filter struct {
	Year int
}

// Match is a scored search hit.
type Match struct {
	Item  *CatalogItem `json:"item"`
	Score float64      `json:"score"`
}
