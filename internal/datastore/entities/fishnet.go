package entities

import (
	"time"

	"gorm.io/datatypes"
)

// FishnetCell is one grid cell produced by a fishnet run.
type FishnetCell struct {
	ID        uint     `gorm:"primaryKey"`
	RunID     *uint    `gorm:"index"`
	ProjectID uint     `gorm:"not null;default:0;index"`
	VendorID  string   `gorm:"size:64;not null;index"`
	CellIndex int      `gorm:"not null"`
	Shape     string   `gorm:"size:16;not null"`
	EPSG      int      `gorm:"column:epsg_code;not null"`
	Cell      Geometry `gorm:"not null"`

	Status      ReviewStatus `gorm:"size:16;not null;default:Available;index"`
	LockedBy    *string      `gorm:"size:64;index"`
	LockedAt    *time.Time   `gorm:"index"`
	CompletedAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`

	Reviews []FishnetReview `gorm:"foreignKey:CellID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (FishnetCell) TableName() string {
	return "fishnet_cells"
}

// FishnetReview records that a reviewer screened a cell.
type FishnetReview struct {
	ID         uint      `gorm:"primaryKey"`
	CellID     uint      `gorm:"not null;uniqueIndex:idx_review_cell_reviewer,priority:1"`
	ReviewerID string    `gorm:"size:64;not null;uniqueIndex:idx_review_cell_reviewer,priority:2;index"`
	Date       time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM.
func (FishnetReview) TableName() string {
	return "fishnet_reviews"
}

// FishnetRun records one partition batch: its parameters, source rasters and
// per-raster failures.
type FishnetRun struct {
	ID         uint           `gorm:"primaryKey"`
	UUID       string         `gorm:"size:36;not null;uniqueIndex"`
	ProjectID  uint           `gorm:"not null;default:0;index"`
	Parameters datatypes.JSON `gorm:"not null"`
	Rasters    datatypes.JSON
	Failures   datatypes.JSON
	CellCount  int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`

	Cells []FishnetCell `gorm:"foreignKey:RunID;constraint:OnDelete:SET NULL"`
}

// TableName returns the table name for GORM.
func (FishnetRun) TableName() string {
	return "fishnet_runs"
}
