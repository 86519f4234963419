package entities

import "time"

// ReviewStatus is the workflow state shared by POIs and fishnet cells.
type ReviewStatus string

const (
	StatusAvailable ReviewStatus = "Available"
	StatusInReview  ReviewStatus = "In Review"
	StatusReviewed  ReviewStatus = "Reviewed"
)

// PointOfInterest is a candidate detection awaiting independent review.
// Location is in the projected CRS the detection was generated in.
type PointOfInterest struct {
	ID        uint     `gorm:"primaryKey"`
	ProjectID uint     `gorm:"not null;default:0;index"`
	VendorID  string   `gorm:"size:64;not null;index;uniqueIndex:idx_poi_vendor_sample,priority:1"`
	SampleIdx *string  `gorm:"size:40;uniqueIndex:idx_poi_vendor_sample,priority:2"` // detection index within the source image
	CatalogID *string  `gorm:"size:32"`
	Point     Geometry `gorm:"not null"`
	EPSG      int      `gorm:"column:epsg_code;not null"`
	Area      *float64
	Deviation *float64

	Status   ReviewStatus `gorm:"size:16;not null;default:Available;index"`
	LockedBy *string      `gorm:"size:64;index"`
	LockedAt *time.Time   `gorm:"index"`

	// Set together once consensus or adjudication freezes the outcome.
	FinalClassification *string `gorm:"size:32"`
	FinalSpecies        *string `gorm:"size:64"`
	FinalReviewDate     *time.Time
	FinalizedBy         *string `gorm:"size:64"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	Annotations []Annotation `gorm:"foreignKey:POIID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (PointOfInterest) TableName() string {
	return "points_of_interest"
}

// IsFinal reports whether the final determination has been frozen.
func (p *PointOfInterest) IsFinal() bool {
	return p.FinalReviewDate != nil
}

// Annotation is one reviewer's classification of a POI. Rows are never
// updated after insert.
type Annotation struct {
	ID             uint    `gorm:"primaryKey"`
	POIID          uint    `gorm:"column:poi_id;not null;uniqueIndex:idx_annotation_poi_reviewer,priority:1"`
	ReviewerID     string  `gorm:"size:64;not null;uniqueIndex:idx_annotation_poi_reviewer,priority:2;index"`
	Classification string  `gorm:"size:32;not null"`
	Comments       string  `gorm:"size:500"`
	Target         *string `gorm:"size:64"`
	Confidence     *string `gorm:"size:16"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName returns the table name for GORM.
func (Annotation) TableName() string {
	return "annotations"
}
