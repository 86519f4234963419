package entities

// Target is a species a reviewer can name for an animal classification.
type Target struct {
	ID    uint   `gorm:"primaryKey"`
	Code  string `gorm:"size:64;not null;uniqueIndex"`
	Label string `gorm:"size:64;not null"`
}

// TableName returns the table name for GORM.
func (Target) TableName() string {
	return "targets"
}

// Confidence is a reviewer's certainty level.
type Confidence struct {
	ID    uint   `gorm:"primaryKey"`
	Code  string `gorm:"size:16;not null;uniqueIndex"`
	Label string `gorm:"size:32;not null"`
	Rank  int    `gorm:"column:sort_order;not null"`
}

// TableName returns the table name for GORM.
func (Confidence) TableName() string {
	return "confidences"
}

// All returns every model for AutoMigrate, parents first.
func All() []any {
	return []any{
		&Target{},
		&Confidence{},
		&PointOfInterest{},
		&Annotation{},
		&FishnetRun{},
		&FishnetCell{},
		&FishnetReview{},
	}
}
