package models

import "gorm.io/gorm"

// Sponsor is a paying or partner organization attributed in sponsored
// moments. Read-only input to message composition.
type Sponsor struct {
	gorm.Model
	Name    string `gorm:"not null"`
	Website string `gorm:"not null;default:''"`
}
