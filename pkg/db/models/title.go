package models

import (
	"time"

	"github.com/google/uuid"
)

// Title represents a catalog entry and its copy inventory. The copy
// counters only move through the inventory manager's reserve/release
// operations; nothing else writes available_copies once loans exist.
type Title struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name            string     `gorm:"column:name;not null"`
	Author          string     `gorm:"column:author;not null"`
	ISBN            *string    `gorm:"column:isbn;uniqueIndex"`
	Category        *string    `gorm:"column:category"`
	PublishedYear   *int       `gorm:"column:published_year"`
	Description     *string    `gorm:"column:description;type:text"`
	CoverImageURL   *string    `gorm:"column:cover_image_url"`
	TotalCopies     int        `gorm:"column:total_copies;not null"`
	AvailableCopies int        `gorm:"column:available_copies;not null"`
	Rating          float64    `gorm:"column:rating;not null;default:0"`
	IsActive        bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
