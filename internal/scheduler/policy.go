package scheduler

import (
	"fmt"
	"time"

	"github.com/GK-Developers/GK-Healter/internal/safety"
)

// Policy decides when an unattended cleanup may start and what it may touch
type Policy struct {
	// IdleThreshold is the minimum user idle time
	IdleThreshold time.Duration `mapstructure:"idle_threshold" yaml:"idle_threshold"`
	// DiskFreeThresholdPercent triggers a run once free space drops to it
	DiskFreeThresholdPercent float64 `mapstructure:"disk_free_threshold_percent" yaml:"disk_free_threshold_percent"`
	// IdleOnly runs on idle time alone, without disk pressure
	IdleOnly       bool `mapstructure:"idle_only" yaml:"idle_only"`
	RequireACPower bool `mapstructure:"require_ac_power" yaml:"require_ac_power"`
	// Interval makes a run due when the last one is at least this old,
	// even without disk pressure. Zero disables it.
	Interval          time.Duration     `mapstructure:"interval" yaml:"interval"`
	AllowedCategories []safety.Category `mapstructure:"allowed_categories" yaml:"allowed_categories"`
	Cooldown          time.Duration     `mapstructure:"cooldown" yaml:"cooldown"`
	// Guard is an optional CEL expression that must also hold. Variables:
	// idle_seconds, disk_free_percent, on_ac_power, hour, weekday.
	Guard string `mapstructure:"guard" yaml:"guard"`
}

// DefaultPolicy only touches per-user data that needs no privilege
func DefaultPolicy() Policy {
	return Policy{
		IdleThreshold:            15 * time.Minute,
		DiskFreeThresholdPercent: 10,
		RequireACPower:           true,
		Interval:                 7 * 24 * time.Hour,
		AllowedCategories:        []safety.Category{safety.AppCache, safety.Thumbnails, safety.TempFiles},
		Cooldown:                 time.Hour,
	}
}

// Autonomous reports whether a category may ever run unattended
func Autonomous(c safety.Category) bool {
	return c.Valid() && c != safety.OrphanPackages
}

// Validate rejects policies that could widen what an unattended run touches
func (p Policy) Validate() error {
	if len(p.AllowedCategories) == 0 {
		return fmt.Errorf("allowed_categories must not be empty")
	}
	for _, c := range p.AllowedCategories {
		if !Autonomous(c) {
			return fmt.Errorf("category %q may not run unattended", c)
		}
	}
	if p.IdleThreshold < 0 {
		return fmt.Errorf("idle_threshold must not be negative")
	}
	if p.DiskFreeThresholdPercent < 0 || p.DiskFreeThresholdPercent > 100 {
		return fmt.Errorf("disk_free_threshold_percent must be within 0..100, got %v", p.DiskFreeThresholdPercent)
	}
	if p.Cooldown < 0 || p.Interval < 0 {
		return fmt.Errorf("cooldown and interval must not be negative")
	}
	return nil
}
