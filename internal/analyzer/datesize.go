package analyzer

import (
	"time"

	"github.com/mailsteward/mailsteward/internal/model"
)

// DateSizeConfig holds the age and size bucket boundaries.
type DateSizeConfig struct {
	RecentDays   int   `yaml:"recent_days"`
	ModerateDays int   `yaml:"moderate_days"`
	SmallBytes   int64 `yaml:"small_bytes"`
	MediumBytes  int64 `yaml:"medium_bytes"`
}

// DefaultDateSizeConfig: recent <= 30d, moderate <= 180d, old beyond;
// small < 100 KB, medium < 1 MB, large from 1 MB.
func DefaultDateSizeConfig() *DateSizeConfig {
	return &DateSizeConfig{
		RecentDays:   30,
		ModerateDays: 180,
		SmallBytes:   100 << 10,
		MediumBytes:  1 << 20,
	}
}

// DateSizeAnalyzer buckets age and size and derives a recency score and a
// size penalty.
type DateSizeAnalyzer struct {
	cfg *DateSizeConfig
}

// NewDateSizeAnalyzer builds the analyzer; nil gets the default config.
func NewDateSizeAnalyzer(cfg *DateSizeConfig) *DateSizeAnalyzer {
	if cfg == nil {
		cfg = DefaultDateSizeConfig()
	}
	return &DateSizeAnalyzer{cfg: cfg}
}

func (a *DateSizeAnalyzer) analyze(msg *model.MessageIndex, now time.Time, res *model.AnalyzerResult) {
	age := msg.AgeDays(now)

	switch {
	case age <= a.cfg.RecentDays:
		res.AgeCategory = model.AgeRecent
	case age <= a.cfg.ModerateDays:
		res.AgeCategory = model.AgeModerate
	default:
		res.AgeCategory = model.AgeOld
	}

	switch {
	case msg.SizeBytes < a.cfg.SmallBytes:
		res.SizeCategory = model.SizeSmall
	case msg.SizeBytes < a.cfg.MediumBytes:
		res.SizeCategory = model.SizeMedium
	default:
		res.SizeCategory = model.SizeLarge
	}

	// Linear decay over a year; anything older scores zero recency.
	res.RecencyScore = clip01(1.0 - float64(age)/365.0)

	// Penalty ramps from zero at the small boundary to one at 10 MB.
	const maxPenaltyBytes = 10 << 20
	if msg.SizeBytes <= a.cfg.SmallBytes {
		res.SizePenalty = 0
	} else {
		res.SizePenalty = clip01(float64(msg.SizeBytes-a.cfg.SmallBytes) / float64(maxPenaltyBytes-a.cfg.SmallBytes))
	}
}

// ageBucket and sizeBucket feed the cache key with default boundaries.
func ageBucket(days int) model.AgeCategory {
	switch {
	case days <= 30:
		return model.AgeRecent
	case days <= 180:
		return model.AgeModerate
	default:
		return model.AgeOld
	}
}

func sizeBucket(size int64) model.SizeCategory {
	switch {
	case size < 100<<10:
		return model.SizeSmall
	case size < 1<<20:
		return model.SizeMedium
	default:
		return model.SizeLarge
	}
}
