package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/cogbench/internal/engine"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ResponseRecord struct {
	ID            uint      `gorm:"primaryKey"`
	Benchmark     string    `gorm:"index:idx_bench_responses_key;not null"`
	Mode          string    `gorm:"index:idx_bench_responses_key;not null"`
	UserID        string    `gorm:"index:idx_bench_responses_key;not null"`
	Timestamp     time.Time `gorm:"not null"`
	TargetColor   string    `gorm:"size:7;not null"`
	SelectedColor string    `gorm:"size:7;not null"`
}

func (ResponseRecord) TableName() string { return "bench_responses" }

type PathRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Benchmark  string `gorm:"index:idx_bench_path_points_key;not null"`
	Mode       string `gorm:"index:idx_bench_path_points_key;not null"`
	ColorIndex int    `gorm:"index:idx_bench_path_points_key;not null"`
	UserID     string `gorm:"index:idx_bench_path_points_key;not null"`
	Seq        int    `gorm:"not null"`
	LocationX  float64
	LocationY  float64
	CenterX    float64
	CenterY    float64
	Radius     float64
	Saturation float64
}

func (PathRecord) TableName() string { return "bench_path_points" }

// PostgresSink inserts rows; an append is a plain INSERT so no merge step is
// needed.
type PostgresSink struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*PostgresSink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&ResponseRecord{}, &PathRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (p *PostgresSink) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *PostgresSink) AppendResponses(ctx context.Context, key CollectionKey, records []engine.Response) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	rows := make([]ResponseRecord, 0, len(records))
	for _, r := range records {
		rows = append(rows, ResponseRecord{
			Benchmark:     key.Benchmark,
			Mode:          key.Mode,
			UserID:        key.UserID,
			Timestamp:     r.Timestamp,
			TargetColor:   r.TargetColor.Hex(),
			SelectedColor: r.SelectedColor.Hex(),
		})
	}
	if err := p.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("insert responses %s: %w", key, err)
	}
	return nil
}

func (p *PostgresSink) AppendPath(ctx context.Context, key PathKey, points []engine.PathPoint) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int64
		if err := tx.Model(&PathRecord{}).
			Where("benchmark = ? AND mode = ? AND color_index = ? AND user_id = ?",
				key.Benchmark, key.Mode, key.ColorIndex, key.UserID).
			Count(&next).Error; err != nil {
			return fmt.Errorf("count path %s: %w", key, err)
		}

		rows := make([]PathRecord, 0, len(points))
		for i, pt := range points {
			rows = append(rows, PathRecord{
				Benchmark:  key.Benchmark,
				Mode:       key.Mode,
				ColorIndex: key.ColorIndex,
				UserID:     key.UserID,
				Seq:        int(next) + i,
				LocationX:  pt.Location.X,
				LocationY:  pt.Location.Y,
				CenterX:    pt.Center.X,
				CenterY:    pt.Center.Y,
				Radius:     pt.Radius,
				Saturation: pt.Saturation,
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert path %s: %w", key, err)
		}
		return nil
	})
}

// Responses reads a collection back in insertion order.
func (p *PostgresSink) Responses(ctx context.Context, key CollectionKey) ([]engine.Response, error) {
	var rows []ResponseRecord
	if err := p.db.WithContext(ctx).
		Where("benchmark = ? AND mode = ? AND user_id = ?", key.Benchmark, key.Mode, key.UserID).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select responses %s: %w", key, err)
	}

	out := make([]engine.Response, 0, len(rows))
	for _, row := range rows {
		target, err := engine.ParseHex(row.TargetColor)
		if err != nil {
			return nil, err
		}
		selected, err := engine.ParseHex(row.SelectedColor)
		if err != nil {
			return nil, err
		}
		out = append(out, engine.Response{
			Timestamp:     row.Timestamp,
			UserID:        row.UserID,
			Mode:          engine.Screen(row.Mode),
			TargetColor:   target,
			SelectedColor: selected,
		})
	}
	return out, nil
}
