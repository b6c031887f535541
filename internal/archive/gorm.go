package archive

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
)

type selection struct {
	ID         uint   `gorm:"primaryKey"`
	RoomCode   string `gorm:"index;not null"`
	RoomName   string
	Members    int
	FinishedAt time.Time `gorm:"index"`
	Winners    []selectionWinner `gorm:"foreignKey:SelectionID;constraint:OnDelete:CASCADE"`
}

func (selection) TableName() string { return "selections" }

type selectionWinner struct {
	ID          uint `gorm:"primaryKey"`
	SelectionID uint `gorm:"index;not null"`
	Rank        int  `gorm:"not null"`
	CandidateID string
	Name        string `gorm:"not null"`
	NormalPrice *float64
	SalePrice   *float64
	ImageURL    string
}

func (selectionWinner) TableName() string { return "selection_winners" }

type GormStore struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the archive tables.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&selection{}, &selectionWinner{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, r Result) error {
	row := selection{
		RoomCode:   r.Code,
		RoomName:   r.Name,
		Members:    r.Members,
		FinishedAt: r.FinishedAt,
	}
	for i, c := range r.Winners {
		row.Winners = append(row.Winners, selectionWinner{
			Rank:        i + 1,
			CandidateID: c.ID,
			Name:        c.Name,
			NormalPrice: c.NormalPrice,
			SalePrice:   c.SalePrice,
			ImageURL:    c.ImageURL,
		})
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) Recent(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var rows []selection
	err := s.db.WithContext(ctx).
		Preload("Winners", func(db *gorm.DB) *gorm.DB { return db.Order("rank ASC") }).
		Order("finished_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		res := Result{
			Code:       row.RoomCode,
			Name:       row.RoomName,
			Members:    row.Members,
			FinishedAt: row.FinishedAt,
			Winners:    make([]engine.Candidate, 0, len(row.Winners)),
		}
		for _, w := range row.Winners {
			res.Winners = append(res.Winners, engine.Candidate{
				ID:          w.CandidateID,
				Name:        w.Name,
				NormalPrice: w.NormalPrice,
				SalePrice:   w.SalePrice,
				ImageURL:    w.ImageURL,
			})
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
