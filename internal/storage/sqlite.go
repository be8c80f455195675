package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	customlogger "github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
	"github.com/scannsing/scannsing/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "scannsing.sqlite3"
const errDBClientNil = "db client is nil"

var ErrTrackNotFound = errors.New("track not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type Track struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Name      string `gorm:"index:idx_track_name" json:"name"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Lines     []LyricLine `gorm:"foreignKey:TrackID"`
}

type LyricLine struct {
	ID        string  `gorm:"primaryKey;type:varchar(36)"`
	TrackID   string  `gorm:"type:varchar(36);index:idx_line_track,priority:1" json:"track_id"`
	Position  int     `gorm:"index:idx_line_track,priority:2" json:"position"`
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("SCANNSING_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if err := utils.EnsureParentDir(dbPath); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.New(customlogger.GetLogger().Named("gorm"), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=foreign_keys(1)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Track{}, &LyricLine{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *DBClient) ready() error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return nil
}

// CreateTrack stores a track and its lines in the given order.
func (c *DBClient) CreateTrack(name string, lines []models.LyricLine) (*models.Track, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	track := Track{ID: utils.GenerateUUID(), Name: name}
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Lines").Create(&track).Error; err != nil {
			return fmt.Errorf("creating track: %w", err)
		}
		rows := lineRows(track.ID, lines)
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return fmt.Errorf("inserting lines: %w", err)
			}
		}
		track.Lines = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toModel(&track), nil
}

func (c *DBClient) GetTrack(id string) (*models.Track, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var track Track
	err := c.DB.Preload("Lines", orderedLines).Where("id = ?", id).First(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying track: %w", err)
	}
	return toModel(&track), nil
}

// ListTracks returns every track, oldest first.
func (c *DBClient) ListTracks() ([]models.Track, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var rows []Track
	if err := c.DB.Preload("Lines", orderedLines).Order("created_at ASC, name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing tracks: %w", err)
	}
	out := make([]models.Track, 0, len(rows))
	for i := range rows {
		out = append(out, *toModel(&rows[i]))
	}
	return out, nil
}

// UpdateTrack renames a track and replaces all of its lines.
func (c *DBClient) UpdateTrack(id, name string, lines []models.LyricLine) (*models.Track, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	err := c.DB.Transaction(func(tx *gorm.DB) error {
		var track Track
		if err := tx.Where("id = ?", id).First(&track).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTrackNotFound
			}
			return fmt.Errorf("querying track: %w", err)
		}
		if err := tx.Model(&track).Update("name", name).Error; err != nil {
			return fmt.Errorf("renaming track: %w", err)
		}
		if err := tx.Where("track_id = ?", id).Delete(&LyricLine{}).Error; err != nil {
			return fmt.Errorf("clearing lines: %w", err)
		}
		rows := lineRows(id, lines)
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return fmt.Errorf("inserting lines: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.GetTrack(id)
}

func (c *DBClient) DeleteTrack(id string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", id).Delete(&LyricLine{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Track{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTrackNotFound
		}
		return nil
	})
}

// FindTrackByName returns the track whose name contains title, ignoring
// case. The shortest such name wins.
func (c *DBClient) FindTrackByName(title string) (*models.Track, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTrackNotFound
	}

	pattern := "%" + escapeLike(strings.ToLower(title)) + "%"
	var track Track
	err := c.DB.Preload("Lines", orderedLines).
		Where(`LOWER(name) LIKE ? ESCAPE '\'`, pattern).
		Order("LENGTH(name) ASC, created_at ASC").
		First(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("searching tracks: %w", err)
	}
	return toModel(&track), nil
}

func (c *DBClient) CountLines(trackID string) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var n int64
	if err := c.DB.Model(&LyricLine{}).Where("track_id = ?", trackID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting lines: %w", err)
	}
	return n, nil
}

func orderedLines(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func lineRows(trackID string, lines []models.LyricLine) []LyricLine {
	rows := make([]LyricLine, 0, len(lines))
	for i, l := range lines {
		id := l.ID
		if id == "" {
			id = utils.GenerateUUID()
		}
		rows = append(rows, LyricLine{
			ID:        id,
			TrackID:   trackID,
			Position:  i,
			Timestamp: l.Timestamp,
			Text:      l.Text,
		})
	}
	return rows
}

func toModel(t *Track) *models.Track {
	out := &models.Track{
		ID:        t.ID,
		Name:      t.Name,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if len(t.Lines) > 0 {
		out.Lines = make([]models.LyricLine, 0, len(t.Lines))
		for _, l := range t.Lines {
			out.Lines = append(out.Lines, models.LyricLine{ID: l.ID, Timestamp: l.Timestamp, Text: l.Text})
		}
	}
	return out
}
