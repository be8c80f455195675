package scannsing

import (
	"github.com/scannsing/scannsing/internal/storage"
)

// ErrTrackNotFound is returned when no stored track matches a lookup.
var ErrTrackNotFound = storage.ErrTrackNotFound

// NewSQLiteStorage opens the SQLite track store at dbPath.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}
