//go:build !js && !wasm
// +build !js,!wasm

package earprint

import (
	"github.com/himanishpuri/EarPrint/pkg/earprint/storage"
)

var _ Storage = (*storage.DBClient)(nil)

// NewSQLiteStorage opens (creating if needed) a SQLite fingerprint index.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}
