package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

const (
	TenantsFile = "server_config.json"
	StatesFile  = "notification_state.json"
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): Dir holds the two JSON documents
//   - "bolt": Path is the bbolt database file
//   - "sqlite": Path is the SQLite database file
type Config struct {
	Driver      string
	Dir         string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
