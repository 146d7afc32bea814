// Package storage persists tenant configuration and notification state.
//
// Drivers:
//   - file: two JSON documents (server_config.json, notification_state.json)
//     written with write-temp-then-rename so a failed write keeps the old file
//   - bolt: a single bbolt database
//   - sqlite: a single SQLite database (modernc, pure Go)
package storage
