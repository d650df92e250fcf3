package database

import (
	"fmt"
	"io"
)

// KV is the durable key/value contract shared by every storage driver.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	io.Closer
}

// Open returns the KV store for the configured driver.
func Open(driver, path string) (KV, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(path)
	case "bolt":
		return NewBolt(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
