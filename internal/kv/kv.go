// Package kv is the device key-value persistence substrate. Values are opaque strings
// (JSON in practice) stored under fixed, component-owned namespace keys.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrQuotaExceeded = errors.New("kv: quota exceeded")
	ErrClosed        = errors.New("kv: store closed")
)

// Store is a string-keyed blob store. Implementations must be safe for concurrent use;
// they give no ordering guarantees across processes beyond last write wins.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// StorageError describes a failed read, write or parse against one namespace.
type StorageError struct {
	Namespace string
	Op        string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("kv: %s %s: %v", e.Op, e.Namespace, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// LoadJSON decodes the value stored under key into dst. ok is false when the key is absent.
func LoadJSON(s Store, key string, dst any) (ok bool, err error) {
	raw, ok, err := s.Get(key)
	if err != nil {
		return false, &StorageError{Namespace: key, Op: "read", Err: err}
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, &StorageError{Namespace: key, Op: "parse", Err: err}
	}
	return true, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &StorageError{Namespace: key, Op: "encode", Err: err}
	}
	if err := s.Set(key, string(data)); err != nil {
		return &StorageError{Namespace: key, Op: "write", Err: err}
	}
	return nil
}
