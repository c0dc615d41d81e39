package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// DatabaseList is the ordered set of database names a job targets. It is
// stored as a JSON array; rows written by older tooling hold a bare string.
type DatabaseList []string

// ParseDatabaseList decodes a stored database list. A JSON array is taken as
// is; anything else is treated as a single database name.
func ParseDatabaseList(raw string) DatabaseList {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DatabaseList{}
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		if list == nil {
			return DatabaseList{}
		}
		return DatabaseList(list)
	}

	var single string
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		return DatabaseList{single}
	}

	return DatabaseList{raw}
}

// Value implements driver.Valuer.
func (l DatabaseList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("marshal database list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *DatabaseList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = DatabaseList{}
	case []byte:
		*l = ParseDatabaseList(string(v))
	case string:
		*l = ParseDatabaseList(v)
	default:
		return fmt.Errorf("scan database list: unsupported type %T", src)
	}
	return nil
}

// MarshalJSON always emits an array, never null.
func (l DatabaseList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// String joins the names with commas.
func (l DatabaseList) String() string {
	return strings.Join(l, ",")
}
