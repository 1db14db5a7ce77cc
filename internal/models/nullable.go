package models

import (
	"database/sql"
	"encoding/json"
)

// NullString - необязательная строка: в БД это NULL, в JSON - null.
type NullString struct {
	sql.NullString
}

// NewNullString: пустая строка хранится как NULL.
func NewNullString(s string) NullString {
	return NullString{sql.NullString{String: s, Valid: s != ""}}
}

func (ns NullString) MarshalJSON() ([]byte, error) {
	if !ns.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(ns.String)
}
