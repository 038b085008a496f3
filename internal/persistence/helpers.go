package persistence

import "database/sql"

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func stringOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}

	return ""
}
