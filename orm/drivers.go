package orm

import (
	"github.com/iancoleman/strcase"

	// database/sql drivers for the supported dialects
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// joinColumn maps a join table key to its column name
func joinColumn(key string) string {
	return strcase.ToSnake(key)
}
