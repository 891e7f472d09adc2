package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/logging"
)

// Execer runs a statement. Both *sql.DB and *sql.Tx satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Editor issues DDL against user tables. All statements run on the caller's
// transaction so they commit or roll back with the catalog change.
type Editor struct {
	log *logrus.Entry
}

// NewEditor creates a schema editor.
func NewEditor() *Editor {
	return &Editor{log: logging.For("schema")}
}

// CreateTable creates the relation of a user table with its system columns.
func (e *Editor) CreateTable(ctx context.Context, q Execer, tableID int64) error {
	stmt := fmt.Sprintf(`CREATE TABLE %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    "order" REAL NOT NULL DEFAULT 1,
    created_on TEXT NOT NULL,
    updated_on TEXT NOT NULL,
    trashed INTEGER NOT NULL DEFAULT 0
)`, Quote(TableName(tableID)))
	if err := e.exec(ctx, q, stmt); err != nil {
		return err
	}
	return e.exec(ctx, q, fmt.Sprintf(`CREATE INDEX %s ON %s("order", id)`,
		Quote(TableName(tableID)+"_order"), Quote(TableName(tableID))))
}

// DropTable drops the relation of a user table.
func (e *Editor) DropTable(ctx context.Context, q Execer, tableID int64) error {
	return e.exec(ctx, q, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, Quote(TableName(tableID))))
}

// AddColumn adds a column of the given SQL type. A non-nil def becomes the
// column default.
func (e *Editor) AddColumn(ctx context.Context, q Execer, tableID int64, column, sqlType string, def any) error {
	if err := checkColumn(column, sqlType); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, Quote(TableName(tableID)), Quote(column))
	if sqlType != "" {
		stmt += " " + sqlType
	}
	if lit, ok := literal(def); ok {
		stmt += " DEFAULT " + lit
	}
	return e.exec(ctx, q, stmt)
}

// DropColumn removes a column.
func (e *Editor) DropColumn(ctx context.Context, q Execer, tableID int64, column string) error {
	if err := checkColumn(column, ""); err != nil {
		return err
	}
	return e.exec(ctx, q, fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`,
		Quote(TableName(tableID)), Quote(column)))
}

// RenameColumn renames a column.
func (e *Editor) RenameColumn(ctx context.Context, q Execer, tableID int64, from, to string) error {
	if err := checkColumn(from, ""); err != nil {
		return err
	}
	if err := checkColumn(to, ""); err != nil {
		return err
	}
	return e.exec(ctx, q, fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`,
		Quote(TableName(tableID)), Quote(from), Quote(to)))
}

// CreateRelation creates the junction table of a link row relation.
func (e *Editor) CreateRelation(ctx context.Context, q Execer, relationID int64) error {
	name := RelationName(relationID)
	stmt := fmt.Sprintf(`CREATE TABLE %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    row_id INTEGER NOT NULL,
    linked_row_id INTEGER NOT NULL,
    UNIQUE (row_id, linked_row_id)
)`, Quote(name))
	if err := e.exec(ctx, q, stmt); err != nil {
		return err
	}
	return e.exec(ctx, q, fmt.Sprintf(`CREATE INDEX %s ON %s(linked_row_id)`,
		Quote(name+"_linked"), Quote(name)))
}

// DropRelation drops the junction table of a link row relation.
func (e *Editor) DropRelation(ctx context.Context, q Execer, relationID int64) error {
	return e.exec(ctx, q, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, Quote(RelationName(relationID))))
}

func (e *Editor) exec(ctx context.Context, q Execer, stmt string) error {
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return errors.NewStorageError(errors.CodeSchemaFailed, "schema change failed", err)
	}
	e.log.WithField("statement", stmt).Debug("applied schema change")
	return nil
}

func checkColumn(column, sqlType string) error {
	if !ValidateColumnName(column) {
		return errors.NewValidationError(errors.CodeInvalidName, column,
			fmt.Sprintf("invalid column name %q", column))
	}
	switch sqlType {
	case "", "TEXT", "INTEGER", "REAL":
		return nil
	default:
		return errors.NewValidationError(errors.CodeInvalidName, column,
			fmt.Sprintf("unsupported column type %q", sqlType))
	}
}

// literal renders a column default. Only scalars are supported.
func literal(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case bool:
		if x {
			return "1", true
		}
		return "0", true
	case int64:
		return fmt.Sprintf("%d", x), true
	case int:
		return fmt.Sprintf("%d", x), true
	case float64:
		return fmt.Sprintf("%v", x), true
	case string:
		return "'" + escapeString(x) + "'", true
	default:
		return "", false
	}
}

func escapeString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(out)
}
