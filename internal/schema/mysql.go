package schema

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/mehmetymw/binlogha/internal/config"
	"github.com/mehmetymw/binlogha/internal/types"
)

const columnsQuery = "SELECT COLUMN_NAME, ORDINAL_POSITION FROM information_schema.COLUMNS " +
	"WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Annotate(err, "open schema database")
	}
	db.SetConnMaxLifetime(time.Minute)
	db.SetMaxOpenConns(2)
	return db, nil
}

// Load builds a registry from configured tables. Tables listing ordinals are
// used as is; tables listing column names are resolved through
// information_schema, so db may be nil only if every table lists ordinals.
func Load(ctx context.Context, db *sql.DB, tables []config.Table, logger *zap.Logger) (*Static, error) {
	reg := NewStatic()
	for _, t := range tables {
		if len(t.Ordinals) > 0 {
			cols := make(map[int]string, len(t.Ordinals))
			for k, v := range t.Ordinals {
				cols[k] = v
			}
			reg.Put(&types.TableSchema{Name: t.Name, Columns: cols})
			logger.Debug("Added table schema from config",
				zap.String("table", t.Name),
				zap.Any("columns", cols))
			continue
		}
		if db == nil {
			return nil, errors.Errorf("table %s needs a schema database to resolve columns", t.Name)
		}
		ts, err := resolve(ctx, db, t)
		if err != nil {
			return nil, err
		}
		reg.Put(ts)
		logger.Info("Resolved table schema from information_schema",
			zap.String("database", t.Database),
			zap.String("table", t.Name),
			zap.Any("columns", ts.Columns))
	}
	return reg, nil
}

func resolve(ctx context.Context, db *sql.DB, t config.Table) (*types.TableSchema, error) {
	rows, err := db.QueryContext(ctx, columnsQuery, t.Database, t.Name)
	if err != nil {
		return nil, errors.Annotatef(err, "query columns of %s.%s", t.Database, t.Name)
	}
	defer rows.Close()

	ordinals := make(map[string]int)
	for rows.Next() {
		var (
			name string
			pos  int
		)
		if err := rows.Scan(&name, &pos); err != nil {
			return nil, errors.Trace(err)
		}
		// information_schema counts from 1, binlog rows from 0
		ordinals[name] = pos - 1
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	cols := make(map[int]string, len(t.Columns))
	for _, c := range t.Columns {
		pos, ok := ordinals[c]
		if !ok {
			return nil, errors.Errorf("column %s not found in %s.%s", c, t.Database, t.Name)
		}
		cols[pos] = c
	}
	return &types.TableSchema{Name: t.Name, Columns: cols}, nil
}
