package dispatch

import (
	"fmt"
	"slices"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/pingcap/errors"

	"github.com/mehmetymw/binlogha/internal/types"
	"github.com/mehmetymw/binlogha/internal/util"
)

func changeKind(t replication.EventType) (types.ChangeKind, bool) {
	switch t {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2,
		replication.MARIADB_WRITE_ROWS_COMPRESSED_EVENT_V1:
		return types.ChangeInsert, true
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2,
		replication.PARTIAL_UPDATE_ROWS_EVENT, replication.MARIADB_UPDATE_ROWS_COMPRESSED_EVENT_V1:
		return types.ChangeUpdate, true
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2,
		replication.MARIADB_DELETE_ROWS_COMPRESSED_EVENT_V1:
		return types.ChangeDelete, true
	default:
		return "", false
	}
}

// rowImage is one row as logged. Skipped holds the ordinals left out of a
// MINIMAL or NOBLOB image; their values decode to nil but carry no data.
type rowImage struct {
	Values  []interface{}
	Skipped []int
}

// afterImages returns the newest image of every row. Update events carry
// before/after pairs; only the after half is kept.
func afterImages(kind types.ChangeKind, payload replication.Event) ([]rowImage, error) {
	re, ok := payload.(*replication.RowsEvent)
	if !ok {
		return nil, errors.Errorf("row event without rows payload: %s", fmt.Sprintf("%T", payload))
	}
	start, step := 0, 1
	if kind == types.ChangeUpdate {
		start, step = 1, 2
	}
	images := make([]rowImage, 0, len(re.Rows)/step)
	for i := start; i < len(re.Rows); i += step {
		img := rowImage{Values: re.Rows[i]}
		if i < len(re.SkippedColumns) {
			img.Skipped = re.SkippedColumns[i]
		}
		images = append(images, img)
	}
	return images, nil
}

// project maps every row onto the table's columns of interest and merges them
// into one map; later rows overwrite earlier ones. Columns a row image skipped
// keep the value of earlier rows.
func project(table *types.TableSchema, rows []rowImage) map[string]string {
	out := make(map[string]string)
	for _, row := range rows {
		for ix, v := range row.Values {
			col, ok := table.Columns[ix]
			if !ok || slices.Contains(row.Skipped, ix) {
				continue
			}
			out[col] = util.ToText(v)
		}
	}
	return out
}
