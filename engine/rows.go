package engine

import "fmt"

// RowsFromCache normalizes a cached value back into rows. In-process caches
// return the stored []Row unchanged; remote caches return the generic shapes
// their codec decodes to. ok is false when value cannot represent rows.
func RowsFromCache(value any) (rows []Row, ok bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case []Row:
		return v, true
	case []any:
		rows = make([]Row, 0, len(v))
		for _, item := range v {
			row, ok := rowFromCache(item)
			if !ok {
				return nil, false
			}
			rows = append(rows, row)
		}
		return rows, true
	default:
		return nil, false
	}
}

func rowFromCache(item any) (Row, bool) {
	switch v := item.(type) {
	case Row:
		return v, true
	case map[any]any:
		row := make(Row, len(v))
		for k, val := range v {
			row[fmt.Sprint(k)] = val
		}
		return row, true
	case nil:
		return Row{}, true
	default:
		return nil, false
	}
}

// CloneRows copies rows so the copy can be handed out or stored without
// sharing maps or byte slices with the original.
func CloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = cloneRow(row)
	}
	return out
}

func cloneRow(row Row) Row {
	if row == nil {
		return nil
	}
	out := make(Row, len(row))
	for k, v := range row {
		if b, ok := v.([]byte); ok && b != nil {
			v = append([]byte(nil), b...)
		}
		out[k] = v
	}
	return out
}
