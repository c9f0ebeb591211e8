package rowsource

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// PostgresSource streams one warehouse table as the logical dataset, for
// deployments that feed the generator straight from the staging database
// instead of exported parquet.
type PostgresSource struct {
	ConnString string
	Table      string
	// OrderBy keeps row order stable across re-opens. Optional.
	OrderBy string
}

func (s *PostgresSource) Open(ctx context.Context) (Iterator, []Column, error) {
	if !identPattern.MatchString(s.Table) {
		return nil, nil, fmt.Errorf("invalid table name %q", s.Table)
	}
	if s.OrderBy != "" && !identPattern.MatchString(s.OrderBy) {
		return nil, nil, fmt.Errorf("invalid order column %q", s.OrderBy)
	}

	conn, err := pgx.Connect(ctx, s.ConnString)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	query := fmt.Sprintf(`SELECT * FROM %s`, s.Table)
	if s.OrderBy != "" {
		query += fmt.Sprintf(` ORDER BY %s`, s.OrderBy)
	}
	rows, err := conn.Query(ctx, query)
	if err != nil {
		conn.Close(ctx)
		return nil, nil, fmt.Errorf("query %s: %w", s.Table, err)
	}

	var cols []Column
	for _, fd := range rows.FieldDescriptions() {
		kind, err := pgKind(fd.DataTypeOID)
		if err != nil {
			rows.Close()
			conn.Close(ctx)
			return nil, nil, &UnsupportedColumnTypeError{Column: fd.Name, Type: fmt.Sprintf("oid %d", fd.DataTypeOID)}
		}
		cols = append(cols, Column{Name: fd.Name, Kind: kind})
	}

	return &pgIterator{ctx: ctx, conn: conn, rows: rows, cols: cols}, cols, nil
}

func pgKind(oid uint32) (schema.Kind, error) {
	switch oid {
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID,
		pgtype.UUIDOID, pgtype.DateOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		return schema.KindString, nil
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return schema.KindInteger, nil
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return schema.KindFloat, nil
	case pgtype.BoolOID:
		return schema.KindBoolean, nil
	}
	return 0, fmt.Errorf("unsupported oid %d", oid)
}

type pgIterator struct {
	ctx  context.Context
	conn *pgx.Conn
	rows pgx.Rows
	cols []Column
	cur  Record
	err  error
}

func (it *pgIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	vals, err := it.rows.Values()
	if err != nil {
		it.err = err
		return false
	}
	rec := make(Record, len(it.cols))
	for i, col := range it.cols {
		rec[col.Name] = normalizePg(vals[i])
	}
	it.cur = rec
	return true
}

func (it *pgIterator) Value() Record { return it.cur }
func (it *pgIterator) Err() error    { return it.err }

func (it *pgIterator) Close() error {
	it.rows.Close()
	return it.conn.Close(it.ctx)
}

func normalizePg(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, int64, float64:
		return t
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case [16]byte: // uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	default:
		return fmt.Sprintf("%v", t)
	}
}
