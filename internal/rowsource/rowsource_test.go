package rowsource

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
)

func TestSliceSource(t *testing.T) {
	src := &SliceSource{
		Cols: []Column{{Name: "A", Kind: schema.KindString}},
		Records: []Record{
			{"A": "one"},
			{"A": "two"},
		},
	}
	it, cols, err := src.Open(context.Background())
	require.NoError(t, err)
	assert.Len(t, cols, 1)

	var got []string
	for it.Next() {
		got = append(got, it.Value()["A"].(string))
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	assert.Equal(t, []string{"one", "two"}, got)

	// Re-open restarts from the beginning.
	it2, _, err := src.Open(context.Background())
	require.NoError(t, err)
	require.True(t, it2.Next())
	assert.Equal(t, "one", it2.Value()["A"])
}

func TestSliceSourceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := (&SliceSource{}).Open(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

const mockXSD = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="WCOData">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="Entities">
          <xs:complexType>
            <xs:sequence>
              <xs:element name="Entity" minOccurs="0" maxOccurs="unbounded">
                <xs:complexType>
                  <xs:sequence>
                    <xs:element name="EntityGUID" type="xs:string" minOccurs="1" maxOccurs="1"/>
                    <xs:element name="Score" type="xs:int" minOccurs="1" maxOccurs="1"/>
                    <xs:element name="Active" type="xs:boolean" minOccurs="1" maxOccurs="1"/>
                    <xs:element name="Note" type="xs:string" minOccurs="0" maxOccurs="1"/>
                  </xs:sequence>
                  <xs:attribute name="GUID" type="xs:string" use="required"/>
                  <xs:attribute name="Origin" type="xs:string"/>
                </xs:complexType>
              </xs:element>
            </xs:sequence>
          </xs:complexType>
        </xs:element>
      </xs:sequence>
    </xs:complexType>
  </xs:element>
</xs:schema>`

func TestMockSource(t *testing.T) {
	model, err := schema.Load(strings.NewReader(mockXSD))
	require.NoError(t, err)

	src := &MockSource{Model: model, Count: 3}
	it, cols, err := src.Open(context.Background())
	require.NoError(t, err)

	// Only required scalar leaves and required attributes get columns.
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"EntityGUID", "Score", "Active", "@GUID"}, names)

	var records []Record
	for it.Next() {
		records = append(records, it.Value())
	}
	require.NoError(t, it.Err())
	require.Len(t, records, 3)

	guid := records[0]["EntityGUID"].(string)
	assert.Equal(t, strings.ToUpper(guid), guid)
	assert.Len(t, guid, 36)
	attrGUID := records[0]["@GUID"].(string)
	assert.Equal(t, strings.ToUpper(attrGUID), attrGUID)
	assert.Len(t, attrGUID, 36)
	assert.Equal(t, int64(2), records[1]["Score"])
	assert.Equal(t, true, records[0]["Active"])
	assert.Equal(t, false, records[1]["Active"])
}

func TestMockSourceDefaultsToOneRecord(t *testing.T) {
	model, err := schema.Load(strings.NewReader(mockXSD))
	require.NoError(t, err)

	it, _, err := (&MockSource{Model: model}).Open(context.Background())
	require.NoError(t, err)
	require.True(t, it.Next())
	assert.False(t, it.Next())
}

func TestEnumerateParquet(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.parquet", "a.parquet", "ignore.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.parquet"), 0o755))

	files, err := enumerateParquet([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.parquet"),
		filepath.Join(dir, "b.parquet"),
	}, files)

	// Explicit files pass through regardless of extension.
	files, err = enumerateParquet([]string{filepath.Join(dir, "ignore.csv")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "ignore.csv")}, files)

	_, err = enumerateParquet([]string{filepath.Join(dir, "missing")})
	require.Error(t, err)
}

func TestSameColumns(t *testing.T) {
	a := []Column{{Name: "A", Kind: schema.KindString}, {Name: "B", Kind: schema.KindInteger}}
	b := []Column{{Name: "A", Kind: schema.KindString}, {Name: "B", Kind: schema.KindInteger}}
	assert.True(t, sameColumns(a, b))

	b[1].Kind = schema.KindFloat
	assert.False(t, sameColumns(a, b))
	assert.False(t, sameColumns(a, a[:1]))
}

func TestStructToRecord(t *testing.T) {
	type row struct {
		Entity_guid *string
		Score       int64
		Weight      *float64
		Active      bool
	}
	guid := "G1"
	names := map[string]string{"Entity_guid": "entity_guid"}

	rec := structToRecord(&row{Entity_guid: &guid, Score: 7, Active: true}, names)
	assert.Equal(t, "G1", rec["entity_guid"])
	assert.Equal(t, int64(7), rec["Score"])
	assert.Equal(t, true, rec["Active"])
	assert.Nil(t, rec["Weight"])
	_, present := rec["Weight"]
	assert.True(t, present, "nil optionals stay present as explicit nulls")
}

func TestPgKind(t *testing.T) {
	cases := []struct {
		oid  uint32
		kind schema.Kind
	}{
		{pgtype.TextOID, schema.KindString},
		{pgtype.UUIDOID, schema.KindString},
		{pgtype.Int8OID, schema.KindInteger},
		{pgtype.Float8OID, schema.KindFloat},
		{pgtype.NumericOID, schema.KindFloat},
		{pgtype.BoolOID, schema.KindBoolean},
	}
	for _, tc := range cases {
		kind, err := pgKind(tc.oid)
		require.NoError(t, err)
		assert.Equal(t, tc.kind, kind)
	}

	_, err := pgKind(pgtype.ByteaOID)
	require.Error(t, err)
}

func TestPostgresSourceRejectsBadIdentifiers(t *testing.T) {
	src := &PostgresSource{ConnString: "postgres://localhost/x", Table: "entities; drop table x"}
	_, _, err := src.Open(context.Background())
	assert.ErrorContains(t, err, "invalid table name")

	src = &PostgresSource{ConnString: "postgres://localhost/x", Table: "entities", OrderBy: "id--"}
	_, _, err = src.Open(context.Background())
	assert.ErrorContains(t, err, "invalid order column")
}

func TestNormalizePg(t *testing.T) {
	assert.Nil(t, normalizePg(nil))
	assert.Equal(t, int64(5), normalizePg(int16(5)))
	assert.Equal(t, int64(5), normalizePg(int32(5)))
	assert.Equal(t, float64(1.5), normalizePg(float32(1.5)))
	assert.Equal(t, "x", normalizePg("x"))

	u := [16]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	assert.Equal(t, "12345678-9abc-def0-1234-56789abcdef0", normalizePg(u))
}
