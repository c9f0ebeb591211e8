package rowsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
)

// MockSource fabricates records shaped by the schema model so a smoke run
// needs no reachable input. Every required scalar leaf gets a value, so
// the generated document validates.
type MockSource struct {
	Model *schema.Model
	Count int
}

func (s *MockSource) Open(ctx context.Context) (Iterator, []Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	count := s.Count
	if count <= 0 {
		count = 1
	}
	recDef, _ := s.Model.RecordDef()

	var cols []Column
	collectMockColumns(recDef, "", &cols)

	records := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		rec := make(Record, len(cols))
		for _, col := range cols {
			rec[col.Name] = mockValue(col, i)
		}
		records = append(records, rec)
	}
	return &sliceIterator{records: records}, cols, nil
}

// collectMockColumns walks required scalar leaves and required
// attributes, building the dotted and @-suffixed column names the mapper
// convention expects. Ref markers end the walk.
func collectMockColumns(def *schema.ElementDef, prefix string, cols *[]Column) {
	for _, a := range def.Attributes {
		if !a.Required {
			continue
		}
		*cols = append(*cols, Column{Name: prefix + "@" + a.Name, Kind: a.Kind})
	}
	for _, c := range def.Children {
		key := c.Name
		if prefix != "" {
			key = prefix + "." + c.Name
		}
		switch c.Content {
		case schema.ContentScalar:
			if c.MinOccurs >= 1 {
				*cols = append(*cols, Column{Name: key, Kind: c.Scalar})
			}
		case schema.ContentComplex:
			collectMockColumns(c, key, cols)
		}
	}
}

func mockValue(col Column, i int) any {
	switch col.Kind {
	case schema.KindInteger:
		return int64(i + 1)
	case schema.KindFloat:
		return float64(i) + 0.5
	case schema.KindBoolean:
		return i%2 == 0
	}
	leaf := col.Name
	if idx := strings.LastIndexAny(leaf, ".@"); idx >= 0 {
		leaf = leaf[idx+1:]
	}
	if strings.Contains(strings.ToLower(leaf), "guid") {
		return strings.ToUpper(uuid.NewString())
	}
	return fmt.Sprintf("%s-%d", leaf, i+1)
}
