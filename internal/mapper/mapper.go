// Package mapper turns flat records into schema-shaped element trees.
//
// Column naming convention: a scalar leaf matches the column with the same
// name as its element; nested structure uses dotted paths (Parent.Child);
// repeated complex elements use numbered segments (Address.1.City,
// Address.2.City); attributes use an @ suffix on the owning element's path
// (Segment@Type, or @GUID on the record element itself). Repeated scalar
// elements take their occurrences from a single value split on the
// configured list separator. Matching is exact, never fuzzy.
package mapper

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/rowsource"
	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
)

// MismatchError reports a record that cannot be mapped onto the schema.
type MismatchError struct {
	Field       string
	RecordIndex int64
	Reason      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("record %d: field %q: %s", e.RecordIndex, e.Field, e.Reason)
}

// Mapper maps records against one schema model. Strictness is an explicit
// choice: strict fails on record columns with no matching element, lenient
// drops them.
type Mapper struct {
	Strict        bool
	ListSeparator string
}

func (m *Mapper) sep() string {
	if m.ListSeparator == "" {
		return "|"
	}
	return m.ListSeparator
}

// Map produces the element subtree for one record. def is the record
// element definition; index identifies the record in error reports.
func (m *Mapper) Map(rec rowsource.Record, def *schema.ElementDef, index int64) (*etree.Element, error) {
	el := etree.NewElement(def.Name)
	consumed := map[string]bool{}
	if def.Content == schema.ContentScalar {
		// Scalar record element: the record's single value becomes the
		// element text instead of child elements.
		v, ok := rec[def.Name]
		if !ok || v == nil {
			if def.MinOccurs >= 1 {
				return nil, &MismatchError{Field: def.Name, RecordIndex: index, Reason: "required element has no value"}
			}
		} else {
			el.SetText(formatScalar(v))
			consumed[def.Name] = true
		}
	} else if err := m.fill(el, def, "", rec, consumed, index); err != nil {
		return nil, err
	}
	if m.Strict {
		if extra := firstUnconsumed(rec, consumed); extra != "" {
			return nil, &MismatchError{
				Field:       extra,
				RecordIndex: index,
				Reason:      "column has no matching schema element",
			}
		}
	}
	return el, nil
}

func (m *Mapper) fill(el *etree.Element, def *schema.ElementDef, prefix string, rec rowsource.Record, consumed map[string]bool, index int64) error {
	for _, a := range def.Attributes {
		key := prefix + "@" + a.Name
		v, ok := rec[key]
		if ok && v != nil {
			el.CreateAttr(a.Name, formatScalar(v))
			consumed[key] = true
			continue
		}
		if a.Required {
			return &MismatchError{Field: key, RecordIndex: index, Reason: "required attribute has no value"}
		}
	}

	for _, child := range def.Children {
		key := child.Name
		if prefix != "" {
			key = prefix + "." + child.Name
		}
		var err error
		switch child.Content {
		case schema.ContentScalar:
			err = m.fillScalar(el, child, key, rec, consumed, index)
		case schema.ContentComplex:
			err = m.fillComplex(el, child, child, key, rec, consumed, index)
		case schema.ContentRef:
			// Bounded reference: recurse into the referenced definition
			// only when the record actually carries data under this path.
			if hasDataUnder(rec, key) {
				err = m.fillComplex(el, child, child.Ref, key, rec, consumed, index)
			} else if child.MinOccurs >= 1 {
				el.CreateElement(child.Name)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) fillScalar(el *etree.Element, def *schema.ElementDef, key string, rec rowsource.Record, consumed map[string]bool, index int64) error {
	v, ok := rec[key]
	if !ok || v == nil {
		if def.MinOccurs >= 1 {
			return &MismatchError{Field: key, RecordIndex: index, Reason: "required element has no value"}
		}
		return nil
	}
	consumed[key] = true

	if def.Repeats() {
		parts := []string{formatScalar(v)}
		if s, isStr := v.(string); isStr && strings.Contains(s, m.sep()) {
			parts = strings.Split(s, m.sep())
		}
		used := len(parts)
		if def.MaxOccurs != schema.Unbounded && used > def.MaxOccurs {
			used = def.MaxOccurs
		}
		for i := 0; i < used; i++ {
			el.CreateElement(def.Name).SetText(parts[i])
		}
		// Fewer occurrences than required: pad with empty elements, the
		// generator's long-standing behavior for short lists.
		for i := used; i < def.MinOccurs; i++ {
			el.CreateElement(def.Name)
		}
		return nil
	}

	el.CreateElement(def.Name).SetText(formatScalar(v))
	return nil
}

// fillComplex emits a complex child. target differs from def only for Ref
// markers, where it is the referenced definition.
func (m *Mapper) fillComplex(el *etree.Element, def, target *schema.ElementDef, key string, rec rowsource.Record, consumed map[string]bool, index int64) error {
	if def.Repeats() {
		if indices := indexedGroups(rec, key); len(indices) > 0 {
			used := len(indices)
			if def.MaxOccurs != schema.Unbounded && used > def.MaxOccurs {
				used = def.MaxOccurs
			}
			for _, n := range indices[:used] {
				sub := el.CreateElement(def.Name)
				subKey := key + "." + strconv.Itoa(n)
				if err := m.fill(sub, target, subKey, rec, consumed, index); err != nil {
					return err
				}
			}
			return nil
		}
	}

	if hasDataUnder(rec, key) {
		sub := el.CreateElement(def.Name)
		return m.fill(sub, target, key, rec, consumed, index)
	}

	// No columns address this subtree.
	if def.MinOccurs < 1 {
		return nil
	}
	if target.Container() != nil {
		// Required wrapper with no rows: emit it empty.
		el.CreateElement(def.Name)
		return nil
	}
	sub := el.CreateElement(def.Name)
	return m.fill(sub, target, key, rec, consumed, index)
}

// hasDataUnder reports whether any column addresses the subtree at path:
// a nested column (path.x) or an attribute (path@x).
func hasDataUnder(rec rowsource.Record, path string) bool {
	dotted := path + "."
	attr := path + "@"
	for key, v := range rec {
		if v == nil {
			continue
		}
		if strings.HasPrefix(key, dotted) || strings.HasPrefix(key, attr) {
			return true
		}
	}
	return false
}

// indexedGroups finds the numeric occurrence segments under base, e.g.
// base.1.city and base.2.city yield [1 2].
func indexedGroups(rec rowsource.Record, base string) []int {
	prefix := base + "."
	seen := map[int]bool{}
	for key := range rec {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		seg := rest
		if idx := strings.IndexByte(rest, '.'); idx >= 0 {
			seg = rest[:idx]
		}
		n, err := strconv.Atoi(seg)
		if err != nil || n < 0 {
			continue
		}
		seen[n] = true
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func firstUnconsumed(rec rowsource.Record, consumed map[string]bool) string {
	var extras []string
	for key, v := range rec {
		if v == nil || consumed[key] {
			continue
		}
		extras = append(extras, key)
	}
	if len(extras) == 0 {
		return ""
	}
	sort.Strings(extras)
	return extras[0]
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", t)
	}
}
