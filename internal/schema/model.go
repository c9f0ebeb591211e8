// Package schema loads an XSD document into an immutable structural model.
//
// The model is built once at startup and shared read-only by the mapper,
// assembler and validator for the lifetime of a run.
package schema

// Unbounded marks an element with maxOccurs="unbounded".
const Unbounded = -1

// Kind is the scalar value kind of an element or attribute.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindFloat
	KindBoolean
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// ContentKind is a closed variant: an element carries scalar text, nested
// children, or a bounded reference back to an already-registered definition.
type ContentKind int

const (
	ContentScalar ContentKind = iota
	ContentComplex
	ContentRef
)

// AttributeDef describes one declared attribute.
type AttributeDef struct {
	Name     string
	Kind     Kind
	Required bool
}

// ElementDef describes one declared element. Children is the declared
// sequence order. For ContentRef, Ref points at the definition the type
// cycle resolves to; walkers stop at the marker instead of recursing.
type ElementDef struct {
	Name       string
	MinOccurs  int
	MaxOccurs  int
	Attributes []AttributeDef
	Content    ContentKind
	Scalar     Kind
	Children   []*ElementDef
	Ref        *ElementDef
}

// Repeats reports whether more than one occurrence is allowed.
func (d *ElementDef) Repeats() bool {
	return d.MaxOccurs == Unbounded || d.MaxOccurs > 1
}

// Child returns the child definition with the given name, or nil.
func (d *ElementDef) Child(name string) *ElementDef {
	for _, c := range d.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Container returns the single repeated child when this definition acts as
// a wrapper (e.g. Entities holding repeated Entity), or nil otherwise. A
// repeated scalar child is data, not a wrapper level, so scalar leaves
// never count as containers.
func (d *ElementDef) Container() *ElementDef {
	if d.Content != ContentComplex || len(d.Children) != 1 {
		return nil
	}
	if c := d.Children[0]; c.Repeats() && c.Content != ContentScalar {
		return c
	}
	return nil
}

// Model is the loaded schema. Root is the single top-level element.
type Model struct {
	Root *ElementDef
}

// RecordDef locates the element that one input record maps to: the first
// repeated element reachable from the root through container wrappers.
// When the schema declares no repeated element the root itself is the
// record element. The returned path holds the wrapper definitions from the
// root down to (excluding) the record element.
func (m *Model) RecordDef() (*ElementDef, []*ElementDef) {
	var path []*ElementDef
	cur := m.Root
	for {
		c := cur.Container()
		if c == nil {
			if len(path) == 0 {
				return m.Root, nil
			}
			return cur, path
		}
		path = append(path, cur)
		if c.Content == ContentRef {
			return c, path
		}
		if c.Container() == nil {
			return c, path
		}
		cur = c
	}
}
