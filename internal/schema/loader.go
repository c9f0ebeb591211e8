package schema

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Raw XSD shapes. Tags match local names so schemas with or without an
// explicit xs: prefix parse the same way.
type xsdSchema struct {
	XMLName         xml.Name          `xml:"schema"`
	Elements        []xsdElement      `xml:"element"`
	ComplexTypes    []xsdComplexType  `xml:"complexType"`
	SimpleTypes     []xsdSimpleType   `xml:"simpleType"`
	Groups          []xsdNamedNode    `xml:"group"`
	AttributeGroups []xsdNamedNode    `xml:"attributeGroup"`
	Redefines       []xsdNamedNode    `xml:"redefine"`
}

type xsdElement struct {
	Name              string          `xml:"name,attr"`
	Type              string          `xml:"type,attr"`
	Ref               string          `xml:"ref,attr"`
	MinOccurs         string          `xml:"minOccurs,attr"`
	MaxOccurs         string          `xml:"maxOccurs,attr"`
	SubstitutionGroup string          `xml:"substitutionGroup,attr"`
	ComplexType       *xsdComplexType `xml:"complexType"`
	SimpleType        *xsdSimpleType  `xml:"simpleType"`
}

type xsdComplexType struct {
	Name          string         `xml:"name,attr"`
	Sequence      *xsdModelGroup `xml:"sequence"`
	All           *xsdModelGroup `xml:"all"`
	Choice        *xsdModelGroup `xml:"choice"`
	SimpleContent *xsdNamedNode  `xml:"simpleContent"`
	Attributes    []xsdAttribute `xml:"attribute"`
}

type xsdModelGroup struct {
	Elements  []xsdElement    `xml:"element"`
	Sequences []xsdModelGroup `xml:"sequence"`
	Choices   []xsdModelGroup `xml:"choice"`
	Alls      []xsdModelGroup `xml:"all"`
	Anys      []xsdNamedNode  `xml:"any"`
	GroupRefs []xsdNamedNode  `xml:"group"`
}

type xsdSimpleType struct {
	Name        string          `xml:"name,attr"`
	Restriction *xsdRestriction `xml:"restriction"`
	Union       *xsdNamedNode   `xml:"union"`
	List        *xsdNamedNode   `xml:"list"`
}

type xsdRestriction struct {
	Base string `xml:"base,attr"`
}

type xsdAttribute struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
	Use  string `xml:"use,attr"`
}

type xsdNamedNode struct {
	Name string `xml:"name,attr"`
	Ref  string `xml:"ref,attr"`
}

// builder resolves named types and top-level element refs while guarding
// against recursive type chains.
type builder struct {
	complexTypes map[string]*xsdComplexType
	simpleTypes  map[string]*xsdSimpleType
	topElements  map[string]*xsdElement

	// First definition built for each named complex type / top-level
	// element. A re-entrant reference becomes a ContentRef marker pointing
	// here instead of unrolling the cycle.
	typeDefs map[string]*ElementDef
	elemDefs map[string]*ElementDef
	building map[string]bool
}

// Load parses an XSD document into a Model. The first top-level element
// declaration is the document root; later top-level declarations are not
// roots but stay resolvable as ref targets, which is how the feed schemas
// factor shared elements.
func Load(r io.Reader) (*Model, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	var raw xsdSchema
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Err: err}
	}
	if len(raw.Groups) > 0 || len(raw.Redefines) > 0 {
		return nil, &UnsupportedFeatureError{Feature: "group/redefine"}
	}
	if len(raw.AttributeGroups) > 0 {
		return nil, &UnsupportedFeatureError{Feature: "attributeGroup"}
	}
	if len(raw.Elements) == 0 {
		return nil, &ParseError{Err: fmt.Errorf("schema declares no top-level element")}
	}

	b := &builder{
		complexTypes: map[string]*xsdComplexType{},
		simpleTypes:  map[string]*xsdSimpleType{},
		topElements:  map[string]*xsdElement{},
		typeDefs:     map[string]*ElementDef{},
		elemDefs:     map[string]*ElementDef{},
		building:     map[string]bool{},
	}
	for i := range raw.ComplexTypes {
		ct := &raw.ComplexTypes[i]
		if ct.Name != "" {
			b.complexTypes[ct.Name] = ct
		}
	}
	for i := range raw.SimpleTypes {
		st := &raw.SimpleTypes[i]
		if st.Name != "" {
			b.simpleTypes[st.Name] = st
		}
	}
	for i := range raw.Elements {
		el := &raw.Elements[i]
		if el.Name != "" {
			b.topElements[el.Name] = el
		}
	}

	root, err := b.buildElement(&raw.Elements[0])
	if err != nil {
		return nil, err
	}
	if err := checkUniqueChildren(root, map[*ElementDef]bool{}); err != nil {
		return nil, err
	}
	return &Model{Root: root}, nil
}

// LoadFile is Load over a local schema path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	defer f.Close()
	return Load(f)
}

func (b *builder) buildElement(raw *xsdElement) (*ElementDef, error) {
	if raw.SubstitutionGroup != "" {
		return nil, &UnsupportedFeatureError{Feature: "substitutionGroup"}
	}

	minOcc, maxOcc, err := parseOccurs(raw.MinOccurs, raw.MaxOccurs)
	if err != nil {
		return nil, err
	}

	// Element reference to a top-level declaration.
	if raw.Name == "" && raw.Ref != "" {
		target, ok := b.topElements[stripPrefix(raw.Ref)]
		if !ok {
			return nil, &ParseError{Err: fmt.Errorf("element ref %q not declared", raw.Ref)}
		}
		if reg := b.elemDefs[target.Name]; reg != nil && b.building["elem:"+target.Name] {
			return &ElementDef{Name: target.Name, MinOccurs: minOcc, MaxOccurs: maxOcc, Content: ContentRef, Ref: reg}, nil
		}
		def, err := b.buildElement(target)
		if err != nil {
			return nil, err
		}
		def.MinOccurs, def.MaxOccurs = minOcc, maxOcc
		return def, nil
	}
	if raw.Name == "" {
		return nil, &ParseError{Err: fmt.Errorf("element declaration without name or ref")}
	}

	def := &ElementDef{Name: raw.Name, MinOccurs: minOcc, MaxOccurs: maxOcc}
	if _, isTop := b.topElements[raw.Name]; isTop {
		b.elemDefs[raw.Name] = def
		b.building["elem:"+raw.Name] = true
		defer delete(b.building, "elem:"+raw.Name)
	}

	switch {
	case raw.ComplexType != nil:
		if err := b.fillComplex(def, raw.ComplexType); err != nil {
			return nil, err
		}
	case raw.SimpleType != nil:
		kind, err := b.resolveSimple(raw.SimpleType)
		if err != nil {
			return nil, err
		}
		def.Content, def.Scalar = ContentScalar, kind
	case raw.Type != "":
		if err := b.resolveTypeName(def, stripPrefix(raw.Type)); err != nil {
			return nil, err
		}
	default:
		// No type information: treat as string content, as the feed
		// schemas in practice leave leaf elements untyped.
		def.Content, def.Scalar = ContentScalar, KindString
	}
	return def, nil
}

func (b *builder) resolveTypeName(def *ElementDef, typeName string) error {
	if kind, ok := builtinKind(typeName); ok {
		def.Content, def.Scalar = ContentScalar, kind
		return nil
	}
	if st, ok := b.simpleTypes[typeName]; ok {
		kind, err := b.resolveSimple(st)
		if err != nil {
			return err
		}
		def.Content, def.Scalar = ContentScalar, kind
		return nil
	}
	ct, ok := b.complexTypes[typeName]
	if !ok {
		return &ParseError{Err: fmt.Errorf("type %q not declared", typeName)}
	}
	if b.building["type:"+typeName] {
		// Self-referencing type chain: bounded marker, never unrolled.
		def.Content = ContentRef
		def.Ref = b.typeDefs[typeName]
		return nil
	}
	b.building["type:"+typeName] = true
	b.typeDefs[typeName] = def
	defer delete(b.building, "type:"+typeName)
	return b.fillComplex(def, ct)
}

func (b *builder) fillComplex(def *ElementDef, ct *xsdComplexType) error {
	if ct.SimpleContent != nil {
		return &UnsupportedFeatureError{Feature: "simpleContent"}
	}
	def.Content = ContentComplex
	for _, a := range ct.Attributes {
		kind, ok := builtinKind(stripPrefix(a.Type))
		if !ok {
			kind = KindString
		}
		def.Attributes = append(def.Attributes, AttributeDef{
			Name:     a.Name,
			Kind:     kind,
			Required: a.Use == "required",
		})
	}
	for _, grp := range []*xsdModelGroup{ct.Sequence, ct.All, ct.Choice} {
		if grp == nil {
			continue
		}
		if err := b.fillGroup(def, grp); err != nil {
			return err
		}
	}
	return nil
}

// fillGroup flattens sequence/all/choice transparently, the way the feed
// generator has always read these schemas.
func (b *builder) fillGroup(def *ElementDef, grp *xsdModelGroup) error {
	if len(grp.Anys) > 0 {
		return &UnsupportedFeatureError{Feature: "any"}
	}
	if len(grp.GroupRefs) > 0 {
		return &UnsupportedFeatureError{Feature: "group"}
	}
	for i := range grp.Elements {
		child, err := b.buildElement(&grp.Elements[i])
		if err != nil {
			return err
		}
		def.Children = append(def.Children, child)
	}
	for _, nested := range [][]xsdModelGroup{grp.Sequences, grp.Alls, grp.Choices} {
		for i := range nested {
			if err := b.fillGroup(def, &nested[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) resolveSimple(st *xsdSimpleType) (Kind, error) {
	if st.Union != nil {
		return KindString, &UnsupportedFeatureError{Feature: "union"}
	}
	if st.List != nil {
		return KindString, &UnsupportedFeatureError{Feature: "list"}
	}
	if st.Restriction == nil {
		return KindString, nil
	}
	base := stripPrefix(st.Restriction.Base)
	if kind, ok := builtinKind(base); ok {
		return kind, nil
	}
	if nested, ok := b.simpleTypes[base]; ok {
		return b.resolveSimple(nested)
	}
	return KindString, &ParseError{Err: fmt.Errorf("restriction base %q not declared", st.Restriction.Base)}
}

// parseOccurs keeps the generator's historical defaults: absent minOccurs
// reads as 0 and absent maxOccurs as unbounded.
func parseOccurs(minS, maxS string) (int, int, error) {
	minOcc := 0
	if minS != "" {
		v, err := strconv.Atoi(minS)
		if err != nil || v < 0 {
			return 0, 0, &ParseError{Err: fmt.Errorf("invalid minOccurs %q", minS)}
		}
		minOcc = v
	}
	maxOcc := Unbounded
	if maxS != "" && !strings.EqualFold(maxS, "unbounded") {
		v, err := strconv.Atoi(maxS)
		if err != nil || v < 0 {
			return 0, 0, &ParseError{Err: fmt.Errorf("invalid maxOccurs %q", maxS)}
		}
		maxOcc = v
	}
	return minOcc, maxOcc, nil
}

// stripPrefix drops a namespace prefix from a QName.
func stripPrefix(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func builtinKind(name string) (Kind, bool) {
	switch name {
	case "string", "normalizedString", "token", "anyURI", "date", "dateTime",
		"time", "gYear", "gYearMonth", "ID", "IDREF", "NMTOKEN", "language",
		"base64Binary", "hexBinary", "duration":
		return KindString, true
	case "int", "integer", "long", "short", "byte",
		"nonNegativeInteger", "nonPositiveInteger", "negativeInteger", "positiveInteger",
		"unsignedByte", "unsignedInt", "unsignedLong", "unsignedShort":
		return KindInteger, true
	case "decimal", "double", "float":
		return KindFloat, true
	case "boolean":
		return KindBoolean, true
	}
	return KindString, false
}

// checkUniqueChildren enforces that element names are unique within their
// parent's child scope. Ref markers terminate the walk.
func checkUniqueChildren(def *ElementDef, seen map[*ElementDef]bool) error {
	if def.Content != ContentComplex || seen[def] {
		return nil
	}
	seen[def] = true
	names := map[string]bool{}
	for _, c := range def.Children {
		if names[c.Name] {
			return &ParseError{Err: fmt.Errorf("duplicate element %q under %q", c.Name, def.Name)}
		}
		names[c.Name] = true
		if err := checkUniqueChildren(c, seen); err != nil {
			return err
		}
	}
	return nil
}
