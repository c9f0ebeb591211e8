// Package validator checks an assembled document against the schema
// model: element ordering, cardinality, scalar text kinds and attributes.
// It covers the structural subset of XSD semantics the loader models; it
// never mutates the document.
package validator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
)

// Violation is one schema breach at an element path.
type Violation struct {
	Path    string
	Message string
}

// Result is the full validation outcome. The caller decides whether
// violations abort the run or the document is emitted with warnings.
type Result struct {
	Valid      bool
	Violations []Violation
}

// Validate checks the document root against the model.
func Validate(doc *etree.Document, model *schema.Model) Result {
	root := doc.Root()
	var v []Violation
	if root == nil {
		return Result{Valid: false, Violations: []Violation{{Path: "/", Message: "document has no root element"}}}
	}
	if root.Tag != model.Root.Name {
		v = append(v, Violation{
			Path:    "/" + root.Tag,
			Message: fmt.Sprintf("root element is <%s>, schema declares <%s>", root.Tag, model.Root.Name),
		})
		return Result{Valid: false, Violations: v}
	}
	v = validateElement(root, model.Root, "/"+root.Tag, v)
	return Result{Valid: len(v) == 0, Violations: v}
}

func validateElement(el *etree.Element, def *schema.ElementDef, path string, v []Violation) []Violation {
	v = validateAttributes(el, def, path, v)

	target := def
	if def.Content == schema.ContentRef {
		// Bounded recursion: the document tree is finite, so following
		// the marker here terminates.
		target = def.Ref
	}

	switch target.Content {
	case schema.ContentScalar:
		if kids := el.ChildElements(); len(kids) > 0 {
			v = append(v, Violation{Path: path, Message: "scalar element has child elements"})
			return v
		}
		v = validateScalarText(el, target, path, v)
		return v
	case schema.ContentComplex:
		return validateChildren(el, target, path, v)
	}
	return v
}

func validateAttributes(el *etree.Element, def *schema.ElementDef, path string, v []Violation) []Violation {
	declared := map[string]schema.AttributeDef{}
	for _, a := range def.Attributes {
		declared[a.Name] = a
		if a.Required && el.SelectAttr(a.Name) == nil {
			v = append(v, Violation{Path: path, Message: fmt.Sprintf("missing required attribute %q", a.Name)})
		}
	}
	for _, attr := range el.Attr {
		if attr.Space == "xmlns" || attr.Key == "xmlns" {
			continue
		}
		a, ok := declared[attr.Key]
		if !ok {
			v = append(v, Violation{Path: path, Message: fmt.Sprintf("undeclared attribute %q", attr.Key)})
			continue
		}
		if msg := checkKind(attr.Value, a.Kind); msg != "" {
			v = append(v, Violation{Path: path, Message: fmt.Sprintf("attribute %q: %s", attr.Key, msg)})
		}
	}
	return v
}

// validateChildren walks the actual children against the declared
// sequence: order must follow declaration order and occurrence counts
// must fit each definition's bounds.
func validateChildren(el *etree.Element, def *schema.ElementDef, path string, v []Violation) []Violation {
	pos := map[string]int{}
	defs := map[string]*schema.ElementDef{}
	for i, c := range def.Children {
		pos[c.Name] = i
		defs[c.Name] = c
	}

	counts := map[string]int{}
	lastPos := -1
	for _, child := range el.ChildElements() {
		childPath := path + "/" + child.Tag
		p, ok := pos[child.Tag]
		if !ok {
			v = append(v, Violation{Path: childPath, Message: "element not declared in schema"})
			continue
		}
		if p < lastPos {
			v = append(v, Violation{Path: childPath, Message: "element out of declared order"})
		}
		lastPos = p
		counts[child.Tag]++
		cdef := defs[child.Tag]
		occPath := childPath
		if cdef.Repeats() {
			occPath = fmt.Sprintf("%s[%d]", childPath, counts[child.Tag])
		}
		v = validateElement(child, cdef, occPath, v)
	}

	for _, c := range def.Children {
		n := counts[c.Name]
		childPath := path + "/" + c.Name
		if n < c.MinOccurs {
			v = append(v, Violation{
				Path:    childPath,
				Message: fmt.Sprintf("element occurs %d times, minOccurs is %d", n, c.MinOccurs),
			})
		}
		if c.MaxOccurs != schema.Unbounded && n > c.MaxOccurs {
			v = append(v, Violation{
				Path:    childPath,
				Message: fmt.Sprintf("element occurs %d times, maxOccurs is %d", n, c.MaxOccurs),
			})
		}
	}
	return v
}

func validateScalarText(el *etree.Element, def *schema.ElementDef, path string, v []Violation) []Violation {
	text := strings.TrimSpace(el.Text())
	if text == "" {
		// Empty elements stand for null values; the feed emits them for
		// required-but-short occurrence lists.
		return v
	}
	if msg := checkKind(text, def.Scalar); msg != "" {
		v = append(v, Violation{Path: path, Message: msg})
	}
	return v
}

func checkKind(text string, kind schema.Kind) string {
	switch kind {
	case schema.KindInteger:
		if _, err := strconv.ParseInt(text, 10, 64); err != nil {
			return fmt.Sprintf("%q is not a valid integer", text)
		}
	case schema.KindFloat:
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return fmt.Sprintf("%q is not a valid number", text)
		}
	case schema.KindBoolean:
		switch text {
		case "true", "false", "0", "1":
		default:
			return fmt.Sprintf("%q is not a valid boolean", text)
		}
	}
	return ""
}
