// Package assembler accumulates mapped element trees under the document
// root across chunks. Output order is chunk order then record order, so
// chunk sizing never changes the serialized document.
package assembler

import (
	"fmt"
	"io"

	"github.com/beevik/etree"

	"github.com/harbrdata/harbr-serv-exten-lnrs-xml-transform/internal/schema"
)

const xmlDecl = `version="1.0" encoding="UTF-8"`

// InternalError flags an assembly invariant violation. This is a bug in
// the pipeline, not bad user input.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string {
	return "assembler: " + e.Reason
}

// Assembler builds the full document tree in memory, enabling
// validate-before-write.
type Assembler struct {
	doc       *etree.Document
	insertAt  *etree.Element
	recordTag string
	finalized bool
}

// Begin materializes the root and any container wrappers down to the
// point where record elements attach.
func Begin(model *schema.Model) *Assembler {
	recDef, path := model.RecordDef()

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", xmlDecl)

	var insertAt *etree.Element
	if len(path) == 0 {
		insertAt = nil // records are roots themselves; only one allowed
	} else {
		cur := doc.CreateElement(path[0].Name)
		for _, p := range path[1:] {
			cur = cur.CreateElement(p.Name)
		}
		insertAt = cur
	}

	return &Assembler{doc: doc, insertAt: insertAt, recordTag: recDef.Name}
}

// AppendChunk attaches mapped elements in record order.
func (a *Assembler) AppendChunk(nodes []*etree.Element) error {
	if a.finalized {
		return &InternalError{Reason: "append after finalize"}
	}
	for _, n := range nodes {
		if n.Tag != a.recordTag {
			return &InternalError{Reason: fmt.Sprintf("element <%s> does not match record element <%s>", n.Tag, a.recordTag)}
		}
		if a.insertAt == nil {
			if a.doc.Root() != nil {
				return &InternalError{Reason: "schema allows a single record document but multiple records were mapped"}
			}
			a.doc.SetRoot(n)
			continue
		}
		a.insertAt.AddChild(n)
	}
	return nil
}

// Finalize returns the completed document. The tree is immutable from the
// caller's point of view after this.
func (a *Assembler) Finalize() (*etree.Document, error) {
	if a.finalized {
		return nil, &InternalError{Reason: "finalize called twice"}
	}
	a.finalized = true
	if a.doc.Root() == nil {
		return nil, &InternalError{Reason: "no document root was assembled"}
	}
	return a.doc, nil
}

// StreamAssembler serializes chunks straight to a writer so the complete
// tree never lives in memory. Mutually exclusive with full-document
// validation.
type StreamAssembler struct {
	w         io.Writer
	openTags  []string
	recordTag string
	indent    string
	written   int64
	closed    bool
	err       error
}

// BeginStream writes the XML declaration and the open tags down to the
// record attachment point.
func BeginStream(model *schema.Model, w io.Writer) (*StreamAssembler, error) {
	recDef, path := model.RecordDef()

	s := &StreamAssembler{w: w, recordTag: recDef.Name}
	if _, err := fmt.Fprintf(w, "<?xml %s?>\n", xmlDecl); err != nil {
		return nil, err
	}
	for _, p := range path {
		if _, err := fmt.Fprintf(w, "%s<%s>\n", s.indent, p.Name); err != nil {
			return nil, err
		}
		s.openTags = append(s.openTags, p.Name)
		s.indent += "  "
	}
	return s, nil
}

// AppendChunk serializes each element in record order.
func (s *StreamAssembler) AppendChunk(nodes []*etree.Element) error {
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return &InternalError{Reason: "append after close"}
	}
	for _, n := range nodes {
		if n.Tag != s.recordTag {
			s.err = &InternalError{Reason: fmt.Sprintf("element <%s> does not match record element <%s>", n.Tag, s.recordTag)}
			return s.err
		}
		if len(s.openTags) == 0 && s.written > 0 {
			s.err = &InternalError{Reason: "schema allows a single record document but multiple records were mapped"}
			return s.err
		}
		s.written++
		frag := etree.NewDocument()
		frag.SetRoot(n)
		text, err := frag.WriteToString()
		if err != nil {
			s.err = err
			return err
		}
		if _, err := fmt.Fprintf(s.w, "%s%s\n", s.indent, text); err != nil {
			s.err = err
			return err
		}
	}
	return nil
}

// Close writes the closing tags. The stream is unusable afterwards.
func (s *StreamAssembler) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.err != nil {
		return s.err
	}
	for i := len(s.openTags) - 1; i >= 0; i-- {
		s.indent = s.indent[:len(s.indent)-2]
		if _, err := fmt.Fprintf(s.w, "%s</%s>\n", s.indent, s.openTags[i]); err != nil {
			s.err = err
			return err
		}
	}
	return nil
}
