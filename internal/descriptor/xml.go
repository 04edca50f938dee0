package descriptor

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// node is an element of a descriptor document. Element and attribute names
// are written verbatim, prefix included, so the output matches the schemas
// consumers validate against.
type node struct {
	name     string
	attrs    []xml.Attr
	text     string
	children []*node
}

func element(name string, children ...*node) *node {
	return &node{name: name, children: children}
}

func leaf(name, text string) *node {
	return &node{name: name, text: text}
}

func (n *node) attr(name, value string) *node {
	n.attrs = append(n.attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	return n
}

// parameter renders one ParameterParameterWaarde pair.
func parameter(name, value string) *node {
	return element("ParameterParameterWaarde",
		leaf("Parameter", name),
		leaf("ParameterWaarde", value),
	)
}

// render serializes the tree with an XML declaration and two-space indentation.
func render(root *node) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := encode(enc, root); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flush xml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func encode(enc *xml.Encoder, n *node) error {
	start := xml.StartElement{Name: xml.Name{Local: n.name}, Attr: n.attrs}
	if err := enc.EncodeToken(start); err != nil {
		return fmt.Errorf("encode <%s>: %w", n.name, err)
	}
	if n.text != "" {
		if err := enc.EncodeToken(xml.CharData(n.text)); err != nil {
			return fmt.Errorf("encode text of <%s>: %w", n.name, err)
		}
	}
	for _, child := range n.children {
		if err := encode(enc, child); err != nil {
			return err
		}
	}
	if err := enc.EncodeToken(start.End()); err != nil {
		return fmt.Errorf("encode </%s>: %w", n.name, err)
	}
	return nil
}
