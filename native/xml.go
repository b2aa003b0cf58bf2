package native

import (
	"encoding/xml"
	"strings"

	"github.com/go-xmlfmt/xmlfmt"
	"github.com/rotisserie/eris"

	"github.com/two-barrels/scriptrt/script"
)

// buildXML exposes the "XML" root global: a minimal format/parse surface
// standing in for the concrete XML object library scopes out
// of the core ("the specific built-in object library … beyond the
// generic native binding contract"). `format` is grounded directly on
// `github.com/go-xmlfmt/xmlfmt` and re-indents an XML string; `parse`
// walks the decoded token stream into a {tag,text,attrs,children}
// script.Object. `format` does not accept that object shape, so the two
// are not inverses of each other.
func (b *Bridge) buildXML() *script.Object {
	o := script.NewObject(nil)

	o.Assign("format", nativeFunc("format", 1, 2, func(args []script.Operation) (script.Operation, error) {
		indent := "  "
		if len(args) > 1 && args[1].IsFilled() {
			indent = args[1].Str()
		}
		return script.String(xmlfmt.FormatXML(args[0].Str(), "", indent)), nil
	}))
	o.Assign("parse", nativeFunc("parse", 1, 1, func(args []script.Operation) (script.Operation, error) {
		node, err := parseXMLNode(args[0].Str())
		if err != nil {
			return script.Null(), nil
		}
		return script.Obj(node), nil
	}))

	return o
}

func parseXMLNode(src string) (*script.Object, error) {
	dec := xml.NewDecoder(strings.NewReader(src))
	var root *script.Object
	var stack []*script.Object

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := script.NewObject(nil)
			node.Assign("tag", script.String(t.Name.Local))
			attrs := script.NewObject(nil)
			for _, a := range t.Attr {
				attrs.Assign(a.Name.Local, script.String(a.Value))
			}
			node.Assign("attrs", script.Obj(attrs))
			children := script.NewArray(nil)
			node.Assign("children", script.Obj(children))
			node.Assign("text", script.String(""))
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				kidsOp, _ := parent.GetField("children")
				kidsOp.Object().Push(script.Obj(node))
			} else {
				root = node
			}
			stack = append(stack, node)
		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				cur, _ := top.GetField("text")
				top.Assign("text", script.String(cur.Str()+string(t)))
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if root == nil {
		return nil, eris.New("no root element")
	}
	return root, nil
}
