package ssml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// element is one node of the parsed markup tree. text is the content
// before the first child, tail the content after the element's end tag;
// both belong to the traversal exactly where the source put them.
type element struct {
	tag      string
	attrs    map[string]string
	text     string
	tail     string
	children []*element
}

func (e *element) attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

// parse builds an element tree from markup. Namespace prefixes on tags and
// attributes are dropped. Input that is not a well-formed document is
// retried wrapped in <speak>, so plain text and tag fragments are
// accepted.
func parse(markup string) (*element, error) {
	root, err := parseDocument(markup)
	if err == nil {
		return root, nil
	}
	root, wrapErr := parseDocument("<speak>" + markup + "</speak>")
	if wrapErr != nil {
		return nil, &MalformedMarkupError{Detail: err.Error()}
	}
	return root, nil
}

func parseDocument(markup string) (*element, error) {
	decoder := xml.NewDecoder(strings.NewReader(markup))
	decoder.Strict = true

	var root *element
	var stack []*element

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			node := &element{tag: t.Name.Local, attrs: make(map[string]string)}
			for _, a := range t.Attr {
				if a.Name.Local == "xmlns" || a.Name.Space == "xmlns" {
					continue
				}
				node.attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements")
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(string(t)) != "" {
					return nil, fmt.Errorf("text outside root element")
				}
				continue
			}
			current := stack[len(stack)-1]
			if len(current.children) == 0 {
				current.text += string(t)
			} else {
				last := current.children[len(current.children)-1]
				last.tail += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}
