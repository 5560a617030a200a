package continuation

import (
	"strings"

	"golang.org/x/net/html"
)

// Form is an HTML form extracted from the surface content.
type Form struct {
	Name   string
	Method string
	Action string
	Fields map[string]string
}

// ParseForms extracts every form from the markup, in document order.
func ParseForms(markup string) []Form {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	var forms []Form
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			forms = append(forms, extractForm(n))
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return forms
}

func extractForm(node *html.Node) Form {
	form := Form{
		Method: "GET",
		Fields: make(map[string]string),
	}
	for _, attr := range node.Attr {
		switch strings.ToLower(attr.Key) {
		case "name":
			form.Name = attr.Val
		case "method":
			form.Method = strings.ToUpper(strings.TrimSpace(attr.Val))
		case "action":
			form.Action = strings.TrimSpace(attr.Val)
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "input" {
			var name, value string
			for _, attr := range n.Attr {
				switch strings.ToLower(attr.Key) {
				case "name":
					name = attr.Val
				case "value":
					value = attr.Val
				}
			}
			if name != "" {
				form.Fields[name] = value
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return form
}

// FindRedirectForm picks the form to submit: the named return form first,
// then any POST form, then any form at all.
func FindRedirectForm(forms []Form) (Form, bool) {
	for _, form := range forms {
		if strings.EqualFold(form.Name, "returnform") {
			return form, true
		}
	}
	for _, form := range forms {
		if form.Method == "POST" {
			return form, true
		}
	}
	if len(forms) > 0 {
		return forms[0], true
	}
	return Form{}, false
}
