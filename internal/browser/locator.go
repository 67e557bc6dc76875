// internal/browser/locator.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

// LocatorKind selects how a Locator's Value is interpreted.
type LocatorKind string

const (
	// ByRole matches elements with an explicit or implicit ARIA role; Name
	// is matched against the element's text or aria-label.
	ByRole LocatorKind = "role"
	// ByText matches the innermost elements whose own text contains Value.
	ByText LocatorKind = "text"
	// ByCSS is a structural CSS selector.
	ByCSS LocatorKind = "css"
	// ByXPath is a raw XPath expression.
	ByXPath LocatorKind = "xpath"
)

// Locator is a single element-locating expression.
type Locator struct {
	Kind  LocatorKind `json:"kind" yaml:"kind"`
	Value string      `json:"value" yaml:"value"`
	Name  string      `json:"name,omitempty" yaml:"name,omitempty"`
	// Exact requires the accessible name or text to match in full.
	Exact bool `json:"exact,omitempty" yaml:"exact,omitempty"`
}

func (l Locator) String() string {
	switch l.Kind {
	case ByRole:
		if l.Name != "" {
			return fmt.Sprintf("role=%s[name=%q]", l.Value, l.Name)
		}
		return "role=" + l.Value
	default:
		return fmt.Sprintf("%s=%s", l.Kind, l.Value)
	}
}

// implicitRoles lists the element tests that carry a role without an
// explicit role attribute.
var implicitRoles = map[string]string{
	"button":   "self::button or (self::input and (@type='button' or @type='submit' or @type='reset'))",
	"link":     "(self::a and @href)",
	"heading":  "self::h1 or self::h2 or self::h3 or self::h4 or self::h5 or self::h6",
	"textbox":  "self::textarea or (self::input and (not(@type) or @type='text' or @type='email' or @type='search'))",
	"checkbox": "(self::input and @type='checkbox')",
	"img":      "(self::img and @alt)",
}

// Query translates the locator into a chromedp selector and query option.
func (l Locator) Query() (string, chromedp.QueryOption, error) {
	switch l.Kind {
	case ByCSS:
		if l.Value == "" {
			return "", nil, fmt.Errorf("empty css locator")
		}
		return l.Value, chromedp.ByQuery, nil
	case ByXPath:
		if l.Value == "" {
			return "", nil, fmt.Errorf("empty xpath locator")
		}
		return l.Value, chromedp.BySearch, nil
	case ByText:
		if l.Value == "" {
			return "", nil, fmt.Errorf("empty text locator")
		}
		return "//*[not(self::script or self::style)][text()[" + textPredicate(".", l.Value, l.Exact) + "]]", chromedp.BySearch, nil
	case ByRole:
		role := strings.ToLower(strings.TrimSpace(l.Value))
		if role == "" {
			return "", nil, fmt.Errorf("empty role locator")
		}
		test := fmt.Sprintf("@role=%s", xpathLiteral(role))
		if implicit, ok := implicitRoles[role]; ok {
			test = implicit + " or " + test
		}
		expr := "//*[" + test + "]"
		if l.Name != "" {
			expr += "[" + textPredicate(".", l.Name, l.Exact) + " or " + textPredicate("@aria-label", l.Name, l.Exact) + "]"
		}
		return expr, chromedp.BySearch, nil
	default:
		return "", nil, fmt.Errorf("unknown locator kind %q", l.Kind)
	}
}

func textPredicate(node, text string, exact bool) string {
	if exact {
		return fmt.Sprintf("normalize-space(%s)=%s", node, xpathLiteral(text))
	}
	return fmt.Sprintf("contains(normalize-space(%s), %s)", node, xpathLiteral(text))
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	if len(quoted) == 1 {
		return quoted[0]
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
