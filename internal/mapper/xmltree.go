package mapper

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/openfaktur/einvoice/internal/model"
)

// Query is the defensive tree lookup shared by the dialect mappers. Paths
// are slash-separated local element names, matched regardless of namespace
// prefix, with optional predicates and a trailing attribute selector:
//
//	ExchangedDocument/ID
//	IssueDateTime/DateTimeString[@format="102"]
//	PartyTaxScheme[TaxScheme/ID="VAT"]/CompanyID
//	BilledQuantity/@unitCode
//
// Mandatory lookups on a missing or empty node return a MappingError naming
// the path.
type Query struct {
	format model.Format
}

// NewQuery creates a query helper whose errors carry the given format.
func NewQuery(format model.Format) Query {
	return Query{format: format}
}

// First returns the first element matching path under el, or nil.
func (q Query) First(el *etree.Element, path string) *etree.Element {
	matches := q.All(el, path)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// All returns every element matching path under el.
func (q Query) All(el *etree.Element, path string) []*etree.Element {
	if el == nil {
		return nil
	}
	segs := splitPath(path)
	current := []*etree.Element{el}
	for _, seg := range segs {
		if strings.HasPrefix(seg, "@") {
			// Attribute selectors are only meaningful for text lookups.
			break
		}
		name, preds := parseSegment(seg)
		var next []*etree.Element
		for _, c := range current {
			for _, child := range c.ChildElements() {
				if child.Tag != name {
					continue
				}
				if matchesPredicates(q, child, preds) {
					next = append(next, child)
				}
			}
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

// Text returns the trimmed text (or attribute value) at path, or def when
// the node is missing or empty.
func (q Query) Text(el *etree.Element, path, def string) string {
	if s := q.rawText(el, path); s != "" {
		return s
	}
	return def
}

// RequiredText returns the trimmed text at path or a MappingError naming
// the path when the node is missing or empty.
func (q Query) RequiredText(el *etree.Element, path string) (string, error) {
	if el == nil {
		return "", model.NewMappingError(q.format, path, "mandatory field missing: context element absent")
	}
	if s := q.rawText(el, path); s != "" {
		return s, nil
	}
	return "", model.NewMappingError(q.format, path, "mandatory field missing or empty")
}

// Decimal returns the value at path parsed as an exact decimal. The bool
// reports presence; non-numeric content is a MappingError.
func (q Query) Decimal(el *etree.Element, path string) (decimal.Decimal, bool, error) {
	s := q.rawText(el, path)
	if s == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, model.NewMappingError(q.format, path, "invalid numeric value '"+s+"'")
	}
	return d, true, nil
}

// DecimalDefault returns the decimal at path, or def when absent.
func (q Query) DecimalDefault(el *etree.Element, path string, def decimal.Decimal) (decimal.Decimal, error) {
	d, ok, err := q.Decimal(el, path)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return def, nil
	}
	return d, nil
}

// RequiredDecimal returns the decimal at path or a MappingError when the
// node is missing, empty, or non-numeric.
func (q Query) RequiredDecimal(el *etree.Element, path string) (decimal.Decimal, error) {
	d, ok, err := q.Decimal(el, path)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, model.NewMappingError(q.format, path, "mandatory decimal field missing or empty")
	}
	return d, nil
}

func (q Query) rawText(el *etree.Element, path string) string {
	if el == nil {
		return ""
	}
	segs := splitPath(path)
	if len(segs) == 0 {
		return strings.TrimSpace(el.Text())
	}

	last := segs[len(segs)-1]
	if strings.HasPrefix(last, "@") {
		attr := strings.TrimPrefix(last, "@")
		parent := el
		if len(segs) > 1 {
			parent = q.First(el, strings.Join(segs[:len(segs)-1], "/"))
		}
		if parent == nil {
			return ""
		}
		return strings.TrimSpace(localAttr(parent, attr))
	}

	target := q.First(el, path)
	if target == nil {
		return ""
	}
	return strings.TrimSpace(target.Text())
}

type predicate struct {
	// attr is set for [@name="value"], path for [rel/path="value"].
	attr  string
	path  string
	value string
}

func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "./")
	if path == "" {
		return nil
	}
	// Split on '/' outside predicate brackets.
	var segs []string
	depth := 0
	start := 0
	for i, r := range path {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case '/':
			if depth == 0 {
				segs = append(segs, path[start:i])
				start = i + 1
			}
		}
	}
	segs = append(segs, path[start:])
	return segs
}

func parseSegment(seg string) (string, []predicate) {
	idx := strings.Index(seg, "[")
	if idx < 0 {
		return seg, nil
	}
	name := seg[:idx]
	var preds []predicate
	rest := seg[idx:]
	for strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			break
		}
		body := rest[1:end]
		rest = rest[end+1:]

		eq := strings.Index(body, "=")
		if eq < 0 {
			continue
		}
		lhs := strings.TrimSpace(body[:eq])
		val := strings.Trim(strings.TrimSpace(body[eq+1:]), `"'`)
		if strings.HasPrefix(lhs, "@") {
			preds = append(preds, predicate{attr: strings.TrimPrefix(lhs, "@"), value: val})
		} else {
			preds = append(preds, predicate{path: lhs, value: val})
		}
	}
	return name, preds
}

func matchesPredicates(q Query, el *etree.Element, preds []predicate) bool {
	for _, p := range preds {
		if p.attr != "" {
			if strings.TrimSpace(localAttr(el, p.attr)) != p.value {
				return false
			}
			continue
		}
		if q.rawText(el, p.path) != p.value {
			return false
		}
	}
	return true
}

// localAttr matches an attribute by local name, ignoring any prefix.
func localAttr(el *etree.Element, key string) string {
	for _, a := range el.Attr {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}
