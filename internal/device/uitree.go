// internal/device/uitree.go
package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// parseUITree decodes a uiautomator XML dump into the filtered element list
// and the foregrounded package. Only elements that carry text, a label, or a
// clickable flag, and that have positive on-screen area, are kept; everything
// else is layout noise the planner cannot act on.
func parseUITree(xmlDump string) ([]schemas.UIElement, string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlDump); err != nil {
		return nil, "", fmt.Errorf("failed to parse ui dump: %w", err)
	}

	hierarchy := doc.SelectElement("hierarchy")
	if hierarchy == nil {
		return nil, "", fmt.Errorf("ui dump has no hierarchy root")
	}

	var elements []schemas.UIElement
	var foreground string

	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if el.Tag == "node" {
			if foreground == "" {
				foreground = el.SelectAttrValue("package", "")
			}
			if ui, ok := elementFromNode(el); ok {
				elements = append(elements, ui)
			}
		}
		for _, child := range el.SelectElements("node") {
			walk(child)
		}
	}
	for _, child := range hierarchy.SelectElements("node") {
		walk(child)
	}

	return elements, foreground, nil
}

// elementFromNode converts one dump node into a UIElement, reporting whether
// the node is meaningful enough to keep.
func elementFromNode(el *etree.Element) (schemas.UIElement, bool) {
	text := strings.TrimSpace(el.SelectAttrValue("text", ""))
	label := strings.TrimSpace(el.SelectAttrValue("content-desc", ""))
	if label == "" {
		label = strings.TrimSpace(el.SelectAttrValue("hint", ""))
	}
	clickable := el.SelectAttrValue("clickable", "") == "true"

	if text == "" && label == "" && !clickable {
		return schemas.UIElement{}, false
	}

	bounds, err := parseBounds(el.SelectAttrValue("bounds", ""))
	if err != nil || bounds.Width <= 0 || bounds.Height <= 0 {
		return schemas.UIElement{}, false
	}

	return schemas.UIElement{
		Class:      el.SelectAttrValue("class", ""),
		Text:       text,
		Label:      label,
		ResourceID: strings.TrimSpace(el.SelectAttrValue("resource-id", "")),
		Bounds:     bounds,
		Clickable:  clickable,
		Focused:    el.SelectAttrValue("focused", "") == "true",
	}, true
}

// parseBounds decodes the accessibility bounds format "[x1,y1][x2,y2]".
func parseBounds(s string) (schemas.Rect, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return schemas.Rect{}, fmt.Errorf("malformed bounds %q", s)
	}
	parts := strings.Split(s[1:len(s)-1], "][")
	if len(parts) != 2 {
		return schemas.Rect{}, fmt.Errorf("malformed bounds %q", s)
	}

	x1, y1, err := parsePoint(parts[0])
	if err != nil {
		return schemas.Rect{}, fmt.Errorf("malformed bounds %q: %w", s, err)
	}
	x2, y2, err := parsePoint(parts[1])
	if err != nil {
		return schemas.Rect{}, fmt.Errorf("malformed bounds %q: %w", s, err)
	}

	return schemas.Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, nil
}

func parsePoint(s string) (int, int, error) {
	coords := strings.Split(s, ",")
	if len(coords) != 2 {
		return 0, 0, fmt.Errorf("expected two coordinates in %q", s)
	}
	x, err := strconv.Atoi(coords[0])
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(coords[1])
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// extractHierarchyXML trims shell noise around the XML payload that
// "uiautomator dump /dev/tty" prints, returning just the document.
func extractHierarchyXML(raw string) (string, error) {
	start := strings.Index(raw, "<?xml")
	if start == -1 {
		start = strings.Index(raw, "<hierarchy")
	}
	if start == -1 {
		return "", fmt.Errorf("no ui hierarchy found in dump output")
	}
	trimmed := raw[start:]

	const endTag = "</hierarchy>"
	end := strings.LastIndex(trimmed, endTag)
	if end == -1 {
		return "", fmt.Errorf("truncated ui hierarchy in dump output")
	}
	return trimmed[:end+len(endTag)], nil
}
