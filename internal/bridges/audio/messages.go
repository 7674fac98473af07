package audio

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// node is a generic XML element. Server messages are small and loosely
// structured, so they are decoded into a tree and walked.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func parseMessage(body string) (node, error) {
	var n node
	if err := xml.Unmarshal([]byte(body), &n); err != nil {
		return node{}, fmt.Errorf("parse message: %w", err)
	}
	return n, nil
}

func (n node) name() string { return n.XMLName.Local }

func (n node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n node) intAttr(name string) (int, bool) {
	v, err := strconv.Atoi(n.attr(name))
	return v, err == nil
}

// value is an item's current value: the value attribute, or its text.
func (n node) value() string {
	if v := n.attr("value"); v != "" {
		return v
	}
	return strings.TrimSpace(n.Text)
}

func (n node) children(name string) []node {
	var out []node
	for _, c := range n.Nodes {
		if c.name() == name {
			out = append(out, c)
		}
	}
	return out
}

func (n node) first(name string) (node, bool) {
	for _, c := range n.Nodes {
		if c.name() == name {
			return c, true
		}
	}
	return node{}, false
}

// walk visits n and every descendant depth first.
func (n node) walk(fn func(node)) {
	fn(n)
	for _, c := range n.Nodes {
		c.walk(fn)
	}
}

// Client messages.

func clientDetails(hostname, key string) string {
	return fmt.Sprintf(`<client-details hostname="%s" client-key="%s"/>`, xmlEscape(hostname), key)
}

func deviceSubscribe(devID int) string {
	return fmt.Sprintf(`<device-subscribe devid="%d" subscribe="true"/>`, devID)
}

func setItem(devID, itemID int, value string) string {
	return fmt.Sprintf(`<set devid="%d"><item id="%d" value="%s"/></set>`, devID, itemID, xmlEscape(value))
}

const keepAlive = `<keep-alive/>`

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
