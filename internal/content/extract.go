package content

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// MaxHTMLSize limits HTML input to 5MB to prevent memory exhaustion.
const MaxHTMLSize = 5 * 1024 * 1024

// Extraction splits a page into the surfaces that matter for scanning.
// Hidden text and comments are kept separate from visible text because
// text concealed from a human but visible to an automated reader scores
// higher.
type Extraction struct {
	Text     string
	Hidden   []string
	Comments []string
}

// hiddenXPath matches elements concealed via the hidden attribute, inline
// display:none / visibility:hidden, or hidden form inputs. Spaces in the
// style value are stripped before matching.
const hiddenXPath = `//*[@hidden or ` +
	`contains(translate(@style, ' ', ''), 'display:none') or ` +
	`contains(translate(@style, ' ', ''), 'visibility:hidden') or ` +
	`contains(translate(@style, ' ', ''), 'opacity:0') or ` +
	`(self::input and @type='hidden')]`

// Extract pulls visible text, hidden-element text, and HTML comments out
// of a page. Oversized or unparseable input returns an error; callers in
// the detection path degrade to scanning the raw string instead.
func Extract(htmlStr string) (Extraction, error) {
	if htmlStr == "" {
		return Extraction{}, nil
	}
	if len(htmlStr) > MaxHTMLSize {
		return Extraction{}, fmt.Errorf("html exceeds maximum size of %d bytes", MaxHTMLSize)
	}

	utf8Str := toUTF8(htmlStr)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(utf8Str))
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to parse html: %w", err)
	}

	ex := Extraction{Text: normalizeWhitespace(doc.Text())}

	root, err := htmlquery.Parse(strings.NewReader(utf8Str))
	if err != nil {
		// Visible text alone is still useful.
		return ex, nil
	}

	for _, node := range htmlquery.Find(root, hiddenXPath) {
		text := nodeText(node)
		if text == "" {
			if val := htmlquery.SelectAttr(node, "value"); val != "" {
				text = val
			}
		}
		if text != "" {
			ex.Hidden = append(ex.Hidden, text)
		}
	}

	collectComments(root, &ex.Comments)
	return ex, nil
}

// toUTF8 converts the input to UTF-8 using detected charset, falling back
// to the raw string when detection or conversion fails.
func toUTF8(htmlStr string) string {
	data := []byte(htmlStr)

	detector := chardet.NewTextDetector()
	best, err := detector.DetectBest(data)
	if err != nil || best == nil {
		return htmlStr
	}
	name := strings.ToLower(best.Charset)
	if name == "utf-8" || name == "ascii" {
		return htmlStr
	}

	reader, err := charset.NewReader(bytes.NewReader(data), name)
	if err != nil {
		return htmlStr
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return htmlStr
	}
	return buf.String()
}

func collectComments(n *html.Node, out *[]string) {
	if n.Type == html.CommentNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			*out = append(*out, text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectComments(c, out)
	}
}

func nodeText(n *html.Node) string {
	return normalizeWhitespace(htmlquery.InnerText(n))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
