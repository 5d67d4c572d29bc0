package crawler

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"rsc.io/pdf"
)

var errUnsupportedContentType = errors.New("unsupported content type")

// contentSelectors are tried in priority order; the first non-trivial match
// becomes the extraction root. The full body is the fallback.
var contentSelectors = []string{
	"article",
	`[role="main"]`,
	".post-content",
	".article-content",
	".entry-content",
	".blog-content",
	"main",
	".content",
}

func extractContent(contentType string, body []byte, maxRunes int) (title, text string, err error) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, parseErr := mime.ParseMediaType(mediaType); parseErr == nil {
		mediaType = parsed
	}

	switch mediaType {
	case "text/html", "application/xhtml+xml":
		title, text, err = extractArticleMarkdown(body)
	case "text/plain", "text/markdown", "text/csv":
		text = normalizeExtractedText(string(body))
	case "application/json":
		text, err = extractJSONText(body)
	case "application/pdf":
		text, err = extractPDFTextFromBody(body)
	default:
		if strings.HasPrefix(mediaType, "text/") {
			text = normalizeExtractedText(string(body))
			break
		}
		return "", "", errUnsupportedContentType
	}
	if err != nil {
		return "", "", err
	}
	title = trimToRunes(strings.TrimSpace(title), 240)
	text = trimToRunes(strings.TrimSpace(text), maxRunes)
	return title, text, nil
}

// extractArticleMarkdown locates the main content container and converts it
// to a lightweight markdown preserving headings, code blocks, emphasis, and
// links.
func extractArticleMarkdown(data []byte) (title, markdown string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, nav, header, footer, iframe, noscript, svg, aside, form").Remove()

	content := doc.Find("body")
	for _, selector := range contentSelectors {
		candidate := doc.Find(selector).First()
		if candidate.Length() == 0 {
			continue
		}
		if utf8.RuneCountInString(strings.TrimSpace(candidate.Text())) < 80 {
			continue
		}
		content = candidate
		break
	}

	var builder strings.Builder
	for _, node := range content.Nodes {
		renderMarkdown(node, &builder, renderState{})
	}
	return title, normalizeExtractedText(builder.String()), nil
}

type renderState struct {
	inPre      bool
	listPrefix string
}

func renderMarkdown(node *html.Node, out *strings.Builder, state renderState) {
	if node == nil {
		return
	}

	if node.Type == html.TextNode {
		if state.inPre {
			out.WriteString(node.Data)
			return
		}
		trimmed := strings.TrimSpace(node.Data)
		if trimmed != "" {
			out.WriteString(strings.Join(strings.Fields(trimmed), " "))
			out.WriteByte(' ')
		}
		return
	}
	if node.Type != html.ElementNode && node.Type != html.DocumentNode {
		return
	}

	tag := strings.ToLower(node.Data)
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		out.WriteString("\n\n")
		out.WriteString(strings.Repeat("#", int(tag[1]-'0')))
		out.WriteByte(' ')
		renderChildren(node, out, state)
		out.WriteString("\n\n")
		return
	case "pre":
		out.WriteString("\n\n```\n")
		inner := state
		inner.inPre = true
		renderChildren(node, out, inner)
		out.WriteString("\n```\n\n")
		return
	case "code":
		if state.inPre {
			renderChildren(node, out, state)
			return
		}
		out.WriteByte('`')
		renderChildren(node, out, state)
		out.WriteString("` ")
		return
	case "strong", "b":
		out.WriteString("**")
		renderChildren(node, out, state)
		out.WriteString("** ")
		return
	case "em", "i":
		out.WriteByte('*')
		renderChildren(node, out, state)
		out.WriteString("* ")
		return
	case "a":
		href := attrValue(node, "href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			renderChildren(node, out, state)
			return
		}
		out.WriteByte('[')
		renderChildren(node, out, state)
		trimTrailingSpace(out)
		out.WriteString("](")
		out.WriteString(href)
		out.WriteString(") ")
		return
	case "li":
		out.WriteByte('\n')
		if state.listPrefix == "" {
			out.WriteString("- ")
		} else {
			out.WriteString(state.listPrefix)
		}
		renderChildren(node, out, state)
		return
	case "ul", "ol":
		out.WriteByte('\n')
		renderChildren(node, out, state)
		out.WriteByte('\n')
		return
	case "p", "div", "section", "article", "blockquote", "table", "tr":
		out.WriteByte('\n')
		renderChildren(node, out, state)
		out.WriteByte('\n')
		return
	case "br":
		out.WriteByte('\n')
		return
	}

	renderChildren(node, out, state)
}

func renderChildren(node *html.Node, out *strings.Builder, state renderState) {
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		renderMarkdown(child, out, state)
	}
}

func attrValue(node *html.Node, name string) string {
	for _, attr := range node.Attr {
		if strings.EqualFold(attr.Key, name) {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}

func trimTrailingSpace(out *strings.Builder) {
	current := out.String()
	trimmed := strings.TrimRight(current, " ")
	if len(trimmed) != len(current) {
		out.Reset()
		out.WriteString(trimmed)
	}
}

func extractJSONText(data []byte) (string, error) {
	if !json.Valid(data) {
		return normalizeExtractedText(string(data)), nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return "", err
	}
	return normalizeExtractedText(pretty.String()), nil
}

func extractPDFTextFromBody(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	runeCount := 0
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		content := page.Content()
		for _, item := range content.Text {
			chunk := strings.TrimSpace(item.S)
			if chunk == "" {
				continue
			}
			if textBuilder.Len() > 0 {
				textBuilder.WriteByte('\n')
				runeCount++
			}
			textBuilder.WriteString(chunk)
			runeCount += utf8.RuneCountInString(chunk)
			if runeCount >= 220_000 {
				return trimToRunes(textBuilder.String(), 220_000), nil
			}
		}
	}

	return normalizeExtractedText(textBuilder.String()), nil
}

func normalizeExtractedText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ToValidUTF8(normalized, "")

	lines := strings.Split(normalized, "\n")
	compact := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			blank = true
			continue
		}
		if blank && len(compact) > 0 {
			compact = append(compact, "")
		}
		blank = false
		compact = append(compact, trimmed)
	}
	return strings.TrimSpace(strings.Join(compact, "\n"))
}

func trimToRunes(raw string, limit int) string {
	if limit <= 0 {
		return raw
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}
