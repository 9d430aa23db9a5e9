// Package export renders the finished document as a Word compatible file.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"skkn-server/internal/domain"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ContentType is served with exported documents.
const ContentType = "application/msword"

const wordHeader = `<html xmlns:o='urn:schemas-microsoft-com:office:office' xmlns:w='urn:schemas-microsoft-com:office:word' xmlns='http://www.w3.org/TR/REC-html40'>
<head><meta charset='utf-8'><title>%s</title>
<style>
  body { font-family: 'Times New Roman', serif; font-size: 14pt; line-height: 1.5; }
  h1 { font-size: 24pt; font-weight: bold; text-align: center; }
  h2 { font-size: 18pt; font-weight: bold; margin-top: 20px; }
  h3 { font-size: 16pt; font-weight: bold; margin-top: 15px; }
  p { margin-bottom: 10px; text-align: justify; }
  table { border-collapse: collapse; width: 100%%; margin: 20px 0; }
  th, td { border: 1px solid black; padding: 8px; }
</style>
</head><body>`

const wordFooter = "</body></html>"

// utf8BOM makes Word pick the right encoding.
// ErrEmptyDocument is returned when there is nothing to export.
var ErrEmptyDocument = errors.New("export: document is empty")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Document is a rendered export.
type Document struct {
	Filename string
	Body     []byte
}

// Word converts the markdown document into the HTML wrapper Word opens as a
// .doc file.
func Word(md string, topic domain.TopicInfo) (Document, error) {
	if strings.TrimSpace(md) == "" {
		return Document{}, ErrEmptyDocument
	}
	var body bytes.Buffer
	if err := markdown.Convert([]byte(md), &body); err != nil {
		return Document{}, fmt.Errorf("export: convert markdown: %w", err)
	}

	var out bytes.Buffer
	out.Write(utf8BOM)
	fmt.Fprintf(&out, wordHeader, htmlEscaper.Replace(topic.ShortTitle(120)))
	out.Write(body.Bytes())
	out.WriteString(wordFooter)

	return Document{Filename: Filename(topic), Body: out.Bytes()}, nil
}

var (
	htmlEscaper     = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&#39;", `"`, "&#34;")
	filenameCleaner = strings.NewReplacer("/", "_", `\`, "_", ":", "_", "*", "_", "?", "_", `"`, "_", "<", "_", ">", "_", "|", "_", "\n", " ", "\r", " ")
)

// Filename is SKKN_ followed by the first 30 characters of the topic.
func Filename(topic domain.TopicInfo) string {
	title := strings.TrimSpace(filenameCleaner.Replace(topic.ShortTitle(30)))
	if title == "" {
		title = "document"
	}
	return "SKKN_" + title + ".doc"
}
