package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultBody  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// docxParagraph matches one <w:p> element, with or without attributes.
	docxParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	// docxRun matches the text of one <w:t> run.
	docxRun = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	// docxOverride finds the main document part in [Content_Types].xml.
	docxOverride = regexp.MustCompile(`<Override[^>]*>`)
	docxPartName = regexp.MustCompile(`PartName="([^"]+)"`)
)

// docxText extracts paragraph text from an OOXML word document. Runs within
// a paragraph are concatenated; paragraphs are separated by newlines so the
// splitter can use them as boundaries.
func docxText(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("docx is not a zip archive: %w", err)
	}

	body := docxDefaultBody
	if ct, err := readZipEntry(zr, docxContentTypes); err == nil {
		if p := docxMainPart(ct); p != "" {
			body = p
		}
	}
	doc, err := readZipEntry(zr, body)
	if err != nil {
		return "", fmt.Errorf("docx: %w", err)
	}

	var paras []string
	for _, p := range docxParagraph.FindAllString(string(doc), -1) {
		var b strings.Builder
		for _, m := range docxRun.FindAllStringSubmatch(p, -1) {
			b.WriteString(m[1])
		}
		if s := strings.TrimSpace(html.UnescapeString(b.String())); s != "" {
			paras = append(paras, s)
		}
	}
	return strings.Join(paras, "\n"), nil
}

// docxMainPart returns the main document part named in [Content_Types].xml,
// without its leading slash.
func docxMainPart(contentTypes []byte) string {
	for _, o := range docxOverride.FindAllString(string(contentTypes), -1) {
		if !strings.Contains(o, `ContentType="`+docxMainType+`"`) {
			continue
		}
		if m := docxPartName.FindStringSubmatch(o); m != nil {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return ""
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}
