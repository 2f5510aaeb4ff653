package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/models"
)

// Parser turns a source document into pages of plain text.
type Parser interface {
	Parse(filePath string) ([]models.DocumentPage, error)
}

// FileParser dispatches on the file extension.
type FileParser struct{}

// SupportedExtensions lists the formats ParseFile accepts.
var SupportedExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm", ".txt", ".md"}

func (FileParser) Parse(filePath string) ([]models.DocumentPage, error) {
	return ParseFile(filePath)
}

// ParseFile reads filePath and returns its non-empty pages in order.
func ParseFile(filePath string) ([]models.DocumentPage, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	var (
		pages []models.DocumentPage
		err   error
	)
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".pptx":
		pages, err = parsePPTX(filePath)
	case ".xlsx":
		pages, err = parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		pages, err = parseExcelize(filePath)
	case ".txt", ".md":
		pages, err = parseText(filePath)
	default:
		return nil, apperr.InvalidRequest(fmt.Sprintf("unsupported file format: %s", ext))
	}
	if err != nil {
		return nil, apperr.Parse("parse "+filepath.Base(filePath), err)
	}
	return pages, nil
}

func parsePDF(filePath string) ([]models.DocumentPage, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.DocumentPage
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %v", i, err)
		}
		pages = appendPage(pages, i, fmt.Sprintf("Page %d", i), pageText)
	}
	return pages, nil
}

// parseDOCX returns the whole document as one page; DOCX has no page breaks
// in its content stream.
func parseDOCX(filePath string) ([]models.DocumentPage, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var paragraphs []string
	for _, p := range strings.Split(stripXML(r.Editable().GetContent()), "\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return appendPage(nil, 1, "Document", strings.Join(paragraphs, "\n\n")), nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func parsePPTX(filePath string) ([]models.DocumentPage, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideName.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var pages []models.DocumentPage
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		pages = appendPage(pages, s.num, fmt.Sprintf("Slide %d", s.num), extractTextFromXML(string(data)))
	}
	return pages, nil
}

func parseXLSX(filePath string) ([]models.DocumentPage, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []models.DocumentPage
	for i, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			var cells []string
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = appendPage(pages, i+1, sheet.Name, sheetText(rows))
	}
	return pages, nil
}

// parseExcelize handles the macro-enabled and template workbook variants.
func parseExcelize(filePath string) ([]models.DocumentPage, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.DocumentPage
	for i, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %v", name, err)
		}
		pages = appendPage(pages, i+1, name, sheetText(rows))
	}
	return pages, nil
}

func parseText(filePath string) ([]models.DocumentPage, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return appendPage(nil, 1, "Document", string(data)), nil
}

func appendPage(pages []models.DocumentPage, number int, label, content string) []models.DocumentPage {
	content = strings.TrimSpace(content)
	if content == "" {
		return pages
	}
	return append(pages, models.DocumentPage{Number: number, Label: label, Content: content})
}

func sheetText(rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t")
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		endIdx := strings.Index(part, "</a:t>")
		if endIdx >= 0 {
			text.WriteString(part[:endIdx] + " ")
		}
	}
	return text.String()
}

var (
	paragraphEnd = regexp.MustCompile(`</w:p>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
)

// stripXML reduces WordprocessingML to text with one paragraph per line.
func stripXML(s string) string {
	s = paragraphEnd.ReplaceAllString(s, "\n")
	return xmlTag.ReplaceAllString(s, "")
}
