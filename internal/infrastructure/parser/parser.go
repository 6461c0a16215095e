package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/avolkov/document-intel-engine/internal/core/domain"
)

// blockedExtensions are rejected before any conversion is attempted.
// Executables and scripts have no business in a document inbox.
var blockedExtensions = map[string]struct{}{
	".exe": {},
	".dll": {},
	".so":  {},
	".bat": {},
	".cmd": {},
	".com": {},
	".scr": {},
	".msi": {},
	".sh":  {},
	".js":  {},
	".jar": {},
}

var (
	pdfMagic = []byte("%PDF")
	zipMagic = []byte("PK\x03\x04")
)

// Parser converts raw document bytes to plain text. Routing is by file
// extension first, then by content sniffing, so a PDF delivered as
// .txt still parses and a binary blob delivered as .txt still gets
// rejected.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, blocked := blockedExtensions[ext]; blocked {
		return "", domain.WrapError(domain.ErrParseFailure, "check file type",
			fmt.Errorf("blocked file extension: %s", ext))
	}
	if len(data) == 0 {
		return "", domain.WrapError(domain.ErrParseFailure, "check file type",
			errors.New("empty document"))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch {
	case ext == ".pdf" || bytes.HasPrefix(data, pdfMagic):
		return p.parsePDF(filename, data)
	case ext == ".xlsx":
		return p.parseXLSX(filename, data)
	case bytes.HasPrefix(data, zipMagic):
		// Office containers other than .xlsx are not supported yet.
		return "", domain.WrapError(domain.ErrParseFailure, "check file type",
			fmt.Errorf("unsupported container format: %s", filename))
	default:
		return p.parsePlaintext(filename, data)
	}
}

func (p *Parser) parsePDF(filename string, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.WrapError(domain.ErrParseFailure, "open pdf",
			fmt.Errorf("%s: %w", filename, err))
	}

	content, err := reader.GetPlainText()
	if err != nil {
		return "", domain.WrapError(domain.ErrParseFailure, "extract pdf text",
			fmt.Errorf("%s: %w", filename, err))
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(content); err != nil {
		return "", domain.WrapError(domain.ErrParseFailure, "read pdf text",
			fmt.Errorf("%s: %w", filename, err))
	}
	return strings.TrimSpace(buf.String()), nil
}

// parseXLSX flattens every sheet row by row, cells joined by single
// spaces, so keyword scoring sees the same text a human reading the
// sheet would.
func (p *Parser) parseXLSX(filename string, data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", domain.WrapError(domain.ErrParseFailure, "open spreadsheet",
			fmt.Errorf("%s: %w", filename, err))
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", domain.WrapError(domain.ErrParseFailure, "read spreadsheet rows",
				fmt.Errorf("%s sheet %s: %w", filename, sheet, err))
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (p *Parser) parsePlaintext(filename string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", domain.WrapError(domain.ErrParseFailure, "decode text",
			fmt.Errorf("unsupported binary format: %s", filename))
	}
	return strings.TrimSpace(string(data)), nil
}
