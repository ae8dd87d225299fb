package importer

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/layercake/layercake/pkg/model"
)

// ODS (OpenDocument Spreadsheet) is a zip of XML parts; content.xml
// holds the sheets. No pack or common ecosystem ODS library exists
// (unlike XLSX's excelize), so this reads the OASIS table schema
// directly with stdlib archive/zip + encoding/xml.
type odsDocument struct {
	Body odsBody `xml:"body"`
}

type odsBody struct {
	Spreadsheet odsSpreadsheet `xml:"spreadsheet"`
}

type odsSpreadsheet struct {
	Tables []odsTable `xml:"table"`
}

type odsTable struct {
	Name string   `xml:"name,attr"`
	Rows []odsRow `xml:"table-row"`
}

type odsRow struct {
	Cells []odsCell `xml:"table-cell"`
}

type odsCell struct {
	Text []string `xml:"p"`
}

func (c odsCell) value() string {
	if len(c.Text) == 0 {
		return ""
	}
	return c.Text[0]
}

// ImportODS parses an ODS workbook the same way ImportXLSX parses
// XLSX: one sheet per dataset, first row is the header.
func ImportODS(data []byte, sheetName string, dataType model.DataType) (Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, apperr.Validationf("failed to open ODS archive: %v", err)
	}

	var contentXML []byte
	for _, f := range zr.File {
		if f.Name != "content.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Result{}, apperr.Validationf("failed to open content.xml: %v", err)
		}
		contentXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Result{}, apperr.Validationf("failed to read content.xml: %v", err)
		}
		break
	}
	if contentXML == nil {
		return Result{}, apperr.Validationf("ODS archive missing content.xml")
	}

	var doc odsDocument
	if err := xml.Unmarshal(contentXML, &doc); err != nil {
		return Result{}, apperr.Validationf("failed to parse ODS content.xml: %v", err)
	}

	var table *odsTable
	for i := range doc.Body.Spreadsheet.Tables {
		if doc.Body.Spreadsheet.Tables[i].Name == sheetName {
			table = &doc.Body.Spreadsheet.Tables[i]
			break
		}
	}
	if table == nil {
		return Result{}, apperr.Validationf("sheet %q not found in ODS workbook", sheetName)
	}
	if len(table.Rows) == 0 {
		return Result{}, apperr.Validationf("sheet %q has no header row", sheetName)
	}

	header := rowStrings(table.Rows[0])
	var out Result
	for _, row := range table.Rows[1:] {
		values := rowStrings(row)
		if isBlankRow(values) {
			continue
		}
		switch dataType {
		case model.DataTypeEdges:
			out.Edges = append(out.Edges, rowToEdge(header, values))
		default:
			out.Nodes = append(out.Nodes, rowToNode(header, values))
		}
	}
	if err := out.verify(); err != nil {
		return Result{}, err
	}
	return out, nil
}

func rowStrings(row odsRow) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.value()
	}
	return out
}
