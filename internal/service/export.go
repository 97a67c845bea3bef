package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// ExportHeader 导出文件的列
var ExportHeader = []string{"User ID", "Username", "Questionnaire", "Question", "Response", "Date"}

func (r ExportRecord) row() []string {
	return []string{
		strconv.FormatInt(r.UserID, 10),
		r.Username,
		r.Questionnaire,
		r.Question,
		r.Response,
		r.Date,
	}
}

// WriteCSV 生成带表头的 CSV
func WriteCSV(records []ExportRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ExportHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := w.Write(r.row()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteXLSX 生成单工作表的 xlsx
func WriteXLSX(records []ExportRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Responses"
	f.SetSheetName("Sheet1", sheet)

	header := make([]interface{}, len(ExportHeader))
	for i, h := range ExportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(ExportHeader), 1)
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return nil, err
	}
	f.SetColWidth(sheet, "A", "B", 15)
	f.SetColWidth(sheet, "C", "E", 40)
	f.SetColWidth(sheet, "F", "F", 20)
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []interface{}{r.UserID, r.Username, r.Questionnaire, r.Question, r.Response, r.Date}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
