package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/vrtgate/internal/rules"
)

const qrImageName = "digest-qr"

// SaveAcceptancePDF renders the scanned file summary and acceptance report
// into a PDF document. The file digest is printed with a QR code of it.
func SaveAcceptancePDF(fs FileSummary, rep rules.AcceptanceReport, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("VRT Acceptance Report", false)
	pdf.SetAuthor("vrtctl", false)
	pdf.SetCreator("vrtctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "VRT Acceptance Report")
	if err := addFileSection(pdf, fs); err != nil {
		return err
	}
	addSummarySection(pdf, rep)
	addGateMatrixSection(pdf, rep.GateMatrix)
	addFindingsSection(pdf, rep.Findings)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addFileSection(pdf *gofpdf.Fpdf, fs FileSummary) error {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Capture")
	pdf.Ln(8)

	top := pdf.GetY()
	if fs.SHA256 != "" {
		png, err := DigestToQR(fs.SHA256, 256)
		if err != nil {
			return err
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
		pageW, _ := pdf.GetPageSize()
		_, _, right, _ := pdf.GetMargins()
		pdf.ImageOptions(qrImageName, pageW-right-32, top, 32, 32, false, opts, 0, "")
	}

	streams := make([]string, len(fs.Streams))
	for i, s := range fs.Streams {
		streams[i] = fmt.Sprintf("0x%08X", s)
	}
	var types []string
	for _, name := range fs.typeNames() {
		types = append(types, fmt.Sprintf("%s %d", name, fs.ByType[name]))
	}
	items := []struct {
		label string
		value string
	}{
		{label: "File", value: fs.File},
		{label: "Size", value: fmt.Sprintf("%d bytes", fs.Size)},
		{label: "Packets", value: strconv.Itoa(fs.Packets)},
		{label: "Streams", value: emptyFallback(strings.Join(streams, ", "), "-")},
		{label: "Packet Types", value: emptyFallback(strings.Join(types, ", "), "-")},
		{label: "Scan Time", value: fs.Duration.Round(time.Millisecond).String()},
	}
	pdf.SetFont("Helvetica", "", 11)
	for _, item := range items {
		pdf.CellFormat(35, 6, item.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(110, 6, item.value, "", "L", false)
	}
	pdf.SetFont("Courier", "", 8)
	pdf.CellFormat(35, 5, "SHA-256", "", 0, "L", false, 0, "")
	pdf.MultiCell(110, 5, emptyFallback(fs.SHA256, "-"), "", "L", false)
	if y := top + 34; pdf.GetY() < y {
		pdf.SetY(y)
	}
	pdf.Ln(4)
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, rep rules.AcceptanceReport) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Total Findings", value: strconv.Itoa(rep.Summary.Total)},
		{label: "Errors", value: strconv.Itoa(rep.Summary.Errors)},
		{label: "Warnings", value: strconv.Itoa(rep.Summary.Warnings)},
		{label: "Overall", value: passLabel(rep.Summary.Pass)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addGateMatrixSection(pdf *gofpdf.Fpdf, rows []map[string]any) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Gate Matrix")
	pdf.Ln(9)

	headers := []string{"Rule", "Check", "Severity", "Errors", "Warnings", "Pass"}
	widths := []float64{30, 52, 22, 22, 22, 22}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		pass, _ := row["pass"].(bool)
		values := []string{
			cellString(row["ruleId"]),
			cellString(row["check"]),
			cellString(row["severity"]),
			cellString(row["errors"]),
			cellString(row["warnings"]),
			passLabel(pass),
		}
		renderTableRow(pdf, widths, values, 5)
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, findings []rules.Diagnostic) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Findings")
	pdf.Ln(9)

	shown := 0
	for _, d := range findings {
		if d.Severity == rules.INFO {
			continue
		}
		shown++
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. %s (%s)", shown, d.RuleId, severityLabel(d.Severity))
		pdf.MultiCell(0, 5, header, "", "L", false)

		if msg := strings.TrimSpace(d.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}
		if meta := findingMetadata(d); meta != "" {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, meta, "", "L", false)
		}
		if len(d.Refs) > 0 {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, "Refs: "+strings.Join(d.Refs, ", "), "", "L", false)
		}
		pdf.Ln(2)
	}
	if shown == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No errors or warnings recorded.", "", "L", false)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := emptyFallback(strings.TrimSpace(val), "-")
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	switch x := v.(type) {
	case float64:
		// Gate rows read back from JSON carry numbers as float64.
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func severityLabel(sev rules.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func findingMetadata(d rules.Diagnostic) string {
	parts := make([]string, 0, 6)
	if !d.Ts.IsZero() {
		parts = append(parts, d.Ts.Format(time.RFC3339))
	}
	if d.StreamId != "" {
		parts = append(parts, "Stream "+d.StreamId)
	}
	if d.PacketIndex != nil {
		parts = append(parts, fmt.Sprintf("Packet %d", *d.PacketIndex))
	}
	if d.Offset != "" {
		parts = append(parts, "Offset "+d.Offset)
	}
	if d.TimestampPs != nil {
		parts = append(parts, fmt.Sprintf("Timestamp %d ps", *d.TimestampPs))
	}
	if d.TimestampSource != nil && *d.TimestampSource != "" {
		parts = append(parts, "Source "+*d.TimestampSource)
	}
	return strings.Join(parts, " | ")
}
