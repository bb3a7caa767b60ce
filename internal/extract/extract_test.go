package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/54b3r/ragctx-go/internal/errkind"
)

func Test_Extract_PlainText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []byte
		ext  string
		want string
	}{
		{name: "txt", in: []byte("Hello\nworld"), ext: ".txt", want: "Hello\nworld"},
		{name: "markdown upper-case ext", in: []byte("# Title"), ext: ".MD", want: "# Title"},
		{name: "invalid utf8", in: []byte("caf\x80e"), ext: ".txt", want: "caf�e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Bytes(tt.in, tt.ext)
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func Test_Extract_Unsupported(t *testing.T) {
	t.Parallel()
	_, err := Bytes([]byte("x"), ".exe")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
	if errkind.Of(err) != errkind.Input {
		t.Errorf("kind = %q, want input", errkind.Of(err))
	}
	if Supported("report.doc") {
		t.Error("legacy .doc reported as supported")
	}
	if !Supported("Report.PDF") {
		t.Error(".PDF not supported")
	}
}

func Test_Extract_XLSX(t *testing.T) {
	t.Parallel()
	f := excelize.NewFile()
	defer f.Close()
	_ = f.SetCellValue("Sheet1", "A1", "Unit")
	_ = f.SetCellValue("Sheet1", "B1", "Owner")
	_ = f.SetCellValue("Sheet1", "A2", "169")
	_ = f.SetCellValue("Sheet1", "B2", "Silva")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := Bytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := "Sheet: Sheet1\nUnit\tOwner\n169\tSilva"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	ct, _ := zw.Create("[Content_Types].xml")
	_, _ = ct.Write([]byte(`<?xml version="1.0"?><Types><Override PartName="/word/document.xml" ContentType="` + docxMainType + `"/></Types>`))
	doc, _ := zw.Create("word/document.xml")
	_, _ = doc.Write([]byte(`<w:document><w:body>` + body + `</w:body></w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func Test_Extract_DOCX(t *testing.T) {
	t.Parallel()
	body := `<w:p w:rsidR="00A1"><w:r><w:t>Meeting </w:t></w:r><w:r><w:t xml:space="preserve">minutes</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Budget &amp; plan</w:t></w:r></w:p>` +
		`<w:p></w:p>`
	got, err := Bytes(buildDOCX(t, body), ".docx")
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if want := "Meeting minutes\nBudget & plan"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func Test_Extract_DOCXNotZip(t *testing.T) {
	t.Parallel()
	_, err := Bytes([]byte("plain"), ".docx")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
	if errkind.Of(err) != errkind.Input {
		t.Errorf("kind = %q, want input", errkind.Of(err))
	}
}

func Test_Extract_FileMissing(t *testing.T) {
	t.Parallel()
	_, err := File(filepath.Join(t.TempDir(), "nope.txt"))
	if errkind.Of(err) != errkind.NotFound {
		t.Errorf("kind = %q, want not_found (err=%v)", errkind.Of(err), err)
	}
}

func Test_Extract_File(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(p, []byte("# Notes\nbody"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := File(p)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if got != "# Notes\nbody" {
		t.Errorf("got %q", got)
	}
}
