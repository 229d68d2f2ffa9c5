// Package docread projects office documents to plain text for
// prompting and validation. Projections are lossy on purpose: they
// carry the visible text, not formatting.
package docread

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// ErrNotFound marks a document path that does not exist. Callers treat
// it differently from a file that exists but cannot be parsed.
var ErrNotFound = errors.New("document not found")

// UnreadableError wraps a parser failure on an existing file. Callers
// skip content validation when they see it instead of failing the
// request.
type UnreadableError struct {
	Path string
	Err  error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("could not read %s file: %v", strings.ToLower(filepath.Ext(e.Path)), e.Err)
}

func (e *UnreadableError) Unwrap() error { return e.Err }

// IsUnreadable reports whether err is a parser failure rather than a
// missing file or I/O problem.
func IsUnreadable(err error) bool {
	var ue *UnreadableError
	return errors.As(err, &ue)
}

// ReadContent extracts the text of the document at path. Zero-byte
// office files return a sentinel string so downstream prompts know the
// document is awaiting content creation.
func ReadContent(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", err
	}
	if info.IsDir() {
		return "", &UnreadableError{Path: path, Err: errors.New("is a directory")}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		if info.Size() == 0 {
			return "Empty Word file - ready for content creation", nil
		}
		return readDocx(path)
	case ".xlsx", ".xlsm", ".xls":
		if info.Size() == 0 {
			return "Empty Excel file - ready for content creation", nil
		}
		return readXlsx(path)
	case ".pptx", ".ppt":
		if info.Size() == 0 {
			return "Empty PowerPoint file - ready for content creation", nil
		}
		return readPptx(path)
	default:
		return readText(path)
	}
}

// Truncate caps a projection for prompting. max <= 0 means no cap.
func Truncate(content string, max int) string {
	if max <= 0 || len(content) <= max {
		return content
	}
	return content[:max] + "\n... [content truncated]"
}

// MIMEType reports the media type for a document path by extension.
func MIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx", ".xlsm":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md", ".csv":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func readDocx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", &UnreadableError{Path: path, Err: err}
	}
	defer zr.Close()

	var docXML *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML = f
			break
		}
	}
	if docXML == nil {
		return "", &UnreadableError{Path: path, Err: errors.New("word/document.xml missing")}
	}

	rc, err := docXML.Open()
	if err != nil {
		return "", &UnreadableError{Path: path, Err: err}
	}
	defer rc.Close()

	paragraphs, err := textParagraphs(rc, "p", "t")
	if err != nil {
		return "", &UnreadableError{Path: path, Err: err}
	}

	var lines []string
	for _, p := range paragraphs {
		if strings.TrimSpace(p) != "" {
			lines = append(lines, p)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func readXlsx(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", &UnreadableError{Path: path, Err: err}
	}
	defer f.Close()

	var b strings.Builder
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", &UnreadableError{Path: path, Err: err}
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Sheet: " + sheet + "\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t") + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func readPptx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", &UnreadableError{Path: path, Err: err}
	}
	defer zr.Close()

	type slideFile struct {
		num  int
		file *zip.File
	}
	var slides []slideFile
	for _, f := range zr.File {
		m := slideNameRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slides = append(slides, slideFile{num: n, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var lines []string
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", &UnreadableError{Path: path, Err: err}
		}
		paragraphs, perr := textParagraphs(rc, "p", "t")
		rc.Close()
		if perr != nil {
			return "", &UnreadableError{Path: path, Err: perr}
		}

		lines = append(lines, fmt.Sprintf("Slide %d:", s.num))
		for _, p := range paragraphs {
			if strings.TrimSpace(p) != "" {
				lines = append(lines, "  "+p)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	// Latin-1 fallback: every byte maps to the rune of the same value.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), nil
}
