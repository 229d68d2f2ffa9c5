package docread

import (
	"encoding/xml"
	"io"
	"strings"
)

// textParagraphs walks an OOXML part and returns the text of each
// paragraph element, with the character runs of its text elements
// concatenated. docx uses w:p/w:t, pptx uses a:p/a:t; only local names
// are matched.
func textParagraphs(r io.Reader, paraLocal, textLocal string) ([]string, error) {
	dec := xml.NewDecoder(r)

	var paragraphs []string
	var cur strings.Builder
	paraDepth := 0
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case paraLocal:
				if paraDepth == 0 {
					cur.Reset()
				}
				paraDepth++
			case textLocal:
				if paraDepth > 0 {
					inText = true
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case paraLocal:
				if paraDepth > 0 {
					paraDepth--
					if paraDepth == 0 {
						paragraphs = append(paragraphs, cur.String())
					}
				}
			case textLocal:
				inText = false
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	return paragraphs, nil
}
