package document

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
)

// kerningSpace is the TJ displacement, in thousandths of an em, treated as a word gap.
const kerningSpace = -200

// textLayers returns the embedded text of every page that has any, keyed by 1-based page number.
func textLayers(data []byte) (texts map[int]string, err error) {
	// The reader panics on structures it does not support.
	defer func() {
		if r := recover(); r != nil {
			texts, err = nil, fmt.Errorf("reading text layer: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading text layer: %w", err)
	}

	texts = make(map[int]string)
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		if text := pageText(page); text != "" {
			texts[i] = text
		}
	}
	return texts, nil
}

// lineWriter joins shown strings into lines, breaking whenever the text
// origin moves vertically.
type lineWriter struct {
	buf     strings.Builder
	y       float64
	shownY  float64
	shown   bool
	pending bool
	force   bool
}

func (w *lineWriter) moveTo(y float64) {
	w.y = y
	w.pending = true
}

// newline moves to y and always starts a new line, even when y is unchanged.
func (w *lineWriter) newline(y float64) {
	w.y = y
	w.pending = true
	w.force = true
}

func (w *lineWriter) space() {
	if w.buf.Len() == 0 {
		return
	}
	s := w.buf.String()
	if last := s[len(s)-1]; last != ' ' && last != '\n' {
		w.buf.WriteByte(' ')
	}
}

func (w *lineWriter) show(s string) {
	if s == "" {
		return
	}
	if w.pending && w.shown {
		if w.force || math.Abs(w.y-w.shownY) > 1 {
			w.buf.WriteByte('\n')
		} else {
			w.space()
		}
	}
	w.pending, w.force = false, false
	w.buf.WriteString(s)
	w.shown = true
	w.shownY = w.y
}

func (w *lineWriter) String() string {
	lines := strings.Split(w.buf.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func pageText(page pdf.Page) string {
	encoders := make(map[string]pdf.TextEncoding)
	for _, name := range page.Fonts() {
		encoders[name] = page.Font(name).Encoder()
	}

	var (
		w       lineWriter
		enc     pdf.TextEncoding
		lineY   float64
		leading float64
	)
	decode := func(v pdf.Value) string {
		if enc == nil {
			return v.RawString()
		}
		return enc.Decode(v.RawString())
	}

	interpret := func(strm pdf.Value) {
		pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
			n := stk.Len()
			args := make([]pdf.Value, n)
			for i := n - 1; i >= 0; i-- {
				args[i] = stk.Pop()
			}

			switch op {
			case "BT":
				lineY = 0
				w.moveTo(lineY)
			case "Tf":
				if n == 2 {
					enc = encoders[args[0].Name()]
				}
			case "TL":
				if n == 1 {
					leading = args[0].Float64()
				}
			case "Td", "TD":
				if n == 2 {
					lineY += args[1].Float64()
					if op == "TD" {
						leading = -args[1].Float64()
					}
					w.moveTo(lineY)
				}
			case "Tm":
				if n == 6 {
					lineY = args[5].Float64()
					w.moveTo(lineY)
				}
			case "T*":
				lineY -= leading
				w.newline(lineY)
			case "'":
				if n == 1 {
					lineY -= leading
					w.newline(lineY)
					w.show(decode(args[0]))
				}
			case "\"":
				if n == 3 {
					lineY -= leading
					w.newline(lineY)
					w.show(decode(args[2]))
				}
			case "Tj":
				if n == 1 {
					w.show(decode(args[0]))
				}
			case "TJ":
				if n != 1 {
					return
				}
				arr := args[0]
				for i := 0; i < arr.Len(); i++ {
					item := arr.Index(i)
					switch item.Kind() {
					case pdf.String:
						w.show(decode(item))
					case pdf.Integer, pdf.Real:
						if item.Float64() < kerningSpace {
							w.space()
						}
					}
				}
			}
		})
	}

	contents := page.V.Key("Contents")
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			interpret(contents.Index(i))
		}
	} else {
		interpret(contents)
	}

	return w.String()
}
