package document

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"

	"docfields/internal/cfdi"
)

// MediaType is the broad input family a SourceDocument belongs to.
type MediaType string

const (
	MediaUnknown MediaType = ""
	MediaImage   MediaType = "image"
	MediaPDF     MediaType = "pdf"
	MediaXML     MediaType = "xml"
)

// SourceDocument is the immutable input handed to the pipeline.
type SourceDocument struct {
	data      []byte
	filename  string
	declared  string
	mediaType MediaType
}

// NewSourceDocument wraps raw bytes together with the optional filename and
// declared content type. The media type is resolved once, here.
func NewSourceDocument(data []byte, filename, declaredType string) SourceDocument {
	return SourceDocument{
		data:      data,
		filename:  filename,
		declared:  declaredType,
		mediaType: DetectMediaType(data, filename, declaredType),
	}
}

// Bytes returns the payload. Callers must not modify it.
func (d SourceDocument) Bytes() []byte { return d.data }

// Size returns the payload length in bytes.
func (d SourceDocument) Size() int { return len(d.data) }

// Filename returns the name the document was submitted with, if any.
func (d SourceDocument) Filename() string { return d.filename }

// DeclaredType returns the content type supplied by the caller, if any.
func (d SourceDocument) DeclaredType() string { return d.declared }

// MediaType returns the resolved media type.
func (d SourceDocument) MediaType() MediaType { return d.mediaType }

// DetectMediaType resolves the media type from the declared content type,
// then the payload's magic bytes, then the filename extension.
func DetectMediaType(data []byte, filename, declaredType string) MediaType {
	if mt := fromDeclared(declaredType); mt != MediaUnknown {
		return mt
	}
	if mt := sniff(data); mt != MediaUnknown {
		return mt
	}
	return fromExtension(filename)
}

func fromDeclared(declared string) MediaType {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}

	switch {
	case declared == "pdf" || declared == "application/pdf":
		return MediaPDF
	case declared == "xml" || declared == "application/xml" || declared == "text/xml":
		return MediaXML
	case declared == "image" || strings.HasPrefix(declared, "image/"):
		return MediaImage
	default:
		return MediaUnknown
	}
}

func sniff(data []byte) MediaType {
	if len(data) == 0 {
		return MediaUnknown
	}
	trimmed := bytes.TrimLeft(data, "\xef\xbb\xbf \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("%PDF")) {
		return MediaPDF
	}

	contentType := http.DetectContentType(data)
	switch {
	case contentType == "application/pdf":
		return MediaPDF
	case strings.HasPrefix(contentType, "image/"):
		return MediaImage
	case strings.HasPrefix(contentType, "text/xml"):
		return MediaXML
	}

	if bytes.HasPrefix(trimmed, []byte("<")) && cfdi.LooksLikeCFDI(trimmed) {
		return MediaXML
	}
	return MediaUnknown
}

func fromExtension(filename string) MediaType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return MediaPDF
	case ".xml":
		return MediaXML
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return MediaImage
	default:
		return MediaUnknown
	}
}
