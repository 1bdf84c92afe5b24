package webcore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// multipartState is the streaming state machine from §4.5, grounded on
// libnavajo's MPFDParser (Status_LookingForStartingBoundary /
// Status_ProcessingHeaders / Status_ProcessingContentOfTheField).
type multipartState uint8

const (
	mpLookingForBoundary multipartState = iota
	mpProcessingHeaders
	mpProcessingContent
)

// MultipartField is one form-data field, either text or a spooled file
// (§4.5, libnavajo MPFD::Field).
type MultipartField struct {
	Name        string
	IsFile      bool
	FileName    string
	FileMIME    string
	textContent bytes.Buffer

	tempPath string
	tempFile *os.File
}

// TextContent returns the accumulated text content of a non-file
// field (including the synthesized "name[]" history field).
func (f *MultipartField) TextContent() string {
	return f.textContent.String()
}

// TempFilePath returns the on-disk spool path of a file field.
func (f *MultipartField) TempFilePath() string {
	return f.tempPath
}

func (f *MultipartField) acceptData(data []byte) error {
	if f.IsFile {
		if f.tempFile == nil {
			return newError(KindMultipartError, "file field has no open temp file")
		}
		_, err := f.tempFile.Write(data)
		return err
	}
	f.textContent.Write(data)
	return nil
}

func (f *MultipartField) close() {
	if f.tempFile != nil {
		f.tempFile.Close()
		f.tempFile = nil
	}
}

var tempNameSeq atomic.Int64
var tempNameMu sync.Mutex

// allocTempFile creates a uniquely named MPFD_Temp_<N> file under dir,
// serialising allocation on a mutex (§4.5).
func allocTempFile(dir string) (*os.File, string, error) {
	tempNameMu.Lock()
	defer tempNameMu.Unlock()
	for {
		n := tempNameSeq.Add(1)
		name := fmt.Sprintf("MPFD_Temp_%d", n)
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}
}

// MultipartParser is a streaming state machine over buffered request
// bytes, spooling file parts to a temp directory (§4.5).
type MultipartParser struct {
	boundary []byte
	tempDir  string
	maxBytes int64

	buf   bytes.Buffer
	state multipartState

	fields           map[string]*MultipartField
	order            []string
	processingName   string
}

// NewMultipartParser creates a parser for the given Content-Type
// header value. tempDir is where file fields are spooled; maxBytes
// bounds the internal buffer (§4.5 default 16 MiB).
func NewMultipartParser(contentType, tempDir string, maxBytes int64) (*MultipartParser, error) {
	boundaryToken := multipartBoundary(contentType)
	if boundaryToken == "" {
		return nil, newError(KindMultipartError, "missing boundary in Content-Type")
	}
	return &MultipartParser{
		boundary: []byte("--" + boundaryToken),
		tempDir:  tempDir,
		maxBytes: maxBytes,
		fields:   make(map[string]*MultipartField),
	}, nil
}

// Field returns the parsed field by name, or nil if not (yet) seen.
func (p *MultipartParser) Field(name string) *MultipartField {
	return p.fields[name]
}

// Fields returns all fields in first-seen order.
func (p *MultipartParser) Fields() []*MultipartField {
	out := make([]*MultipartField, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.fields[name])
	}
	return out
}

// Close releases all spooled temp files, used on a failed/aborted
// upload (§8 "deletes any partially spooled file").
func (p *MultipartParser) Close() {
	for _, f := range p.fields {
		f.close()
		if f.IsFile && f.tempPath != "" {
			os.Remove(f.tempPath)
		}
	}
}

// Write feeds len(data) more bytes of request body into the parser
// (§4.5). It may process several state transitions per call.
func (p *MultipartParser) Write(data []byte) error {
	p.buf.Write(data)
	if int64(p.buf.Len()) > p.maxBytes {
		p.Close()
		return newError(KindMultipartError, "multipart data exceeds configured maximum")
	}
	for {
		progressed, err := p.step()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (p *MultipartParser) step() (bool, error) {
	switch p.state {
	case mpLookingForBoundary:
		return p.findStartingBoundary(), nil
	case mpProcessingHeaders:
		return p.waitForHeaders()
	case mpProcessingContent:
		return p.processContent()
	default:
		return false, nil
	}
}

func (p *MultipartParser) findStartingBoundary() bool {
	b := p.buf.Bytes()
	idx := bytes.Index(b, p.boundary)
	if idx < 0 {
		return false
	}
	p.truncateFromBeginning(idx + len(p.boundary))
	p.state = mpProcessingHeaders
	return true
}

func (p *MultipartParser) truncateFromBeginning(n int) {
	remaining := p.buf.Bytes()[n:]
	kept := append([]byte(nil), remaining...)
	p.buf.Reset()
	p.buf.Write(kept)
}

func (p *MultipartParser) waitForHeaders() (bool, error) {
	b := p.buf.Bytes()
	idx := bytes.Index(b, []byte("\r\n\r\n"))
	if idx < 0 {
		return false, nil
	}
	headers := string(b[:idx])
	if err := p.parseFieldHeaders(headers); err != nil {
		return false, err
	}
	p.truncateFromBeginning(idx + 4)
	p.state = mpProcessingContent
	return true, nil
}

func (p *MultipartParser) parseFieldHeaders(headers string) error {
	if !strings.Contains(headers, "Content-Disposition: form-data") {
		return newError(KindMultipartError, "part missing Content-Disposition: form-data")
	}
	name, ok := extractQuoted(headers, "name=\"")
	if !ok {
		return newError(KindMultipartError, "part missing name=")
	}

	field := &MultipartField{Name: name}
	if fileName, hasFile := extractQuoted(headers, "filename=\""); hasFile {
		field.IsFile = true
		field.FileName = fileName
		if ct, ok := extractHeaderToken(headers, "Content-Type: "); ok {
			field.FileMIME = ct
		}
		f, path, err := allocTempFile(p.tempDir)
		if err != nil {
			return wrapError(KindMultipartError, "allocate temp file", err)
		}
		field.tempFile = f
		field.tempPath = path
	}

	// Duplicate-field rule mirrors §4.4: a second occurrence of the same
	// name grows a "name[]" joined-history field (libnavajo: Campos
	// duplicados), seeded with the prior occurrence's content so the
	// history isn't missing its first value (request.go's addParam seeds
	// the same way from the old param value).
	if prior, exists := p.fields[name]; exists {
		listName := name + "[]"
		if _, hasList := p.fields[listName]; !hasList {
			seed := &MultipartField{Name: listName}
			if !prior.IsFile {
				seed.textContent.WriteString(prior.TextContent())
			}
			p.fields[listName] = seed
			p.order = append(p.order, listName)
		}
	} else {
		p.order = append(p.order, name)
	}

	p.fields[name] = field
	p.processingName = name
	return nil
}

func extractQuoted(s, prefix string) (string, bool) {
	idx := strings.Index(s, prefix)
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(prefix):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

func extractHeaderToken(s, prefix string) (string, bool) {
	idx := strings.Index(s, prefix)
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(prefix):]
	end := strings.IndexAny(rest, " \r\n")
	if end < 0 {
		end = len(rest)
	}
	return rest[:end], true
}

func (p *MultipartParser) processContent() (bool, error) {
	b := p.buf.Bytes()
	boundaryPos := bytes.Index(b, p.boundary)

	var dataLen int
	if boundaryPos >= 0 {
		dataLen = boundaryPos - 2 // reserve the CRLF before the boundary (§4.5)
	} else {
		dataLen = len(b) - (len(p.boundary) + 2)
	}

	if dataLen > 0 {
		field := p.fields[p.processingName]
		chunk := b[:dataLen]
		if err := field.acceptData(chunk); err != nil {
			return false, wrapError(KindMultipartError, "write field content", err)
		}
		p.truncateFromBeginning(dataLen)
	}

	if boundaryPos >= 0 {
		field := p.fields[p.processingName]
		field.close()
		// Duplicate-field rule mirrors §4.4: once this occurrence of the
		// field is complete, fold it into the "name[]" joined history.
		if listField, ok := p.fields[p.processingName+"[]"]; ok && !field.IsFile {
			if listField.textContent.Len() > 0 {
				listField.textContent.WriteByte('|')
			}
			listField.textContent.WriteString(field.TextContent())
		}
		p.state = mpLookingForBoundary
		return true, nil
	}
	return false, nil
}
