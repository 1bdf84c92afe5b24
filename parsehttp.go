package webcore

import (
	"bufio"
	"strconv"
	"strings"
)

const maxHeaderLine = 32 << 10 // 32 KiB hard cap per line (§4.3 step 2)

// readLine reads one CRLF- or LF-terminated line from br, stripping the
// terminator, and enforcing the 32 KiB per-line cap.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > maxHeaderLine {
		return "", newError(KindParseError, "header line exceeds 32KiB")
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// requestLine is the parsed "METHOD URL HTTP/x.y" line.
type requestLine struct {
	Method      Method
	RawURL      string
	HTTPVersion string
}

// parseRequestLine parses the request line (§4.3 step 2, "Request
// line"). An unrecognized method yields KindUnsupportedMethod, per §4.3
// ("respond 501 Method Not Implemented and close").
func parseRequestLine(line string) (requestLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return requestLine{}, newError(KindParseError, "malformed request line")
	}
	method, ok := methodNames[parts[0]]
	if !ok {
		return requestLine{}, newError(KindUnsupportedMethod, "method "+parts[0]+" is not implemented")
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return requestLine{}, newError(KindParseError, "malformed HTTP version")
	}
	return requestLine{Method: method, RawURL: parts[1], HTTPVersion: parts[2]}, nil
}

// splitURL separates the path and query components of a raw request
// target on the first '?'.
func splitURL(raw string) (path, query string) {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return raw, ""
}

// stripLeadingSlashes removes leading '/' characters, per §3's
// definition of a request URL and §4.7's alias-relative repository
// lookup.
func stripLeadingSlashes(path string) string {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	return path[i:]
}

// finalizeURL applies §4.3 step 4 (append index.html on an empty or
// slash-terminated path, then percent-decode) and stores the decoded
// query string into req.params.
func finalizeURL(req *Request, rawTarget string) {
	rawPath, rawQuery := splitURL(rawTarget)
	if rawPath == "" || strings.HasSuffix(rawPath, "/") {
		rawPath += "index.html"
	}
	req.URL = stripLeadingSlashes(decodeURLComponent(rawPath))
	parseParams(req, rawQuery)
}

// headerParseState carries the per-connection scratch needed while
// walking one header block (§4.3 step 2).
type headerParseState struct {
	gotContentLength bool
}

// applyHeaderLine dispatches a single "Name: value" header line into
// req, per the supported-header list in §4.3 step 2. Header names are
// matched case-insensitively.
func applyHeaderLine(req *Request, st *headerParseState, line string) error {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return newError(KindParseError, "malformed header line")
	}
	name := strings.TrimSpace(line[:colon])
	value := strings.TrimSpace(line[colon+1:])
	lname := strings.ToLower(name)

	switch lname {
	case "authorization":
		req.AuthorizationHeader = value
	case "connection":
		for _, tok := range strings.Split(value, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			switch tok {
			case "upgrade":
				req.WantsUpgrade = true
			case "close":
				f := false
				req.KeepAlive = &f
			case "keep-alive":
				t := true
				req.KeepAlive = &t
			}
		}
	case "accept-encoding":
		if strings.Contains(strings.ToLower(value), "gzip") {
			req.AcceptsGzip = true
		}
	case "content-type":
		req.ContentType = value
		lower := strings.ToLower(value)
		if strings.HasPrefix(lower, "application/x-www-form-urlencoded") {
			req.IsURLEncodedForm = true
		} else if strings.HasPrefix(lower, "multipart/form-data") {
			req.IsMultipartForm = true
		}
		req.MIMEType = value
	case "content-length":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return newError(KindParseError, "malformed Content-Length")
		}
		req.ContentLength = n
		st.gotContentLength = true
	case "cookie":
		parseCookies(req, value)
	case "origin":
		req.Origin = value
	case "sec-websocket-key":
		req.SecWebSocketKey = value
	case "sec-websocket-extensions":
		req.SecWebSocketExtensions = value
	case "sec-websocket-version":
		req.SecWebSocketVersion = value
	default:
		req.setHeader(name, value)
	}
	return nil
}

// multipartBoundary extracts the boundary= token from a multipart
// Content-Type header value (§4.5).
func multipartBoundary(contentType string) string {
	idx := strings.Index(strings.ToLower(contentType), "boundary=")
	if idx < 0 {
		return ""
	}
	b := contentType[idx+len("boundary="):]
	if semi := strings.IndexByte(b, ';'); semi >= 0 {
		b = b[:semi]
	}
	b = strings.TrimSpace(b)
	b = strings.Trim(b, `"`)
	return b
}
