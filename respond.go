package webcore

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const gzipMinBody = 2 << 10 // 2 KiB, §4.8's compression threshold

// writeResponse renders resp onto bw in the exact header order required
// by §4.8, negotiating gzip per the request's Accept-Encoding. keepAlive
// selects the Connection header value. challenge is the WWW-Authenticate
// value for a 401 response, or "" if none applies.
func writeResponse(bw *bufio.Writer, req *Request, resp *Response, serverIdentity string, keepAlive bool, challenge string) error {
	body, gzipped, err := negotiateCompression(resp.Content, resp.gzipped, req.AcceptsGzip, resp.ContentType)
	if err != nil {
		return err
	}

	status := resp.Status()
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, statusPhrase(status))
	fmt.Fprintf(bw, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123))
	fmt.Fprintf(bw, "Server: %s\r\n", serverIdentity)

	if status == 401 && challenge != "" {
		fmt.Fprintf(bw, "WWW-Authenticate: %s\r\n", challenge)
	}

	if resp.CORSEnabled {
		origin := resp.CORSDomain
		if origin == "" {
			origin = "*"
		}
		fmt.Fprintf(bw, "Access-Control-Allow-Origin: %s\r\n", origin)
		if resp.CORSCredentials {
			bw.WriteString("Access-Control-Allow-Credentials: true\r\n")
		}
	}

	for _, h := range resp.ExtraHeaders {
		fmt.Fprintf(bw, "%s: %s\r\n", h[0], h[1])
	}

	for _, c := range resp.cookies {
		bw.WriteString("Set-Cookie: ")
		bw.WriteString(renderCookie(c))
		bw.WriteString("\r\n")
	}

	bw.WriteString("Accept-Ranges: bytes\r\n")

	if keepAlive {
		bw.WriteString("Connection: Keep-Alive\r\n")
	} else {
		bw.WriteString("Connection: close\r\n")
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "text/html"
	}
	fmt.Fprintf(bw, "Content-Type: %s\r\n", contentType)

	if gzipped {
		bw.WriteString("Content-Encoding: gzip\r\n")
	}
	if len(body) > 0 {
		fmt.Fprintf(bw, "Content-Length: %s\r\n", strconv.Itoa(len(body)))
	}
	bw.WriteString("\r\n")

	if len(body) > 0 && status != 204 {
		if _, err := bw.Write(body); err != nil {
			return wrapError(KindIOError, "write response body", err)
		}
	}
	return bw.Flush()
}

func renderCookie(c Cookie) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)
	if c.Path != "" {
		b.WriteString("; Path=" + c.Path)
	} else {
		b.WriteString("; Path=/")
	}
	if c.Domain != "" {
		b.WriteString("; Domain=" + c.Domain)
	}
	if c.MaxAge != 0 {
		b.WriteString("; Max-Age=" + strconv.Itoa(c.MaxAge))
	}
	if c.Expires != "" {
		b.WriteString("; Expires=" + c.Expires)
	}
	if c.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	return b.String()
}

// negotiateCompression applies §4.8's compression rules: decompress a
// pre-zipped body the client can't read, or opportunistically gzip an
// eligible uncompressed body, discarding the attempt if it didn't help.
func negotiateCompression(content []byte, preZipped, clientGzip bool, mimeType string) (body []byte, gzipped bool, err error) {
	if preZipped {
		if clientGzip {
			return content, true, nil
		}
		plain, err := gunzip(content)
		if err != nil {
			return nil, false, wrapError(KindCompressionError, "decompress pre-zipped content", err)
		}
		return plain, false, nil
	}

	if !clientGzip || len(content) <= gzipMinBody || !compressibleMIME(mimeType) {
		return content, false, nil
	}

	compressed, err := gzipBytes(content)
	if err != nil {
		return content, false, nil // compression is opportunistic; fall back silently
	}
	if len(compressed) >= len(content) {
		return content, false, nil
	}
	return compressed, true, nil
}

func compressibleMIME(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") || strings.HasPrefix(mimeType, "application/")
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
