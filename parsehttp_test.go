package webcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateParamsJoinHistory(t *testing.T) {
	req := newRequest()
	parseParams(req, "k=a&k=b&k=c")
	assert.Equal(t, "c", req.Param("k"))
	assert.Equal(t, "a|b|c", req.Param("k[]"))
}

func TestDecodeURLComponent(t *testing.T) {
	assert.Equal(t, "hello world", decodeURLComponent("hello+world"))
	assert.Equal(t, "a%b", decodeURLComponent("a%%b"))
	assert.Equal(t, "a=b", decodeURLComponent("a%3Db"))
	assert.Equal(t, "trailing%", decodeURLComponent("trailing%"))
}

func TestFinalizeURLAppendsIndexOnTrailingSlash(t *testing.T) {
	req := newRequest()
	finalizeURL(req, "/a/")
	assert.Equal(t, "a/index.html", req.URL)
}

func TestParseRequestLineUnknownMethod(t *testing.T) {
	_, err := parseRequestLine("FOO /x HTTP/1.1")
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindUnsupportedMethod, e.Kind)
}

func TestParseCookies(t *testing.T) {
	req := newRequest()
	parseCookies(req, " SID=abc123; theme = dark")
	assert.Equal(t, "abc123", req.Cookie("SID"))
	assert.Equal(t, " dark", req.Cookie("theme "))
}
