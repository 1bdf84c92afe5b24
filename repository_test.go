package webcore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRepositoryServesStaticFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))

	lr, err := NewLocalRepository("", dir)
	require.NoError(t, err)

	req := newRequest()
	req.Method = MethodGET
	req.URL = "index.html"
	resp := NewResponse()

	served := lr.getFile(req, resp)
	require.True(t, served)
	assert.Equal(t, "hello", string(resp.Content))
	assert.Equal(t, "text/html", resp.ContentType)
}

func TestLocalRepositoryUnknownFileNotServed(t *testing.T) {
	dir := t.TempDir()
	lr, err := NewLocalRepository("assets", dir)
	require.NoError(t, err)

	req := newRequest()
	req.Method = MethodGET
	req.URL = "assets/missing.js"
	resp := NewResponse()
	assert.False(t, lr.getFile(req, resp))
}

func TestDynamicRepositoryAttachesSessionCookie(t *testing.T) {
	dr := NewDynamicRepository(20 * time.Minute)
	dr.Add("/api/ping", func(req *Request, resp *Response) bool {
		resp.FromString("pong")
		return true
	})

	req := newRequest()
	req.URL = "api/ping"
	req.SessionID = "sess-1"
	resp := NewResponse()

	served := dr.getFile(req, resp)
	require.True(t, served)
	require.Len(t, resp.cookies, 1)
	assert.Equal(t, "SID", resp.cookies[0].Name)
	assert.Equal(t, "sess-1", resp.cookies[0].Value)
	assert.True(t, resp.cookies[0].HTTPOnly)
	assert.Equal(t, 1200, resp.cookies[0].MaxAge)
}

func TestDispatcherFollowsForward(t *testing.T) {
	d := NewDispatcher(8)
	dr := NewDynamicRepository(20 * time.Minute)
	dr.Add("a", func(req *Request, resp *Response) bool {
		resp.ForwardTo("b")
		return true
	})
	dr.Add("b", func(req *Request, resp *Response) bool {
		resp.FromString("done")
		return true
	})
	d.Register(dr)

	req := newRequest()
	req.URL = "a"
	resp, release := d.Dispatch(req)
	defer release()
	assert.Equal(t, "done", string(resp.Content))
}

func TestDispatcherLoopDetected(t *testing.T) {
	d := NewDispatcher(8)
	dr := NewDynamicRepository(20 * time.Minute)
	dr.Add("a", func(req *Request, resp *Response) bool {
		resp.ForwardTo("a")
		return true
	})
	d.Register(dr)

	req := newRequest()
	req.URL = "a"
	resp, release := d.Dispatch(req)
	defer release()
	assert.Equal(t, 508, resp.Status())
}

func TestDispatcherNotFound(t *testing.T) {
	d := NewDispatcher(8)
	req := newRequest()
	req.URL = "nowhere"
	resp, release := d.Dispatch(req)
	defer release()
	assert.Equal(t, 404, resp.Status())
}
