package webcore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// defaultMaxForwardHops bounds repository-to-repository internal
// forwards to prevent a misconfigured handler chain from looping
// forever, used when Config.MaxForwards is unset (§4.7, §9 suggested
// bound of 8; the 9th hop renders 508 Loop Detected).
const defaultMaxForwardHops = 8

// Repository resolves a request's URL into a Response (§4.7). getFile
// reports whether it served the request; freeFile releases whatever
// buffer it handed back through Response.Content, mirroring libnavajo's
// WebRepository::getFile/freeFile split (the Go port has no manual
// malloc/free to mirror, but keeps the symmetric call so a repository
// backed by, say, a pooled buffer still gets a release hook).
type Repository interface {
	getFile(req *Request, resp *Response) bool
	freeFile(resp *Response)
}

// Dispatcher walks a list of repositories in registration order,
// restarting at the front of the list whenever one of them sets
// Response.forwardTo (§4.7 step 7/8 of the connection worker loop).
type Dispatcher struct {
	repos       []Repository
	maxForwards int
}

// NewDispatcher returns a Dispatcher with no repositories registered.
// maxForwards bounds internal forwards before a 508 is rendered; a
// value <= 0 falls back to defaultMaxForwardHops.
func NewDispatcher(maxForwards int) *Dispatcher {
	if maxForwards <= 0 {
		maxForwards = defaultMaxForwardHops
	}
	return &Dispatcher{maxForwards: maxForwards}
}

// Register appends a repository to the dispatch chain.
func (d *Dispatcher) Register(r Repository) {
	d.repos = append(d.repos, r)
}

// Dispatch resolves req against the registered repositories, following
// internal forwards up to maxForwards times. It always returns a
// non-nil Response and a release function that must be called once the
// response bytes have been written.
func (d *Dispatcher) Dispatch(req *Request) (*Response, func()) {
	for hop := 0; hop <= d.maxForwards; hop++ {
		resp := NewResponse()
		served := false
		var servedBy Repository
		for _, r := range d.repos {
			if r.getFile(req, resp) {
				served = true
				servedBy = r
				break
			}
		}
		if !served {
			return notFoundResponse(), func() {}
		}
		if resp.forwardTo == "" {
			release := func() {}
			if servedBy != nil {
				release = func() { servedBy.freeFile(resp) }
			}
			return resp, release
		}
		if servedBy != nil {
			servedBy.freeFile(resp)
		}
		req.URL = stripLeadingSlashes(resp.forwardTo)
	}
	resp := NewResponse()
	resp.SetStatus(508)
	resp.ContentType = "text/html"
	resp.Content = errorBody(508, "too many internal forwards")
	return resp, func() {}
}

func notFoundResponse() *Response {
	resp := NewResponse()
	resp.SetStatus(404)
	resp.ContentType = "text/html"
	resp.Content = errorBody(404, "")
	return resp
}

// LocalRepository serves static files rooted at a local directory under
// an alias-relative URL prefix, grounded on [libnavajo] LocalRepository
// (realpath-checked lookup against a pre-scanned filename set).
type LocalRepository struct {
	mu          sync.Mutex
	alias       string
	root        string
	rootReal    string
	filenames   map[string]struct{}
}

// NewLocalRepository creates a LocalRepository serving dirPath under
// alias. It scans dirPath once at construction; call Reload after the
// directory contents change.
func NewLocalRepository(alias, dirPath string) (*LocalRepository, error) {
	real, err := filepath.EvalSymlinks(dirPath)
	if err != nil {
		return nil, wrapError(KindIOError, "resolve local repository root", err)
	}
	lr := &LocalRepository{
		alias:    stripLeadingSlashes(alias),
		root:     dirPath,
		rootReal: real,
	}
	if err := lr.Reload(); err != nil {
		return nil, err
	}
	return lr, nil
}

// Reload rescans the directory tree, refreshing the set of servable
// filenames (§4.7: "SHOULD BE CALLED EACH TIME A FILE IS CREATED,
// MODIFIED, OR DELETED" in the reference implementation).
func (lr *LocalRepository) Reload() error {
	names := make(map[string]struct{})
	err := filepath.WalkDir(lr.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(lr.root, path)
		if err != nil {
			return err
		}
		url := filepath.ToSlash(rel)
		if lr.alias != "" {
			url = lr.alias + "/" + url
		}
		names[url] = struct{}{}
		return nil
	})
	if err != nil {
		return wrapError(KindIOError, "scan local repository", err)
	}
	lr.mu.Lock()
	lr.filenames = names
	lr.mu.Unlock()
	return nil
}

func (lr *LocalRepository) resolvedPath(url string) (string, bool) {
	lr.mu.Lock()
	_, known := lr.filenames[url]
	lr.mu.Unlock()
	if !known {
		return "", false
	}
	rel := url
	if lr.alias != "" {
		if !strings.HasPrefix(rel, lr.alias+"/") {
			return "", false
		}
		rel = rel[len(lr.alias)+1:]
	}
	full := filepath.Join(lr.root, filepath.FromSlash(rel))
	// realpath containment check: reject anything that escapes root via
	// a symlink, even though the name was present in the pre-scanned set.
	real, err := filepath.EvalSymlinks(full)
	if err != nil || !strings.HasPrefix(real, lr.rootReal) {
		return "", false
	}
	return full, true
}

func (lr *LocalRepository) getFile(req *Request, resp *Response) bool {
	if req.Method != MethodGET && req.Method != MethodOPTIONS {
		return false
	}
	full, ok := lr.resolvedPath(req.URL)
	if !ok {
		return false
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return false
	}
	resp.Content = data
	resp.ContentType = detectMIME(req.URL)
	return true
}

func (lr *LocalRepository) freeFile(resp *Response) {
	resp.Content = nil
}

// PageHandler generates a Response for one dynamic URL, populating a
// freshly-owned buffer per call (§4.7's "handlers produce responses by
// populating a fresh owned buffer").
type PageHandler func(req *Request, resp *Response) bool

// DynamicRepository dispatches to registered PageHandlers by
// alias-relative URL, grounded on [libnavajo] DynamicRepository.hh. On a
// successful dispatch it attaches a SID cookie whenever the request
// already carries a session id (§4.7), HttpOnly with Max-Age set to the
// session lifetime (§6).
type DynamicRepository struct {
	mu       sync.Mutex
	index    map[string]PageHandler
	lifeTime time.Duration
}

// NewDynamicRepository returns an empty DynamicRepository whose SID
// cookies expire after lifeTime.
func NewDynamicRepository(lifeTime time.Duration) *DynamicRepository {
	return &DynamicRepository{index: make(map[string]PageHandler), lifeTime: lifeTime}
}

// Add registers handler under url, stripped of leading slashes.
func (dr *DynamicRepository) Add(url string, handler PageHandler) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	dr.index[stripLeadingSlashes(url)] = handler
}

// Remove unregisters the handler for url, if any.
func (dr *DynamicRepository) Remove(url string) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	delete(dr.index, stripLeadingSlashes(url))
}

func (dr *DynamicRepository) getFile(req *Request, resp *Response) bool {
	dr.mu.Lock()
	handler, ok := dr.index[req.URL]
	dr.mu.Unlock()
	if !ok {
		return false
	}
	served := handler(req, resp)
	if served && req.SessionID != "" {
		resp.AddCookie(Cookie{
			Name:     "SID",
			Value:    req.SessionID,
			Path:     "/",
			HTTPOnly: true,
			MaxAge:   int(dr.lifeTime / time.Second),
		})
	}
	return served
}

func (dr *DynamicRepository) freeFile(resp *Response) {
	resp.Content = nil
}
