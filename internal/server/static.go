package server

import (
	"bytes"
	_ "embed"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

//go:embed assets/livereload.js
var liveReloadJS []byte

// ScriptTag is inserted into every served HTML page.
const ScriptTag = `<script src="` + internalPrefix + `/livereload.js" defer></script>`

// InjectReloadScript inserts the live-reload script before the last
// closing body tag, or appends it when the page has none.
func InjectReloadScript(page []byte) []byte {
	lower := bytes.ToLower(page)
	idx := bytes.LastIndex(lower, []byte("</body>"))
	if idx < 0 {
		out := make([]byte, 0, len(page)+len(ScriptTag))
		out = append(out, page...)
		return append(out, ScriptTag...)
	}

	out := make([]byte, 0, len(page)+len(ScriptTag))
	out = append(out, page[:idx]...)
	out = append(out, ScriptTag...)
	return append(out, page[idx:]...)
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	http.ServeContent(w, r, "livereload.js", s.started, bytes.NewReader(liveReloadJS))
}

// handleStatic serves HTML pages with the reload client injected and
// everything else straight from the site filesystem.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)

	if info, err := s.site.Stat(name); err == nil && info.IsDir() {
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
			return
		}
		name = path.Join(name, "index.html")
	}

	if ext := path.Ext(name); ext == ".html" || ext == ".htm" {
		if s.serveHTML(w, r, name) {
			return
		}
	}
	s.files.ServeHTTP(w, r)
}

func (s *Server) serveHTML(w http.ResponseWriter, r *http.Request, name string) bool {
	info, err := s.site.Stat(name)
	if err != nil || info.IsDir() {
		return false
	}
	page, err := afero.ReadFile(s.site, name)
	if err != nil {
		return false
	}

	body := InjectReloadScript(page)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
	return true
}
