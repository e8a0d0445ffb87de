package api

import (
	"embed"
	"io"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed static/*
var staticFiles embed.FS

// UIRoutes returns a chi.Router that serves the embedded report page.
// The page talks to the API mounted at /api.
func UIRoutes() chi.Router {
	r := chi.NewRouter()

	sub, _ := fs.Sub(staticFiles, "static")
	fileServer := http.FileServer(http.FS(sub))

	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		// ServeContent avoids FileServer's redirect from /index.html to /
		if req.URL.Path == "/" || req.URL.Path == "/index.html" {
			f, err := sub.Open("index.html")
			if err != nil {
				http.NotFound(w, req)
				return
			}
			defer f.Close()
			stat, _ := f.Stat()
			http.ServeContent(w, req, "index.html", stat.ModTime(), f.(io.ReadSeeker))
			return
		}
		fileServer.ServeHTTP(w, req)
	})

	return r
}

// Handler mounts the API under /api and the report page at /.
func (this *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Mount("/api", this.Routes())
	router.Mount("/", UIRoutes())
	return router
}
