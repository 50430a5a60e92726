// Package httpapi is a thin external adapter, deliberately minimal,
// translating HTTP requests into filenode operations and nothing more.
// It is not part of the storage engine; it exists so the engine has a
// runnable surface in cmd/dsvfsd.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/brevitylabs/dsvfs/pkg/dsfault"
	"github.com/brevitylabs/dsvfs/pkg/filenode"

	"github.com/gorilla/mux"
)

type Server struct {
	Engine *filenode.Engine
	router *mux.Router
}

func NewServer(engine *filenode.Engine) *Server {
	s := &Server{Engine: engine, router: mux.NewRouter()}
	s.router.HandleFunc("/v1/stat{path:.*}", s.handleStat).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/files{path:.*}", s.handleReadWrite).Methods(http.MethodGet, http.MethodPut)
	s.router.HandleFunc("/v1/dirs{path:.*}", s.handleDir).Methods(http.MethodGet, http.MethodPost, http.MethodDelete)
	s.router.HandleFunc("/v1/nodes{path:.*}", s.handleDelete).Methods(http.MethodDelete)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, err error) {
	kind, ok := dsfault.Of(err)
	status := http.StatusInternalServerError
	if ok {
		switch kind {
		case dsfault.NoSuchFile:
			status = http.StatusNotFound
		case dsfault.AlreadyExists:
			status = http.StatusConflict
		case dsfault.DirectoryNotEmpty, dsfault.NotDirectory, dsfault.UnsupportedOption, dsfault.AtomicMoveNotSupported, dsfault.InvalidPath:
			status = http.StatusBadRequest
		case dsfault.AccessDenied:
			status = http.StatusForbidden
		case dsfault.ProviderMismatch:
			status = http.StatusBadRequest
		}
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	ctx := r.Context()
	node, err := s.Engine.Open(path)
	if err != nil {
		writeError(w, err)
		return
	}
	view := r.URL.Query().Get("view")
	if view == "" {
		view = "basic"
	}
	attrs, err := node.Stat(ctx, view)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(attrs)
}

func (s *Server) handleReadWrite(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	ctx := r.Context()
	node, err := s.Engine.Open(path)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if err := node.OpenStream(ctx, filenode.OpenOptions{Read: true}, 0); err != nil {
			writeError(w, err)
			return
		}
		defer node.Close(ctx)
		offset, length, err := parseRange(r)
		if err != nil {
			writeError(w, err)
			return
		}
		buf := make([]byte, length)
		n, err := node.ReadAt(ctx, buf, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(buf[:n])
	case http.MethodPut:
		opts := filenode.OpenOptions{Write: true, Create: true}
		if r.URL.Query().Get("append") == "true" {
			opts = filenode.OpenOptions{Append: true, Create: true}
		}
		if err := node.OpenStream(ctx, opts, blockSizeFromQuery(r)); err != nil {
			writeError(w, err)
			return
		}
		defer node.Close(ctx)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, err)
			return
		}
		if opts.Append {
			if _, err := node.Append(ctx, body); err != nil {
				writeError(w, err)
				return
			}
		} else {
			offset, _, _ := parseRange(r)
			if _, err := node.WriteAt(ctx, body, offset); err != nil {
				writeError(w, err)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDir(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	ctx := r.Context()
	node, err := s.Engine.Open(path)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodPost:
		if err := node.CreateFolder(ctx); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		children, err := node.ListChildren(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		names := make([]string, len(children))
		for i, c := range children {
			names[i] = c.Path()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(names)
	case http.MethodDelete:
		if err := node.Delete(ctx); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	ctx := r.Context()
	node, err := s.Engine.Open(path)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := node.Delete(ctx); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseRange(r *http.Request) (offset int64, length int64, err error) {
	offset = 0
	length = 1 << 20
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, dsfault.Newf(dsfault.InvalidPath, "bad offset %q", v)
		}
	}
	if v := r.URL.Query().Get("length"); v != "" {
		length, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, dsfault.Newf(dsfault.InvalidPath, "bad length %q", v)
		}
	}
	return offset, length, nil
}

func blockSizeFromQuery(r *http.Request) int {
	v := r.URL.Query().Get("blocksize")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
