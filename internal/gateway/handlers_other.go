package gateway

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/errors"

	internalrouter "github.com/wudi/gateway/internal/router"
)

// staticHandler serves files out of d.StaticPath, stripping the literal
// prefix the route was registered under (the part before any {name}
// placeholder), mirroring how proxy.Handler resolves the upstream path.
func (g *Gateway) staticHandler(d *config.EndpointDescriptor) http.Handler {
	prefix := strings.SplitN(d.Route, "{", 2)[0]
	prefix = strings.TrimSuffix(prefix, "/")
	fs := http.FileServer(http.Dir(d.StaticPath))
	return http.StripPrefix(prefix, fs)
}

// fileUploadHandler accepts a multipart/form-data upload bounded by
// cfg.MaxUploadBytes, saving every part's file into cfg.UploadDir under
// its original filename.
func (g *Gateway) fileUploadHandler(d *config.EndpointDescriptor) http.Handler {
	maxBytes := d.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			errors.New(http.StatusMethodNotAllowed, "method not allowed").WriteJSON(w)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			errors.ValidationError("failed to parse upload: " + err.Error()).WriteJSON(w)
			return
		}
		if r.MultipartForm == nil {
			errors.ValidationError("no multipart form in request").WriteJSON(w)
			return
		}

		if err := os.MkdirAll(d.UploadDir, 0o755); err != nil {
			errors.InternalErr("failed to prepare upload directory").WriteJSON(w)
			return
		}

		var saved []string
		for field, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				dstPath := filepath.Join(d.UploadDir, filepath.Base(fh.Filename))
				if err := saveUploadedFile(fh, dstPath); err != nil {
					errors.InternalErr(fmt.Sprintf("failed to save %s (%s): %v", fh.Filename, field, err)).WriteJSON(w)
					return
				}
				saved = append(saved, fh.Filename)
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"saved": saved})
	})
}

// dynamicHandler resolves and invokes a plugin-registered action by
// name, an Open Question resolution: routeType "dynamic" reuses
// businessLogic as the action name (rather than a plugin name) since
// nothing else in the descriptor identifies which registered action a
// dynamic route should run.
func (g *Gateway) dynamicHandler(d *config.EndpointDescriptor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.actions == nil {
			errors.ConfigErr("no action registry configured").WriteJSON(w)
			return
		}
		fn, ok := g.actions.Lookup(d.BusinessLogic)
		if !ok {
			errors.NotFoundErr("no action registered under name " + d.BusinessLogic).WriteJSON(w)
			return
		}

		body, err := decodeBody(r)
		if err != nil {
			writeGatewayErr(w, err)
			return
		}
		params := map[string]any{
			"body":   body,
			"query":  r.URL.Query(),
			"params": internalrouter.PathParams(r),
			"method": r.Method,
		}

		result, err := fn(r.Context(), params)
		if err != nil {
			writeGatewayErr(w, err)
			return
		}
		if result == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func saveUploadedFile(fh *multipart.FileHeader, dstPath string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
