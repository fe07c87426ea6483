package server

import (
	"net/http"

	"github.com/joffreyzhang/kurangame/internal/imagegen"
)

// handleGenerateImages runs the image pipeline inline for an existing world
// template. Per-asset failures land in the errors field of the result; only
// a missing template fails the call.
func (s *Server) handleGenerateImages(w http.ResponseWriter, r *http.Request) {
	var opts imagegen.Options
	if r.ContentLength > 0 {
		if err := decode(r, &opts); err != nil {
			writeValidation(w, "invalid request body: "+err.Error())
			return
		}
	}
	if opts == (imagegen.Options{}) {
		opts = imagegen.AllOptions()
	}

	result, err := s.images.GenerateAll(r.Context(), r.PathValue("fileID"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
