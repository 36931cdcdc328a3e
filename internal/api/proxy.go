package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/nerrad567/smarthome-bridge/internal/remote"
)

// proxy forwards the request upstream and relays status and body unchanged.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request, method, path string, query url.Values, body []byte) {
	resp, err := s.remote.Forward(r.Context(), method, path, query, body)
	if err != nil {
		s.writeRemoteError(w, resp, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

// writeRemoteError maps a remote failure onto the dashboard error contract.
// resp may be nil.
func (s *Server) writeRemoteError(w http.ResponseWriter, resp *remote.Response, err error) {
	var upstream *remote.UpstreamError
	switch {
	case errors.Is(err, remote.ErrRemoteUnreachable):
		writeError(w, http.StatusBadGateway, remote.KindUnreachable, err.Error())
	case errors.Is(err, remote.ErrInvalidJSON):
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		writeError(w, status, remote.KindInvalidJSON, "")
	case errors.Is(err, remote.ErrNoData):
		writeError(w, http.StatusNotFound, remote.KindNoData, "")
	case errors.As(err, &upstream):
		if gjson.ValidBytes(upstream.Body) {
			writeRaw(w, upstream.StatusCode, upstream.Body)
			return
		}
		writeError(w, upstream.StatusCode, remote.KindUpstream, "")
	default:
		s.logger.Error("remote request failed", "error", err)
		writeInternalError(w, "remote request failed")
	}
}

// forwardQuery copies the named query parameters that are present.
func forwardQuery(r *http.Request, keys ...string) url.Values {
	in := r.URL.Query()
	out := url.Values{}
	for _, k := range keys {
		if v, ok := in[k]; ok {
			out[k] = v
		}
	}
	return out
}
