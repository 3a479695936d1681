package shadowsim

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/nlowe/envshadow/log"
)

// maxBody bounds PUT bodies. AWS IoT limits shadow documents to 8 KiB.
const maxBody = 8 << 10

// NewRouter serves the shadows held by s:
//
//	GET    /health
//	GET    /things
//	GET    /things/{thing}/shadow
//	PUT    /things/{thing}/shadow/desired
//	DELETE /things/{thing}/shadow
func NewRouter(s *Service) *mux.Router {
	r := mux.NewRouter()
	h := &api{s: s}

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/things", h.listThings).Methods(http.MethodGet)
	r.HandleFunc("/things/{thing}/shadow", h.getShadow).Methods(http.MethodGet)
	r.HandleFunc("/things/{thing}/shadow/desired", h.putDesired).Methods(http.MethodPut)
	r.HandleFunc("/things/{thing}/shadow", h.deleteShadow).Methods(http.MethodDelete)

	return r
}

type api struct {
	s *Service
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listThings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"things": a.s.Things()})
}

func (a *api) getShadow(w http.ResponseWriter, r *http.Request) {
	doc, err := a.s.Get(mux.Vars(r)["thing"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (a *api) putDesired(w http.ResponseWriter, r *http.Request) {
	thing := mux.Vars(r)["thing"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(body) > maxBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(http.StatusRequestEntityTooLarge, "payload too large"))
		return
	}

	var desired map[string]any
	if err = json.Unmarshal(body, &desired); err != nil || desired == nil {
		writeJSON(w, http.StatusBadRequest, errorBody(http.StatusBadRequest, "body must be a JSON object of desired properties"))
		return
	}

	if _, err = a.s.SetDesired(r.Context(), thing, desired); err != nil {
		writeError(w, err)
		return
	}

	doc, err := a.s.Get(thing)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (a *api) deleteShadow(w http.ResponseWriter, r *http.Request) {
	version, err := a.s.Delete(mux.Vars(r)["thing"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

func errorBody(code int, message string) map[string]any {
	return map[string]any{"code": code, "message": message}
}

func writeError(w http.ResponseWriter, err error) {
	code := ErrorCode(err)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		code = http.StatusBadRequest
	}

	writeJSON(w, code, errorBody(code, errorMessage(err)))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ForComponent("shadowsim.http").With(log.Error(err)).Warn("Failed to write response")
	}
}
