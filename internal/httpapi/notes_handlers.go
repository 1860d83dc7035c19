package httpapi

import (
	"errors"
	"net/http"

	"raha.health/internal/notes"
)

func (a *API) routeNotes() {
	a.mux.HandleFunc("GET /v1/notes", a.listNotes)
	a.mux.HandleFunc("GET /v1/notes/{id}", a.getNote)
	a.mux.HandleFunc("PUT /v1/notes/{id}", a.putNote)
	a.mux.HandleFunc("DELETE /v1/notes/{id}", a.deleteNote)
}

func (a *API) listNotes(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var list []notes.Note
	if limit > 0 {
		list = a.deps.Notes.Recent(limit)
	} else {
		list = a.deps.Notes.All()
	}
	if list == nil {
		list = []notes.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notes": list,
		"total": a.deps.Notes.Count(),
	})
}

func (a *API) getNote(w http.ResponseWriter, r *http.Request) {
	n, ok := a.deps.Notes.Get(r.PathValue("id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "note not found")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// putNote saves the body as the note's content. A 202 means the device store
// could not persist it.
func (a *API) putNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body map[string]any
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Notes.Save(id, body); err != nil {
		if errors.Is(err, notes.ErrEmptyID) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	n, ok := a.deps.Notes.Get(id)
	if !ok {
		writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "persisted": false})
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *API) deleteNote(w http.ResponseWriter, r *http.Request) {
	a.deps.Notes.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}
