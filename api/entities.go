package api

import (
	"net/http"

	"github.com/vocdoni/maci-payout/indexer"
)

// round returns the indexed round entity
// GET /polls/{pollId}/round
func (a *API) round(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	if a.indexer == nil {
		ErrResourceNotFound.With("indexer disabled").Write(w)
		return
	}
	round, ok := a.indexer.Round(id)
	if !ok {
		ErrPollNotFound.Withf("poll %d", id).Write(w)
		return
	}
	httpWriteJSON(w, round)
}

// projects returns the indexed projects of a poll
// GET /polls/{pollId}/projects
func (a *API) projects(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	if a.indexer == nil {
		ErrResourceNotFound.With("indexer disabled").Write(w)
		return
	}
	projects := a.indexer.Projects(id)
	if projects == nil {
		projects = []indexer.Project{}
	}
	httpWriteJSON(w, projects)
}

// project returns an indexed project
// GET /polls/{pollId}/projects/{index}
func (a *API) project(w http.ResponseWriter, r *http.Request) {
	id, ok := pollID(w, r)
	if !ok {
		return
	}
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	if a.indexer == nil {
		ErrResourceNotFound.With("indexer disabled").Write(w)
		return
	}
	p, ok := a.indexer.Project(id, index)
	if !ok {
		ErrProjectNotFound.Withf("poll %d index %d", id, index).Write(w)
		return
	}
	httpWriteJSON(w, p)
}
