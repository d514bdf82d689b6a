package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitchlab/knowd/internal/embedding"
	"github.com/pitchlab/knowd/internal/query"
)

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type queryResponse struct {
	Matches []query.Match `json:"matches"`
}

func handleQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		matches, err := deps.Query.Query(r.Context(), req.Query, req.TopK)
		var remoteErr *embedding.RemoteServiceError
		if errors.As(err, &remoteErr) {
			httpError(w, http.StatusBadGateway, "api_error", "upstream %s error: %v", remoteErr.Service, err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "query failed: %v", err)
			return
		}

		if matches == nil {
			matches = []query.Match{}
		}
		writeJSON(w, http.StatusOK, queryResponse{Matches: matches})
	}
}
