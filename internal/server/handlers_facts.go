package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/service/facts"
)

// maxBatchSize caps the number of entries accepted by POST /v1/facts/batch.
const maxBatchSize = 500

// HandleAddFact handles POST /v1/facts.
//
// Recorded and absorbed facts return 201. Conflicts that need manual review
// return 409 with the conflict record; they are not errors.
func (h *Handlers) HandleAddFact(w http.ResponseWriter, r *http.Request) {
	var req model.AddFactRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.writeServiceError(w, r, "failed to add fact", err)
		return
	}

	res, err := h.factSvc.AddFactWithConflictDetection(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "failed to add fact", err)
		return
	}
	writeJSON(w, r, addFactStatus(res), model.NewAddFactResponse(res))
}

func addFactStatus(res model.AddFactResult) int {
	if res.RequiresManualReview {
		return http.StatusConflict
	}
	return http.StatusCreated
}

// HandleAddFactsBatch handles POST /v1/facts/batch. The response is always
// 200; each item carries its own status.
func (h *Handlers) HandleAddFactsBatch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchAddFactsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Facts) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "facts is required")
		return
	}
	if len(req.Facts) > maxBatchSize {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("batch exceeds maximum of %d facts", maxBatchSize))
		return
	}

	items := make([]model.BatchItemResult, len(req.Facts))
	inputs := make([]model.FactInput, 0, len(req.Facts))
	positions := make([]int, 0, len(req.Facts))
	for i, f := range req.Facts {
		in, err := f.ToInput()
		if err != nil {
			items[i] = h.batchItem(r, i, facts.BatchOutcome{Err: err})
			continue
		}
		inputs = append(inputs, in)
		positions = append(positions, i)
	}

	outcomes := h.factSvc.AddFactsBatch(r.Context(), inputs)
	for j, o := range outcomes {
		items[positions[j]] = h.batchItem(r, positions[j], o)
	}
	writeJSON(w, r, http.StatusOK, items)
}

func (h *Handlers) batchItem(r *http.Request, index int, o facts.BatchOutcome) model.BatchItemResult {
	item := model.BatchItemResult{Index: index}
	if o.Err != nil {
		if detail, ok := validationDetail(o.Err); ok {
			item.Status = http.StatusBadRequest
			item.Error = &detail
			return item
		}
		h.logger.Error("batch entry failed", "index", index, "error", o.Err,
			"request_id", RequestIDFromContext(r.Context()))
		item.Status = http.StatusInternalServerError
		item.Error = &model.ErrorDetail{Code: model.ErrCodeInternalError, Message: "failed to add fact"}
		return item
	}
	resp := model.NewAddFactResponse(o.Result)
	item.Status = addFactStatus(o.Result)
	item.Result = &resp
	return item
}

// HandleGetFacts handles GET /v1/facts.
func (h *Handlers) HandleGetFacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject, err := model.ParseSubject(q.Get("entity_type"), q.Get("entity_id"))
	if err != nil {
		h.writeServiceError(w, r, "failed to get facts", err)
		return
	}
	includeHistorical, err := queryBool(r, "include_historical")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	fq := model.FactQuery{
		Subject:           subject,
		FactType:          q.Get("fact_type"),
		Key:               q.Get("key"),
		IncludeHistorical: includeHistorical,
	}
	grouped, err := h.factSvc.GetFacts(r.Context(), fq)
	if err != nil {
		h.writeServiceError(w, r, "failed to get facts", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.FactsResponse{
		Subject:           subject,
		IncludeHistorical: includeHistorical,
		Facts:             grouped,
	})
}

// HandleFactHistory handles GET /v1/facts/history.
func (h *Handlers) HandleFactHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject, err := model.ParseSubject(q.Get("entity_type"), q.Get("entity_id"))
	if err != nil {
		h.writeServiceError(w, r, "failed to get fact history", err)
		return
	}
	slot := model.Slot{Subject: subject, FactType: q.Get("fact_type"), Key: q.Get("key")}

	history, err := h.factSvc.History(r.Context(), slot)
	if err != nil {
		h.writeServiceError(w, r, "failed to get fact history", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.HistoryResponse{Slot: slot, Facts: history})
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New("invalid " + key + ": expected true or false")
	}
	return b, nil
}
