package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pesio-ai/be-procurement-requests/internal/client"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
	"github.com/pesio-ai/be-procurement-requests/internal/platform/logger"
)

const maxBodyBytes = 1 << 20

// HTTPHandler serves the purchase request API over JSON.
type HTTPHandler struct {
	ops *operations
	log *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, log *logger.Logger) *HTTPHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPHandler{
		ops: &operations{svc: svc},
		log: log.Component("http"),
	}
}

// Register mounts the API under /api/v1. authn must place the caller in the
// request context; see auth.Verifier.Middleware.
func (h *HTTPHandler) Register(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authn)
		r.Use(propagateRequestID)

		r.Get("/statuses", h.serve(h.ops.statuses, http.StatusOK))
		r.Get("/buyers/workload", h.serve(h.ops.buyerWorkload, http.StatusOK))

		r.Route("/purchase-requests", func(r chi.Router) {
			r.Post("/", h.serve(h.ops.createDraft, http.StatusCreated))
			r.Get("/", h.serve(h.ops.list, http.StatusOK))
			r.Get("/pending", h.serve(h.ops.pending, http.StatusOK))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.serve(h.ops.get, http.StatusOK))
				r.Patch("/", h.serve(h.ops.updateDraft, http.StatusOK))
				r.Get("/timeline", h.serve(h.ops.timeline, http.StatusOK))
				r.Get("/sla", h.serve(h.ops.sla, http.StatusOK))

				r.Post("/submit", h.serve(h.ops.submit, http.StatusOK))
				r.Post("/approve", h.serve(h.ops.routed(h.ops.svc.Router.Approve), http.StatusOK))
				r.Post("/reject", h.serve(h.ops.routed(h.ops.svc.Router.Reject), http.StatusOK))
				r.Post("/return", h.serve(h.ops.routed(h.ops.svc.Router.Return), http.StatusOK))
				r.Post("/advance", h.serve(h.ops.advance, http.StatusOK))
				r.Post("/quotations", h.serve(h.ops.recordQuotation, http.StatusOK))
				r.Post("/reassign", h.serve(h.ops.reassign, http.StatusOK))

				r.Post("/budget-exception", h.serve(h.ops.raiseException, http.StatusCreated))
				r.Post("/budget-exception/approve", h.serve(h.ops.resolved(h.ops.svc.Exceptions.Approve), http.StatusOK))
				r.Post("/budget-exception/reject", h.serve(h.ops.resolved(h.ops.svc.Exceptions.Reject), http.StatusOK))
			})
		})
	})
}

// serve adapts an operation to an http.HandlerFunc. GET requests decode their
// body from the query string.
func (h *HTTPHandler) serve(op operation, okStatus int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(ctx)
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}

		c := call{Actor: actor, PRID: chi.URLParam(r, "id")}
		if r.Method == http.MethodGet {
			c.decode = queryDecoder(r)
		} else {
			c.decode = bodyDecoder(w, r)
		}

		out, err := op(ctx, c)
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}
		writeJSON(w, okStatus, out)
	}
}

func bodyDecoder(w http.ResponseWriter, r *http.Request) func(any) error {
	return func(v any) error {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(v); err != nil && err != io.EOF {
			return errors.InvalidInput("body", "invalid request body")
		}
		return nil
	}
}

// queryDecoder fills list bodies from ?status=...&owner_role=...&page=...
// Other bodies are left untouched.
func queryDecoder(r *http.Request) func(any) error {
	return func(v any) error {
		b, ok := v.(*listBody)
		if !ok {
			return nil
		}
		q := r.URL.Query()
		b.Statuses = q["status"]
		b.OwnerRole = q.Get("owner_role")
		b.Department = q.Get("department")
		b.Branch = q.Get("branch")
		b.RequestorID = q.Get("requestor_id")
		b.AssigneeID = q.Get("assignee_id")
		b.Page, _ = strconv.Atoi(q.Get("page"))
		b.PageSize, _ = strconv.Atoi(q.Get("page_size"))
		return nil
	}
}

func (h *HTTPHandler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	body := toErrorBody(err)
	if body.Code == errors.ErrCodeInternal {
		h.log.Error().Err(err).Str("request_id", middleware.GetReqID(ctx)).Msg("request failed")
	}
	writeJSON(w, httpStatus(body.Code), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// propagateRequestID copies chi's request id into the context key read by the
// notification publisher.
func propagateRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(client.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
