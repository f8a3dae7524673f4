package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-poller/internal/audit"
)

// record journals an action and its outcome. Journal failures are logged
// and never fail the request.
func (s *Server) record(ctx context.Context, e audit.Entry, err error) {
	if s.audit == nil {
		return
	}
	if err != nil {
		e.Error = err.Error()
	}
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		e.RequestID = id
	}
	if createErr := s.audit.Create(context.WithoutCancel(ctx), &e); createErr != nil {
		s.logger.Warn("audit entry not recorded", "action", e.Action, "target", e.Target, "error", createErr)
	}
}

// handleListAudit returns journal entries, newest first.
//
// Query parameters: action, target, limit (max 200), offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Action: q.Get("action"),
		Target: q.Get("target"),
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.audit.List(r.Context(), f)
	if err != nil {
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
