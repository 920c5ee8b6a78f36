package pagewatch

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/pagewatch/audit"
	"github.com/hazyhaar/pagewatch/kit"
)

// WithAuditDB records operator actions in db's audit_log table.
func WithAuditDB(db *sql.DB) Option { return func(e *Engine) { e.auditDB = db } }

// endpoint wraps fn with request ids and logging, and with the audit trail
// when audited is set and an audit database is configured.
func (e *Engine) endpoint(op string, audited bool, fn kit.Endpoint) kit.Endpoint {
	mws := []kit.Middleware{kit.WithRequestIDs(nil), kit.Logging(e.logger, op)}
	if audited && e.audit != nil {
		mws = append(mws, audit.Middleware(e.audit, op))
	}
	return kit.Chain(mws...)(fn)
}

// Operator actions shared by the HTTP and MCP surfaces.

func (e *Engine) unblockEndpoint() kit.Endpoint {
	return e.endpoint("unblock", true, func(ctx context.Context, req any) (any, error) {
		r := req.(*taskRequest)
		if err := e.UnblockTask(r.ID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "unblocked", "id": r.ID}, nil
	})
}

func (e *Engine) checkEndpoint() kit.Endpoint {
	return e.endpoint("check_now", true, func(ctx context.Context, req any) (any, error) {
		r := req.(*taskRequest)
		if err := e.CheckNow(r.ID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "queued", "id": r.ID}, nil
	})
}

func (e *Engine) refreshEndpoint() kit.Endpoint {
	return e.endpoint("refresh_external", true, func(ctx context.Context, _ any) (any, error) {
		n, err := e.RefreshExternalTasks(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"tasks": n}, nil
	})
}

func (e *Engine) startEndpoint() kit.Endpoint {
	return e.endpoint("start", true, func(context.Context, any) (any, error) {
		// Scheduling outlives the request.
		if err := e.Start(e.baseContext()); err != nil {
			return nil, err
		}
		return e.Snapshot(), nil
	})
}

func (e *Engine) stopEndpoint() kit.Endpoint {
	return e.endpoint("stop", true, func(context.Context, any) (any, error) {
		e.Stop()
		return e.Snapshot(), nil
	})
}

// AuditTrail returns up to limit audited operator actions, newest first.
// It is empty without an audit database.
func (e *Engine) AuditTrail(ctx context.Context, limit int) ([]audit.Entry, error) {
	if e.audit == nil {
		return []audit.Entry{}, nil
	}
	return e.audit.Recent(ctx, limit)
}
