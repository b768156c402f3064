package host

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tomyedwab/sqlbridge/sqlproxy/engine"
	"github.com/tomyedwab/sqlbridge/sqlproxy/types"
)

// HandleRequest processes a raw SQL request payload and returns a raw response payload.
// This is the main entry point for requests crossing the guest boundary.
func (h *SQLHost) HandleRequest(ctx context.Context, requestPayload []byte) ([]byte, error) {
	var req types.SQLRequest
	if err := json.Unmarshal(requestPayload, &req); err != nil {
		return marshalErrorResponse(fmt.Errorf("failed to unmarshal request: %w", err))
	}

	var responseData interface{}
	var opErr error

	switch req.Command {
	case types.CommandOpen:
		responseData, opErr = h.handleOpen(ctx, &req)
	case types.CommandCloseConn:
		responseData, opErr = types.GeneralResponse{}, h.Close(ctx, req.ConnID)
	case types.CommandPrepare:
		responseData, opErr = h.handlePrepare(ctx, &req)
	case types.CommandCloseStmt:
		responseData, opErr = types.GeneralResponse{}, h.CloseStatement(ctx, req.StmtID)
	case types.CommandExec:
		responseData, opErr = h.handleExec(ctx, &req)
	case types.CommandQuery:
		responseData, opErr = h.handleQuery(ctx, &req)
	case types.CommandBeginTx:
		responseData, opErr = h.handleBeginTx(ctx, &req)
	case types.CommandCommit:
		responseData, opErr = types.GeneralResponse{}, h.Commit(ctx, req.TxID)
	case types.CommandRollback:
		responseData, opErr = types.GeneralResponse{}, h.Rollback(ctx, req.TxID)
	case types.CommandNext:
		responseData, opErr = h.handleNext(ctx, &req)
	case types.CommandFetch:
		responseData, opErr = h.handleFetch(ctx, &req)
	case types.CommandCloseCursor:
		responseData, opErr = types.GeneralResponse{}, h.CloseCursor(ctx, req.CursorID)
	case types.CommandSync:
		timeout := time.Duration(req.TimeoutSecs) * time.Second
		responseData, opErr = types.GeneralResponse{}, h.Sync(ctx, req.ConnID, timeout)
	case types.CommandStats:
		s := h.Stats()
		responseData = types.StatsResponse{
			Connections:    s.Connections,
			Transactions:   s.Transactions,
			Statements:     s.Statements,
			Cursors:        s.Cursors,
			AbandonedSyncs: s.AbandonedSyncs,
		}
	default:
		opErr = fmt.Errorf("unknown command: %s", req.Command)
	}

	if opErr != nil {
		return marshalErrorResponse(opErr)
	}

	return json.Marshal(responseData)
}

func marshalErrorResponse(opErr error) ([]byte, error) {
	resp := types.GeneralResponse{Error: opErr.Error(), ErrorKind: types.KindOf(opErr)}
	payload, err := json.Marshal(resp)
	if err != nil {
		// This is a critical failure: can't even marshal the error response.
		// Return a hardcoded JSON string and the marshalling error.
		return []byte(fmt.Sprintf(`{"error":"critical: failed to marshal error response for: %s"}`, opErr)),
			fmt.Errorf("failed to marshal error response for '%s': %w", opErr, err)
	}
	// The error for HandleRequest itself is nil here, as the operational error is packaged in the payload.
	return payload, nil
}

func (h *SQLHost) handleOpen(ctx context.Context, req *types.SQLRequest) (types.GeneralResponse, error) {
	connID, err := h.Open(ctx, OpenOptions{
		Mode:        req.Mode,
		Path:        req.Path,
		URL:         req.URL,
		AuthToken:   req.AuthToken,
		SyncEnabled: req.SyncEnabled,
	})
	if err != nil {
		return types.GeneralResponse{}, err
	}
	return types.GeneralResponse{ConnID: connID}, nil
}

func (h *SQLHost) handlePrepare(ctx context.Context, req *types.SQLRequest) (types.GeneralResponse, error) {
	stmtID, err := h.Prepare(ctx, req.ConnID, req.SQL)
	if err != nil {
		return types.GeneralResponse{}, err
	}
	return types.GeneralResponse{StmtID: stmtID}, nil
}

// handleExec routes to the statement, the transaction or the connection, in
// that order of precedence.
func (h *SQLHost) handleExec(ctx context.Context, req *types.SQLRequest) (types.ExecResponse, error) {
	var res engine.Result
	var err error
	switch {
	case req.StmtID != "":
		res, err = h.ExecuteStatement(ctx, req.StmtID, req.Args)
	case req.TxID != "":
		res, err = h.ExecuteInTx(ctx, req.TxID, req.SQL, req.Args)
	default:
		res, err = h.Execute(ctx, req.ConnID, req.SQL, req.Args)
	}
	if err != nil {
		return types.ExecResponse{}, err
	}
	return types.ExecResponse{
		LastInsertID: res.LastInsertID,
		RowsAffected: res.RowsAffected,
	}, nil
}

func (h *SQLHost) handleQuery(ctx context.Context, req *types.SQLRequest) (types.QueryResponse, error) {
	var info CursorInfo
	var err error
	switch {
	case req.StmtID != "":
		info, err = h.QueryStatement(ctx, req.StmtID, req.Args)
	case req.TxID != "":
		info, err = h.QueryInTx(ctx, req.TxID, req.SQL, req.Args)
	default:
		info, err = h.Query(ctx, req.ConnID, req.SQL, req.Args)
	}
	if err != nil {
		return types.QueryResponse{}, err
	}
	return types.QueryResponse{
		CursorID:     info.ID,
		Columns:      info.Columns,
		ColumnTypes:  info.ColumnTypes,
		RowsAffected: info.RowsAffected,
	}, nil
}

func (h *SQLHost) handleBeginTx(ctx context.Context, req *types.SQLRequest) (types.GeneralResponse, error) {
	txID, err := h.Begin(ctx, req.ConnID, req.Isolation)
	if err != nil {
		return types.GeneralResponse{}, err
	}
	return types.GeneralResponse{TxID: txID}, nil
}

func (h *SQLHost) handleNext(ctx context.Context, req *types.SQLRequest) (types.QueryResponse, error) {
	row, done, err := h.CursorNext(ctx, req.CursorID)
	if err != nil {
		return types.QueryResponse{}, err
	}
	resp := types.QueryResponse{CursorID: req.CursorID, Done: done}
	if !done {
		resp.Rows = [][]types.Value{row}
	}
	return resp, nil
}

func (h *SQLHost) handleFetch(ctx context.Context, req *types.SQLRequest) (types.QueryResponse, error) {
	batch, err := h.Fetch(ctx, req.CursorID, req.MaxRows)
	if err != nil {
		return types.QueryResponse{}, err
	}
	return types.QueryResponse{
		CursorID: req.CursorID,
		Rows:     batch.Rows,
		Done:     batch.Done,
	}, nil
}
