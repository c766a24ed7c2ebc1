package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// StdioServer speaks line-delimited JSON-RPC over a reader/writer pair,
// normally stdin and stdout. The whole process is one session.
type StdioServer struct {
	router *Router

	writeMu sync.Mutex
	out     io.Writer
}

func NewStdioServer(deps Deps, out io.Writer) *StdioServer {
	return &StdioServer{
		router: NewRouter(deps, "stdio"),
		out:    out,
	}
}

// Run reads requests line by line until EOF or ctx cancellation. Parse
// failures produce error responses; notifications produce none.
func (s *StdioServer) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBody)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := parseRequestBytes(line)
		if err != nil {
			s.write(errorResponse(nil, -32700, err.Error(), "INVALID_FIELD", false))
			continue
		}

		id, hasID, idErr := parseID(req.ID)
		if idErr != nil {
			s.write(errorResponse(nil, -32600, idErr.Error(), "INVALID_FIELD", false))
			continue
		}

		s.handle(ctx, req, id, hasID)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *StdioServer) handle(ctx context.Context, req rpcRequest, id interface{}, hasID bool) {
	switch req.Method {
	case "initialize":
		if !hasID {
			return
		}
		s.write(resultResponse(id, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{"listChanged": false},
			},
			"serverInfo": map[string]interface{}{
				"name":    s.router.deps.Config.Server.Name,
				"version": s.router.deps.Config.Server.Version,
			},
		}))
	case "notifications/initialized":
		if hasID {
			s.write(resultResponse(id, map[string]interface{}{}))
		}
	case "tools/list":
		if !hasID {
			return
		}
		s.write(resultResponse(id, map[string]interface{}{"tools": s.router.ToolList()}))
	case "tools/call":
		if !hasID {
			return
		}
		result, rpcErr := s.router.Dispatch(ctx, req.Params)
		if rpcErr != nil {
			s.write(rpcResponse{JSONRPC: "2.0", ID: id, Error: rpcErr})
			return
		}
		s.write(resultResponse(id, result))
	default:
		if !hasID {
			return
		}
		s.write(errorResponse(id, -32601, "method not found", "METHOD_NOT_FOUND", false))
	}
}

// write emits one response per line. Stdout is shared with nothing else;
// logs go to stderr.
func (s *StdioServer) write(resp rpcResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("failed to marshal response")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.out.Write(raw)
	_, _ = s.out.Write([]byte("\n"))
}
