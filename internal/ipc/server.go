package ipc

import (
	"bufio"
	"context"
	"net"

	"github.com/neur0map/yinx/internal/errs"
	"github.com/neur0map/yinx/internal/logging"
	"github.com/neur0map/yinx/internal/types"
)

// Handler is satisfied by *daemon.Daemon; kept as an interface here so
// ipc doesn't import daemon (daemon already imports ipc for the
// message types, and a two-way import would cycle).
type Handler interface {
	Submit(ctx context.Context, sessionID string, req CaptureRequest) (string, error)
	Search(ctx context.Context, query string, filters types.Filters) ([]types.ScoredChunk, error)
	Status() StatusResult
}

// Server accepts connections on a Unix domain socket and serves
// Capture/Query/Status/Shutdown requests, one connection's requests
// handled sequentially, connections handled concurrently.
type Server struct {
	ln       net.Listener
	handler  Handler
	log      logging.Logger
	shutdown func()
}

// Listen binds a Unix domain socket at socketPath. Callers must call
// Serve to start accepting, and Close to release the socket file.
func Listen(socketPath string, handler Handler, shutdown func(), log logging.Logger) (*Server, error) {
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "ipc.Listen", err)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Server{ln: ln, handler: handler, log: log.WithComponent("ipc"), shutdown: shutdown}, nil
}

// Close stops accepting and releases the socket.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.WarnCtx(ctx, "accept failed", "error", err.Error())
				return
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		var req Request
		if err := DecodeMessage(r, &req); err != nil {
			return
		}
		resp := s.dispatch(ctx, req)
		if err := EncodeMessage(conn, resp); err != nil {
			return
		}
		if req.Kind == KindShutdown {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Kind {
	case KindCapture:
		if req.Capture == nil {
			return ErrResponse(string(errs.ConfigInvalid), "capture request missing payload")
		}
		id, err := s.handler.Submit(ctx, req.Capture.SessionName, *req.Capture)
		if err != nil {
			return ErrResponse(string(errs.KindOf(err)), err.Error())
		}
		return Response{Ok: true, Capture: &CaptureResult{CaptureID: id, Accepted: true}}

	case KindQuery:
		if req.Query == nil {
			return ErrResponse(string(errs.ConfigInvalid), "query request missing payload")
		}
		chunks, err := s.handler.Search(ctx, req.Query.Text, req.Query.Filters)
		if err != nil && errs.KindOf(err) != errs.DegradedSearch {
			return ErrResponse(string(errs.KindOf(err)), err.Error())
		}
		resp := Response{Ok: true, Query: &QueryResult{Chunks: chunks}}
		if err != nil {
			resp.Err = &ErrorPayload{Kind: string(errs.DegradedSearch), Message: err.Error()}
		}
		return resp

	case KindStatus:
		status := s.handler.Status()
		return Response{Ok: true, Status: &status}

	case KindShutdown:
		if s.shutdown != nil {
			go s.shutdown()
		}
		return OkResponse()

	default:
		return ErrResponse(string(errs.ConfigInvalid), "unknown request kind")
	}
}
