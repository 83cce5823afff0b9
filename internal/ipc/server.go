package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"quill/internal/logging"
	"quill/internal/pipeline"
	"quill/internal/services"
)

// Engine is the pipeline surface the socket exposes. Implemented by
// *pipeline.Orchestrator.
type Engine interface {
	StartCreate(params pipeline.CreateParams) (*pipeline.Context, error)
	StartAmend(params pipeline.AmendParams) (*pipeline.Context, error)
	StartMerge(params pipeline.MergeParams) (*pipeline.Context, error)
	StartVerify(params pipeline.VerifyParams) (*pipeline.Context, error)
	ConfirmDraft(pipelineID string) (*pipeline.Context, error)
	ConfirmWrite(pipelineID string) (*pipeline.Context, error)
	Cancel(pipelineID string) error
	Get(pipelineID string) (*pipeline.Context, error)
	List() []*pipeline.Context
}

// Server accepts JSON-RPC connections on a Unix domain socket and relays
// each call to the engine.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer binds the control socket. A stale socket file left by a dead
// daemon is removed first; the instance lock already guarantees no live
// daemon owns it.
func NewServer(ctx context.Context, path string, engine Engine, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("ipc server requires an engine")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{engine: engine, logger: logger}); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve accepts connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Info("control socket listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops accepting, waits for in-flight calls, and removes the socket.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	engine Engine
	logger *slog.Logger
}

func (s *service) Create(req CreateRequest, resp *PipelineResponse) error {
	c, err := s.engine.StartCreate(pipeline.CreateParams{
		Title: req.Title,
		Path:  req.Path,
		Seed:  req.Seed,
	})
	if err != nil {
		return err
	}
	s.logger.Info("create run started via socket",
		logging.String(logging.FieldPipelineID, c.ID))
	resp.Pipeline = summarize(c)
	return nil
}

func (s *service) Amend(req AmendRequest, resp *PipelineResponse) error {
	c, err := s.engine.StartAmend(pipeline.AmendParams{
		NodeID:      req.NodeID,
		Path:        req.Path,
		Instruction: req.Instruction,
	})
	if err != nil {
		return err
	}
	s.logger.Info("amend run started via socket",
		logging.String(logging.FieldPipelineID, c.ID))
	resp.Pipeline = summarize(c)
	return nil
}

func (s *service) Merge(req MergeRequest, resp *PipelineResponse) error {
	c, err := s.engine.StartMerge(pipeline.MergeParams{
		TargetNodeID: req.TargetNodeID,
		TargetPath:   req.TargetPath,
		SourceNodeID: req.SourceNodeID,
		SourcePath:   req.SourcePath,
		Instruction:  req.Instruction,
	})
	if err != nil {
		return err
	}
	s.logger.Info("merge run started via socket",
		logging.String(logging.FieldPipelineID, c.ID))
	resp.Pipeline = summarize(c)
	return nil
}

func (s *service) Verify(req VerifyRequest, resp *PipelineResponse) error {
	c, err := s.engine.StartVerify(pipeline.VerifyParams{
		NodeID: req.NodeID,
		Path:   req.Path,
	})
	if err != nil {
		return err
	}
	s.logger.Info("verify run started via socket",
		logging.String(logging.FieldPipelineID, c.ID))
	resp.Pipeline = summarize(c)
	return nil
}

// Confirm approves the review gate the run is parked at, routed by kind:
// create runs hold a draft gate, amend and merge runs a change gate.
func (s *service) Confirm(req ConfirmRequest, resp *PipelineResponse) error {
	id, err := s.resolveID(req.PipelineID)
	if err != nil {
		return err
	}
	target, err := s.engine.Get(id)
	if err != nil {
		return err
	}
	var confirmed *pipeline.Context
	if target.Kind == pipeline.KindCreate {
		confirmed, err = s.engine.ConfirmDraft(id)
	} else {
		confirmed, err = s.engine.ConfirmWrite(id)
	}
	if err != nil {
		return err
	}
	s.logger.Info("run confirmed via socket",
		logging.String(logging.FieldPipelineID, id),
		logging.String(logging.FieldStage, string(confirmed.Stage)))
	resp.Pipeline = summarize(confirmed)
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	id, err := s.resolveID(req.PipelineID)
	if err != nil {
		return err
	}
	if err := s.engine.Cancel(id); err != nil {
		return err
	}
	s.logger.Info("run cancelled via socket",
		logging.String(logging.FieldPipelineID, id))
	resp.PipelineID = id
	return nil
}

// resolveID accepts a full pipeline ID or a unique prefix of one.
func (s *service) resolveID(idOrPrefix string) (string, error) {
	const op = "ipc.resolve"
	if idOrPrefix == "" {
		return "", services.NewError(services.KindInvalidState, op, "pipeline id must not be empty")
	}
	if _, err := s.engine.Get(idOrPrefix); err == nil {
		return idOrPrefix, nil
	}
	var matches []string
	for _, c := range s.engine.List() {
		if strings.HasPrefix(c.ID, idOrPrefix) {
			matches = append(matches, c.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", services.NewError(services.KindNotFound, op,
			fmt.Sprintf("no pipeline matches %q", idOrPrefix))
	case 1:
		return matches[0], nil
	default:
		return "", services.NewError(services.KindInvalidState, op,
			fmt.Sprintf("%q matches %d pipelines, use a longer prefix", idOrPrefix, len(matches)))
	}
}

func summarize(c *pipeline.Context) PipelineSummary {
	return PipelineSummary{
		ID:           c.ID,
		Kind:         string(c.Kind),
		Stage:        string(c.Stage),
		Title:        c.Title,
		TargetPath:   c.TargetPath,
		SourcePath:   c.SourcePath,
		Tags:         append([]string(nil), c.Tags...),
		Preview:      c.GeneratedContent,
		SnapshotID:   c.SnapshotID,
		ErrorMessage: c.ErrorMessage,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
