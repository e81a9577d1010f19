package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"log/slog"

	"shelf/internal/daemon"
	"shelf/internal/library"
	"shelf/internal/logging"
	"shelf/internal/logs"
	"shelf/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Shelf", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
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

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before the next start"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.LastError = status.LastError
	resp.LibraryDBPath = status.LibraryDBPath
	resp.QueueDBPath = status.QueueDBPath
	resp.LockPath = status.LockFilePath
	resp.Records = status.Records
	resp.Queue = healthFromSummary(status.Queue)
	return nil
}

func (s *service) RecordList(_ RecordListRequest, resp *RecordListResponse) error {
	records, err := s.daemon.ListRecords(s.ctx)
	if err != nil {
		return err
	}
	resp.Records = make([]Record, 0, len(records))
	for _, record := range records {
		resp.Records = append(resp.Records, recordFromLibrary(record))
	}
	return nil
}

func (s *service) RecordAdd(req RecordAddRequest, resp *RecordAddResponse) error {
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("record title is required")
	}
	inserted, err := s.daemon.AddRecord(s.ctx, &library.Record{
		Title:           req.Title,
		Authors:         req.Authors,
		ISBN:            req.ISBN,
		PublicationYear: req.PublicationYear,
	})
	if err != nil {
		return err
	}
	resp.Record = recordFromLibrary(inserted)
	return nil
}

func (s *service) RecordRemove(req RecordRemoveRequest, resp *RecordRemoveResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid record id %d", req.ID)
	}
	removed, err := s.daemon.RemoveRecord(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) Import(req ImportRequest, resp *ImportResponse) error {
	s.log().Debug("csv import requested", logging.String("path", req.Path))
	result, err := s.daemon.ImportCSV(s.ctx, req.Path)
	if err != nil {
		return err
	}
	resp.Imported = len(result.Imported)
	resp.Skipped = result.Skipped
	return nil
}

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	s.log().Debug("enqueue requested", logging.Int("record_count", len(req.IDs)))
	result, err := s.daemon.EnqueueRecords(s.ctx, req.IDs, req.Note)
	if err != nil {
		return err
	}
	resp.BatchID = result.BatchID
	resp.Enqueued = result.Enqueued
	resp.Skipped = result.Skipped
	s.log().Info("batch enqueued via IPC",
		logging.String(logging.FieldBatchID, result.BatchID),
		logging.String(logging.FieldEventType, "enqueue"),
		logging.Int("enqueued_count", len(result.Enqueued)))
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	var jobs []*queue.Job
	var err error
	if strings.TrimSpace(req.BatchID) != "" {
		jobs, err = s.daemon.ListBatch(s.ctx, req.BatchID)
	} else {
		statuses := make([]queue.Status, 0, len(req.Statuses))
		for _, status := range req.Statuses {
			parsed, ok := queue.ParseStatus(status)
			if !ok {
				continue
			}
			statuses = append(statuses, parsed)
		}
		jobs, err = s.daemon.ListJobs(s.ctx, statuses...)
	}
	if err != nil {
		return err
	}
	resp.Jobs = make([]Job, 0, len(jobs))
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, jobFromQueue(job))
	}
	return nil
}

func (s *service) BatchProgress(req BatchProgressRequest, resp *BatchProgressResponse) error {
	if strings.TrimSpace(req.BatchID) == "" {
		return errors.New("batch id is required")
	}
	progress, err := s.daemon.BatchProgress(s.ctx, req.BatchID)
	if err != nil {
		return err
	}
	resp.Total = progress.Total
	resp.Pending = progress.Pending
	resp.InFlight = progress.InFlight
	resp.Succeeded = progress.Succeeded
	resp.Failed = progress.Failed
	resp.Canceled = progress.Canceled
	resp.Review = progress.Review
	resp.Done = progress.Done()
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	if strings.TrimSpace(req.BatchID) == "" {
		return errors.New("batch id is required")
	}
	s.log().Debug("batch cancel requested", logging.String(logging.FieldBatchID, req.BatchID))
	canceled, err := s.daemon.CancelBatch(s.ctx, req.BatchID)
	if err != nil {
		return err
	}
	resp.Canceled = canceled
	return nil
}

func (s *service) Retry(req RetryRequest, resp *RetryResponse) error {
	s.log().Debug("retry requested", logging.Int("job_count", len(req.IDs)))
	updated, err := s.daemon.RetryJobs(s.ctx, req.IDs...)
	if err != nil {
		return err
	}
	resp.Updated = updated
	s.log().Info("jobs retried",
		logging.String(logging.FieldEventType, "queue_retry"),
		logging.Int64("updated_count", updated))
	return nil
}

func (s *service) Reset(_ ResetRequest, resp *ResetResponse) error {
	s.log().Debug("reset stuck requested")
	updated, err := s.daemon.ResetStuck(s.ctx)
	if err != nil {
		return err
	}
	resp.Updated = updated
	s.log().Info("stuck jobs reset",
		logging.String(logging.FieldEventType, "queue_reset_stuck"),
		logging.Int64("updated_count", updated))
	return nil
}

func (s *service) ClearFinished(_ ClearFinishedRequest, resp *ClearFinishedResponse) error {
	s.log().Debug("clear finished requested")
	removed, err := s.daemon.ClearFinished(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("finished jobs cleared",
		logging.String(logging.FieldEventType, "queue_clear_finished"),
		logging.Int64("removed_count", removed))
	return nil
}

func (s *service) ProgressTail(req ProgressTailRequest, resp *ProgressTailResponse) error {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	deadline := time.Now().Add(wait)

	for {
		entries, next := s.daemon.ProgressSince(req.Cursor)
		if len(entries) > 0 || wait <= 0 || !time.Now().Before(deadline) {
			resp.Events = make([]ProgressEvent, 0, len(entries))
			for _, entry := range entries {
				resp.Events = append(resp.Events, ProgressEvent{Seq: entry.Seq, Event: entry.Event})
			}
			resp.Cursor = next
			return nil
		}
		select {
		case <-s.ctx.Done():
			resp.Cursor = next
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
