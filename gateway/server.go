package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/arlojex/tradepipe/audit"
	"github.com/arlojex/tradepipe/cache"
	"github.com/arlojex/tradepipe/execution"
	"github.com/arlojex/tradepipe/models"
	"github.com/arlojex/tradepipe/tracing"
	"github.com/arlojex/tradepipe/zmqtransport"
)

// healthComponentName is the key the Gateway Server writes its own status
// under in the Health Cache, matching the Lifecycle Manager's naming.
const healthComponentName = "gateway"

var validate = validator.New()

// Server is the Broker Gateway Server: the single point of access to the
// Broker Capability. It binds a reply socket and processes requests
// strictly serially in arrival order, since the broker library it fronts
// is not thread-safe.
type Server struct {
	bindAddr string
	broker   execution.Broker
	auditLog *audit.Log         // nil disables audit recording
	health   *cache.HealthCache // nil disables Health Cache writes

	mu      sync.Mutex
	status  models.ComponentStatus
	sock    *zmqtransport.RPCServer
	stopCh  chan struct{}
	doneCh  chan struct{}
	started time.Time
}

// NewServer constructs a Server bound to bindAddr (e.g. "tcp://*:5557")
// fronting broker. auditLog may be nil to disable the operational audit
// trail; health may be nil to disable Health Cache refreshes on
// health_check.
func NewServer(bindAddr string, broker execution.Broker, auditLog *audit.Log, health *cache.HealthCache) *Server {
	return &Server{
		bindAddr: bindAddr,
		broker:   broker,
		auditLog: auditLog,
		health:   health,
		status:   models.StatusStopped,
	}
}

// Status returns the server's current lifecycle state.
func (s *Server) Status() models.ComponentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start binds the reply socket and spawns the serving goroutine. Calling
// Start while already RUNNING is idempotent: it logs a warning and returns
// nil without side effects.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == models.StatusRunning {
		s.mu.Unlock()
		log.Warn().Msg("gateway server already running")
		return nil
	}
	s.status = models.StatusStarting
	s.mu.Unlock()

	sock, err := zmqtransport.NewRPCServer(ctx, s.bindAddr)
	if err != nil {
		s.mu.Lock()
		s.status = models.StatusError
		s.mu.Unlock()
		return fmt.Errorf("gateway: start: %w", err)
	}

	s.mu.Lock()
	s.sock = sock
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.status = models.StatusRunning
	s.started = time.Now()
	s.mu.Unlock()

	go s.run()
	log.Info().Str("addr", s.bindAddr).Msg("gateway server started")
	return nil
}

// run is the server's receive loop. It runs Recv on its own goroutine
// because go-zeromq's REP socket has no non-blocking poll, and races that
// against stopCh to remain responsive to shutdown.
func (s *Server) run() {
	defer close(s.doneCh)

	type recvResult struct {
		payload []byte
		err     error
	}
	recvCh := make(chan recvResult, 1)

	requestNext := func() {
		go func() {
			payload, err := s.sock.Recv()
			recvCh <- recvResult{payload: payload, err: err}
		}()
	}
	requestNext()

	for {
		select {
		case <-s.stopCh:
			return
		case r := <-recvCh:
			if r.err != nil {
				log.Error().Err(r.err).Msg("gateway server receive error")
				// The socket is unusable after certain transport errors;
				// stop serving rather than spin forever.
				return
			}
			traceID := tracing.NewTraceID()
			resp := s.processRequest(tracing.WithTraceID(context.Background(), traceID), r.payload)
			out, err := json.Marshal(resp)
			if err != nil {
				out, _ = json.Marshal(errResponse(ErrProcessingError, "failed to encode response"))
			}
			if err := s.sock.Send(out); err != nil {
				log.Error().Err(err).Msg("gateway server send error")
			}
			requestNext()
		}
	}
}

// processRequest decodes, dispatches, and recovers from panics so that
// exactly one Response is always produced.
func (s *Server) processRequest(ctx context.Context, raw []byte) (resp Response) {
	logger := tracing.Logger(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("gateway server panic handling request")
			resp = errResponse(ErrProcessingError, fmt.Sprintf("internal error: %v", r))
		}
		s.recordAudit(ctx, resp)
	}()

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		logger.Warn().Err(err).Msg("gateway server received malformed JSON")
		return errResponse(ErrInvalidJSON, err.Error())
	}

	ctx = context.WithValue(ctx, requestMetaKey{}, requestMeta{
		operation: req.Operation,
		account:   accountFromParameters(req.Parameters),
	})

	switch req.Operation {
	case OpSendOrder:
		return s.handleSendOrder(ctx, req.Parameters)
	case OpGetPositions:
		return s.handleGetPositions(ctx, req.Parameters)
	case OpHealthCheck:
		return s.handleHealthCheck(ctx)
	default:
		logger.Warn().Str("operation", req.Operation).Msg("gateway server received unknown operation")
		return errResponse(ErrUnknownOperation, fmt.Sprintf("unknown operation: %s", req.Operation))
	}
}

// accountFromParameters best-effort extracts an account identifier for
// audit purposes without committing to either operation's parameter shape.
func accountFromParameters(params json.RawMessage) string {
	var probe struct {
		Account      string `json:"account"`
		OrderAccount string `json:"order_account"`
	}
	if err := json.Unmarshal(params, &probe); err != nil {
		return ""
	}
	if probe.OrderAccount != "" {
		return probe.OrderAccount
	}
	return probe.Account
}

func (s *Server) handleSendOrder(ctx context.Context, params json.RawMessage) Response {
	logger := tracing.Logger(ctx)

	var order models.OrderRequest
	if err := json.Unmarshal(params, &order); err != nil {
		return errResponse(ErrInvalidOrder, err.Error())
	}
	if err := validate.Struct(order); err != nil {
		logger.Warn().Err(err).Msg("send_order validation failed")
		return errResponse(ErrInvalidOrder, err.Error())
	}

	result, err := s.broker.PlaceOrder(order)
	if err != nil {
		logger.Error().Err(err).Msg("broker rejected order")
		return errResponse(ErrOrderExecutionError, err.Error())
	}
	if result.OrderSerial == "" && result.ErrorCode == "" {
		return errResponse(ErrNullResult, "broker returned an empty result")
	}
	if result.ErrorCode != "" {
		return errResponse(result.ErrorCode, result.ErrorMsg)
	}
	return okResponse(result)
}

func (s *Server) handleGetPositions(ctx context.Context, params json.RawMessage) Response {
	var p getPositionsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errResponse(ErrMissingAccount, err.Error())
	}
	if p.Account == "" {
		return errResponse(ErrMissingAccount, "account is required")
	}

	positions, err := s.broker.GetPositions(p.Account)
	if err != nil {
		return errResponse(ErrOrderExecutionError, err.Error())
	}

	dtos := make([]positionDTO, 0, len(positions))
	for _, pos := range positions {
		dtos = append(dtos, positionDTO{
			Account:       pos.Account,
			ItemCode:      pos.ItemCode,
			Quantity:      pos.Quantity,
			AveragePrice:  pos.AveragePrice,
			UnrealizedPnL: pos.UnrealizedPnL,
		})
	}
	return okResponse(positionsResult{Positions: dtos})
}

func (s *Server) handleHealthCheck(ctx context.Context) Response {
	status := models.HealthStatusHealthy
	if !s.broker.IsConnected() {
		status = models.HealthStatusUnhealthy
	}
	s.refreshHealthCache(ctx)
	return okResponse(healthResult{
		Status:            status,
		ExchangeConnected: s.broker.IsConnected(),
		Timestamp:         time.Now().Unix(),
		ServerRunning:     s.Status() == models.StatusRunning,
	})
}

// refreshHealthCache writes the server's own current status to the Health
// Cache, so a health_check call doubles as a liveness refresh for whatever
// is reading the cache (e.g. the Operator Surface in a split-process
// deployment). A nil Health Cache or a write failure is logged, not fatal:
// the health_check response itself is unaffected either way.
func (s *Server) refreshHealthCache(ctx context.Context) {
	if s.health == nil {
		return
	}
	if err := s.health.SetStatus(ctx, healthComponentName, s.Status()); err != nil {
		log.Error().Err(err).Msg("gateway server: failed to refresh health cache")
	}
}

func (s *Server) recordAudit(ctx context.Context, resp Response) {
	if s.auditLog == nil {
		return
	}
	var op string
	var account string
	if req, ok := ctx.Value(requestMetaKey{}).(requestMeta); ok {
		op = req.operation
		account = req.account
	}
	if err := s.auditLog.Record(ctx, audit.Entry{
		TraceID:   tracing.TraceIDFromCtx(ctx),
		Operation: op,
		Account:   account,
		Success:   resp.Success,
		ErrorCode: resp.ErrorCode,
	}); err != nil {
		log.Error().Err(err).Msg("failed to write audit record")
	}
}

type requestMetaKey struct{}

type requestMeta struct {
	operation string
	account   string
}

// Stop signals the serving goroutine, waits up to 2s, then closes the
// socket. Calling Stop on an already-STOPPED server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.status == models.StatusStopped {
		s.mu.Unlock()
		return nil
	}
	s.status = models.StatusStopping
	stopCh := s.stopCh
	doneCh := s.doneCh
	sock := s.sock
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(2 * time.Second):
			log.Warn().Msg("gateway server did not stop within grace period")
		}
	}

	var err error
	if sock != nil {
		err = sock.Close()
	}

	s.mu.Lock()
	s.status = models.StatusStopped
	s.mu.Unlock()

	log.Info().Msg("gateway server stopped")
	return err
}
