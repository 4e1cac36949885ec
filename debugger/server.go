package debugger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/colorfulnotion/rvm/telemetry"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/colorfulnotion/rvm/types"
	"github.com/gorilla/websocket"
)

// Server methods.
const (
	MethodLoad             = "load"
	MethodStepForward      = "stepForward"
	MethodStepBackward     = "stepBackward"
	MethodSeek             = "seek"
	MethodRewind           = "rewind"
	MethodRun              = "run"
	MethodRunBackward      = "runBackward"
	MethodPosition         = "position"
	MethodStack            = "stack"
	MethodMemory           = "memory"
	MethodStorage          = "storage"
	MethodState            = "state"
	MethodSetBreakpoint    = "setBreakpoint"
	MethodRemoveBreakpoint = "removeBreakpoint"
	MethodBreakpoints      = "breakpoints"
	MethodDiff             = "diff"
	MethodTimeline         = "timeline"
	MethodProfile          = "profile"
	MethodResult           = "result"
)

// ControllerFactory builds the controller of a new session.
type ControllerFactory func(code []byte) (*timetravel.Controller, error)

// Request is one client message.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     uint64      `json:"id"`
	Result interface{} `json:"result"`
	Error  *RPCError   `json:"error,omitempty"`
}

// RPCError carries the symbolic fault name, e.g. AtGenesis, next to the message.
type RPCError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// PositionView is the JSON form of a timeline position.
type PositionView struct {
	Step    uint64       `json:"step"`
	MaxStep uint64       `json:"max_step"`
	PC      uint64       `json:"pc"`
	Op      string       `json:"op"`
	Gas     uint64       `json:"gas"`
	Status  types.Status `json:"status"`
	Fault   string       `json:"fault,omitempty"`
}

type stepParams struct {
	Step uint64 `json:"step"`
	N    uint64 `json:"n"`
}

type rangeParams struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
	From   uint64 `json:"from"`
	To     uint64 `json:"to"`
}

type loadParams struct {
	Code string `json:"code"`
}

type keyParams struct {
	Key string `json:"key"`
}

type breakpointParams struct {
	Condition string       `json:"condition"`
	ID        BreakpointID `json:"id"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server exposes one isolated Debugger per websocket connection.
type Server struct {
	factory    ControllerFactory
	code       []byte
	metrics    *telemetry.Metrics
	runTimeout time.Duration
}

// NewServer serves sessions that start on code (which may be empty until the
// client sends load).
func NewServer(factory ControllerFactory, code []byte, metrics *telemetry.Metrics) *Server {
	return &Server{factory: factory, code: code, metrics: metrics, runTimeout: time.Minute}
}

// SetRunTimeout bounds run and runBackward requests.
func (s *Server) SetRunTimeout(d time.Duration) {
	s.runTimeout = d
}

// Handler routes /ws to sessions and /metrics to the Prometheus registry.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info(log.Debugger, "Debug server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type session struct {
	srv  *Server
	conn *websocket.Conn
	dbg  *Debugger
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(log.Debugger, "serveWs Upgrade error", "err", err)
		return
	}
	sess := &session{srv: s, conn: conn}
	if len(s.code) > 0 {
		if err := sess.load(s.code); err != nil {
			log.Error(log.Debugger, "Session setup failed", "err", err)
			conn.Close()
			return
		}
	}
	s.metrics.Session(1)
	defer s.metrics.Session(-1)
	sess.serve(r.Context())
}

func (sess *session) load(code []byte) error {
	ctrl, err := sess.srv.factory(code)
	if err != nil {
		return err
	}
	sess.dbg = New(ctrl)
	return nil
}

// serve answers requests in order until the client goes away.
func (sess *session) serve(ctx context.Context) {
	defer sess.conn.Close()
	sess.conn.SetReadLimit(1 << 20)
	for {
		var req Request
		if err := sess.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn(log.Debugger, "WebSocket read error", "err", err)
			}
			return
		}
		resp := Response{ID: req.ID}
		result, err := sess.handle(ctx, &req)
		if err != nil {
			resp.Error = &RPCError{Name: rvmerrors.GetErrorName(err), Message: err.Error()}
		} else {
			resp.Result = result
		}
		if err := sess.conn.WriteJSON(resp); err != nil {
			log.Warn(log.Debugger, "WebSocket write error", "err", err)
			return
		}
	}
}

func (sess *session) handle(ctx context.Context, req *Request) (interface{}, error) {
	log.Trace(log.Debugger, "Request", "id", req.ID, "method", req.Method)
	if req.Method == MethodLoad {
		var p loadParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		code := common.FromHex(p.Code)
		if len(code) == 0 {
			return nil, fmt.Errorf("load: empty code")
		}
		if err := sess.load(code); err != nil {
			return nil, err
		}
		return sess.position(), nil
	}
	if sess.dbg == nil {
		return nil, fmt.Errorf("%s: no program loaded", req.Method)
	}
	d := sess.dbg

	switch req.Method {
	case MethodStepForward:
		return d.StepForward()
	case MethodStepBackward:
		if err := d.StepBackward(); err != nil {
			return nil, err
		}
		return sess.position(), nil
	case MethodSeek, MethodRewind:
		var p stepParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		var err error
		if req.Method == MethodSeek {
			err = d.Seek(p.Step)
		} else {
			err = d.Rewind(p.N)
		}
		if err != nil {
			return nil, err
		}
		return sess.position(), nil
	case MethodRun, MethodRunBackward:
		runCtx, cancel := context.WithTimeout(ctx, sess.srv.runTimeout)
		defer cancel()
		if req.Method == MethodRun {
			return d.Run(runCtx)
		}
		return d.RunBackward(runCtx)
	case MethodPosition:
		return sess.position(), nil
	case MethodStack:
		stack := d.InspectStack()
		out := make([]string, len(stack))
		for i := range stack {
			out[i] = stack[i].Hex()
		}
		return out, nil
	case MethodMemory:
		var p rangeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		data, err := d.InspectMemory(p.Offset, p.Length)
		if err != nil {
			return nil, err
		}
		return common.Bytes2Hex(data), nil
	case MethodStorage:
		var p keyParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		key, err := config.ParseWord(p.Key)
		if err != nil {
			return nil, err
		}
		v := d.InspectStorage(key)
		return v.Hex(), nil
	case MethodState:
		return NewStateView(d.Controller().State()), nil
	case MethodSetBreakpoint:
		var p breakpointParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		bp, err := ParseBreakpoint(p.Condition)
		if err != nil {
			return nil, err
		}
		return d.SetBreakpoint(bp), nil
	case MethodRemoveBreakpoint:
		var p breakpointParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return d.RemoveBreakpoint(p.ID), nil
	case MethodBreakpoints:
		return d.Breakpoints(), nil
	case MethodDiff:
		var p rangeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return d.StateDiff(p.From, p.To, false)
	case MethodTimeline:
		var p rangeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.To == 0 {
			p.To = d.Controller().MaxStep()
		}
		return d.RenderTimeline(p.From, p.To, false), nil
	case MethodProfile:
		var p rangeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.To == 0 {
			p.To = d.Controller().MaxStep()
		}
		return d.Profile(p.From, p.To)
	case MethodResult:
		return d.Controller().Result(), nil
	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

func (sess *session) position() PositionView {
	ctrl := sess.dbg.Controller()
	pos := ctrl.Position()
	v := PositionView{Step: pos.Step, MaxStep: ctrl.MaxStep(), PC: pos.PC, Op: pos.Op.String(), Gas: pos.Gas, Status: pos.Status}
	if f := ctrl.Fault(); f != nil {
		v.Fault = f.Error()
	}
	return v
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}
