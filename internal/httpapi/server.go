package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/service"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/cloudsink"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/report"
)

const defaultLogLimit = 100

// CardInjector queues a simulated card read.
type CardInjector interface {
	Present(uid string) bool
}

// PresenceInjector sets the simulated distance reading. A negative value
// means no echo.
type PresenceInjector interface {
	Set(cm float64)
}

type Dependencies struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Addr    string

	Events   http.Handler
	Admin    *service.AdminGate
	Records  store.AttendanceRecordStore
	Settings *service.Settings
	Reports  *service.Reports
	State    *service.State
	Ledger   *service.Ledger

	// Dev routes are only registered when these are set (simulation mode).
	DevCards    CardInjector
	DevPresence PresenceInjector
}

type Server struct {
	httpServer *http.Server
	logger     *logging.Logger
	mux        *http.ServeMux

	admin    *service.AdminGate
	records  store.AttendanceRecordStore
	settings *service.Settings
	reports  *service.Reports
	state    *service.State
	ledger   *service.Ledger
	cards    CardInjector
	presence PresenceInjector
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	mux := http.NewServeMux()

	s := &Server{
		logger:   d.Logger,
		mux:      mux,
		admin:    d.Admin,
		records:  d.Records,
		settings: d.Settings,
		reports:  d.Reports,
		state:    d.State,
		ledger:   d.Ledger,
		cards:    d.DevCards,
		presence: d.DevPresence,
	}

	if d.Events != nil {
		mux.Handle("GET /v1/ws", d.Events)
	}
	mux.HandleFunc("POST /v1/admin/redeem", s.handleRedeem)
	mux.HandleFunc("GET /v1/attendance_logs", s.handleAttendanceLogs)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("POST /v1/settings", s.handlePostSettings)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/report", s.handleReport)
	if s.cards != nil {
		mux.HandleFunc("POST /v1/dev/scan", s.handleDevScan)
	}
	if s.presence != nil {
		mux.HandleFunc("POST /v1/dev/presence", s.handleDevPresence)
	}
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	handler := loggingMiddleware(d.Logger, d.Metrics, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req types.RedeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	err := s.admin.Redeem(req.Token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
	case errors.Is(err, service.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token_expired", err.Error())
	default:
		writeError(w, http.StatusUnauthorized, "token_invalid", err.Error())
	}
}

func (s *Server) handleAttendanceLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := s.records.ListRecords(r.Context(), limit)
	if err != nil {
		s.logger.Errorf("attendance_logs error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	if wantsProtobuf(r) {
		list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(recs))}
		for _, rec := range recs {
			st, err := cloudsink.RecordStruct(rec)
			if err != nil {
				s.logger.Errorf("attendance_logs encode: %v", err)
				writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
				return
			}
			list.Values = append(list.Values, structpb.NewStructValue(st))
		}
		writeProto(w, http.StatusOK, list)
		return
	}

	out := make([]types.RecordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, types.NewRecordView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	v, err := s.settings.Threshold(r.Context())
	if err != nil {
		s.logger.Errorf("settings error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, types.SettingsBody{AttendanceThreshold: v})
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var req types.SettingsBody
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if err := s.settings.SetThreshold(r.Context(), req.AttendanceThreshold); err != nil {
		if errors.Is(err, report.ErrInvalidThreshold) {
			writeError(w, http.StatusBadRequest, "invalid_threshold", err.Error())
			return
		}
		s.logger.Errorf("settings error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, types.SettingsBody{AttendanceThreshold: strings.TrimSpace(req.AttendanceThreshold)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	act := s.state.Activity()
	resp := types.StatusResponse{
		SystemActive:          act.SystemActive,
		InteractionInProgress: act.InteractionInProgress,
		DoorOperationActive:   act.DoorOperationActive,
		ActiveSessions:        []types.SessionView{},
	}
	for _, sess := range s.ledger.SnapshotAll() {
		resp.ActiveSessions = append(resp.ActiveSessions, types.SessionView{
			CardID:            sess.CardID,
			Name:              sess.Name,
			EntryTime:         sess.EntryTime,
			OnBreak:           sess.OnBreak,
			BreakStart:        sess.BreakStart,
			TotalBreakSeconds: sess.TotalBreakSeconds,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Build(r.Context())
	if err != nil {
		s.logger.Errorf("report error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDevScan(w http.ResponseWriter, r *http.Request) {
	var req types.DevScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	uid := strings.TrimSpace(req.CardID)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "invalid_card_id", service.ErrInvalidCardID.Error())
		return
	}
	if !s.cards.Present(uid) {
		writeError(w, http.StatusServiceUnavailable, "reader_busy", "card reader queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, types.DevScanResponse{Queued: true})
}

func (s *Server) handleDevPresence(w http.ResponseWriter, r *http.Request) {
	var req types.DevPresenceRequest
	if err := decodeJSON(w, r, &req); err != nil || req.DistanceCM == nil {
		writeError(w, http.StatusBadRequest, "bad_json", "distance_cm is required")
		return
	}
	s.presence.Set(*req.DistanceCM)
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}
