package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
	"github.com/ferdagainagainagain/Smartcrowd/metrics"
	"github.com/ferdagainagainagain/Smartcrowd/protocol"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	Hub     *Hub
	ctrl    Controller
	distDir string
	logger  *zap.Logger
	router  *mux.Router
}

// NewServer wires the websocket endpoint and the REST routes. distDir, when
// set, is served as the static dashboard at "/".
func NewServer(hub *Hub, ctrl Controller, distDir string, logger *zap.Logger) *Server {
	s := &Server{Hub: hub, ctrl: ctrl, distDir: distDir, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/metrics", metrics.HandleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/calibration", s.handleGetCalibration).Methods(http.MethodGet)
	r.HandleFunc("/calibration", s.handleUpdateCalibration).Methods(http.MethodPost)
	r.HandleFunc("/calibration/reset", s.handleResetCalibration).Methods(http.MethodPost)
	r.HandleFunc("/calibration/fit", s.handleFitCalibration).Methods(http.MethodPost)
	r.HandleFunc("/alert", s.handleGetAlert).Methods(http.MethodGet)
	r.HandleFunc("/alert/resolve", s.handleResolveAlert).Methods(http.MethodPost)

	if s.distDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.distDir)))
	} else {
		r.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	}
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.Hub.DisconnectAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type statusResponse struct {
	Status      string               `json:"status"`
	Subscribers int                  `json:"subscribers"`
	Seq         uint64               `json:"seq"`
	LastTick    int64                `json:"lastTick,omitempty"`
	Alert       telemetry.AlertState `json:"alert"`
	Averages    map[string]float64   `json:"averages,omitempty"`
	Metrics     map[string]int64     `json:"metrics"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	resp := statusResponse{
		Status:      "ok",
		Subscribers: s.Hub.Subscribers(),
		Alert:       snap.Alert,
		Metrics:     metrics.Snapshot(),
	}
	if snap.Tick != nil {
		resp.Seq = snap.Tick.Seq
		resp.LastTick = snap.Tick.Time
		resp.Averages = make(map[string]float64)
		for name, v := range s.ctrl.Averages() {
			resp.Averages[name] = fusion.Round(v, 2)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.History())
}

func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Calibration())
}

func (s *Server) handleUpdateCalibration(w http.ResponseWriter, r *http.Request) {
	var req protocol.UpdateCalibration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	update := s.Hub.applyCalibration(req)
	if !update.Result.OK {
		writeJSON(w, http.StatusBadRequest, update.Result)
		return
	}
	writeJSON(w, http.StatusOK, update.Calibration)
}

func (s *Server) handleResetCalibration(w http.ResponseWriter, r *http.Request) {
	calib := s.ctrl.ResetCalibration()
	s.logger.Info("calibration reset to defaults")
	s.Hub.BroadcastMessage(protocol.CalibrationUpdate{Calibration: calib, Result: &protocol.CalibrationResult{OK: true}})
	writeJSON(w, http.StatusOK, calib)
}

type fitRequest struct {
	AnchorID string             `json:"anchor_id"`
	Samples  []fusion.FitSample `json:"samples"`
	Apply    bool               `json:"apply"`
}

type fitResponse struct {
	Fit         fusion.FitResult    `json:"fit"`
	Applied     bool                `json:"applied"`
	Calibration *fusion.Calibration `json:"calibration,omitempty"`
}

func (s *Server) handleFitCalibration(w http.ResponseWriter, r *http.Request) {
	var req fitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, ok := s.ctrl.Calibration().Entry(fusion.AnchorID(req.AnchorID)); !ok {
		writeError(w, http.StatusBadRequest, "unknown anchor_id")
		return
	}
	fit, err := fusion.FitPathLoss(req.Samples)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	resp := fitResponse{Fit: fit}
	if req.Apply {
		update := s.Hub.applyCalibration(protocol.UpdateCalibration{AnchorID: req.AnchorID, RSSI1m: &fit.RSSI1m, N: &fit.N})
		if !update.Result.OK {
			writeJSON(w, http.StatusBadRequest, update.Result)
			return
		}
		resp.Applied = true
		resp.Calibration = &update.Calibration
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Alert())
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	prev := s.Hub.resolveAlert()
	writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": prev.Active, "alert": prev})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// IsClosed reports whether err only signals a normal shutdown.
func IsClosed(err error) bool { return err == nil || errors.Is(err, http.ErrServerClosed) }
