package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"github.com/shaunagostinho/goobd/internal/adapter"
	"github.com/shaunagostinho/goobd/internal/logger"
	"github.com/shaunagostinho/goobd/internal/obd"
	"github.com/shaunagostinho/goobd/internal/pids"
)

// Server polls the OBD adapter and broadcasts decoded readings to WebSocket clients.
type Server struct {
	cfg    *Config
	webFS  fs.FS
	logger *logger.Logger

	devMu sync.RWMutex
	dev   *obd.Device
	link  *adapter.Link
	subs  []obd.Subscription

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	valuesMu sync.Mutex
	values   map[string]Value
	vin      string

	canErrors *atomic.Uint64

	// Odometer, integrated from vehicle speed readings
	odoMu       sync.Mutex
	odoTotal    float64 // Total km
	odoTrip     float64 // Trip km (resettable)
	lastSpeed   float64 // km/h
	lastSpeedAt time.Time
	odoPath     string
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Values map[string]Value `json:"values,omitempty"`
	Config *DisplayConfig   `json:"config,omitempty"`
	Odo    *OdoData         `json:"odo,omitempty"`
	Status *Status          `json:"status,omitempty"`
	Stamp  int64            `json:"stamp"` // Unix ms
}

// Value is the latest decoded reading for one parameter.
type Value struct {
	PID   string `json:"pid"`
	Value any    `json:"value"`
	Unit  string `json:"unit"`
	Text  string `json:"text"`
	Stamp int64  `json:"stamp"` // Unix ms of the reply line
}

// OdoData is the odometer info sent to clients.
type OdoData struct {
	Total float64 `json:"total"` // km
	Trip  float64 `json:"trip"`  // km
}

// Status describes the adapter session.
type Status struct {
	State     string        `json:"state"`
	VIN       string        `json:"vin,omitempty"`
	CANErrors uint64        `json:"canErrors"`
	Link      adapter.Stats `json:"link"`
}

// New creates a new Server. Attach a device once the adapter is initialized.
func New(cfg *Config, webFS fs.FS) *Server {
	odoPath := filepath.Join(filepath.Dir(cfg.path), "odometer.dat")
	if cfg.path == "" {
		odoPath = "/etc/goobd/odometer.dat"
	}

	s := &Server{
		cfg:   cfg,
		webFS: webFS,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		values:    make(map[string]Value),
		canErrors: atomic.NewUint64(0),
		odoPath:   odoPath,
	}
	s.logger.SetDefaultMode(obd.Mode(cfg.OBD.Mode))
	s.loadOdometer()
	return s
}

// Attach makes dev the active session, replacing any previous one, and
// subscribes the dashboard to its readings.
func (s *Server) Attach(dev *obd.Device, link *adapter.Link) {
	s.devMu.Lock()
	old, oldSubs := s.dev, s.subs
	s.dev, s.link = dev, link
	s.subs = []obd.Subscription{
		dev.SubscribeAll(s.onReading),
		dev.SubscribeAll(s.logger.Record),
		obd.Subscribe[pids.VehicleSpeed](dev, s.onSpeed),
		dev.OnBusError(s.onBusError),
	}
	s.devMu.Unlock()

	if old != nil && old != dev {
		for _, sub := range oldSubs {
			old.Unsubscribe(sub)
		}
	}
	go s.identify(dev)
}

// Detach drops the active session without disposing it.
func (s *Server) Detach() *obd.Device {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	dev := s.dev
	if dev != nil {
		for _, sub := range s.subs {
			dev.Unsubscribe(sub)
		}
	}
	s.dev, s.link, s.subs = nil, nil, nil
	return dev
}

func (s *Server) device() *obd.Device {
	s.devMu.RLock()
	defer s.devMu.RUnlock()
	return s.dev
}

// identify reads the VIN once per session.
func (s *Server) identify(dev *obd.Device) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	vin, err := obd.Query[pids.VehicleIdentificationNumber](ctx, dev)
	if err != nil {
		log.Printf("[server] VIN not available: %v", err)
		return
	}
	s.valuesMu.Lock()
	s.vin = vin.VIN
	s.valuesMu.Unlock()
	log.Printf("[server] vehicle %s", vin.VIN)
}

// Run starts the HTTP server and data polling loops.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// Odometer API
	mux.HandleFunc("/api/odo/reset-trip", s.handleResetTrip)

	// Raw adapter commands
	mux.HandleFunc("/api/command", s.handleCommand)

	go s.pollLoop(ctx)
	go s.broadcastLoop(ctx)

	// Persist odometer every 30 seconds
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.saveOdometer()
				return
			case <-ticker.C:
				s.saveOdometer()
			}
		}
	}()

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Initial config + odometer
	display := s.cfg.DisplaySnapshot()
	cfgFrame := Frame{
		Config: &display,
		Odo:    s.odometer(),
		Status: s.status(),
		Stamp:  time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(cfgFrame); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects disconnect)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		s.applyConfig()
		display := s.cfg.DisplaySnapshot()
		s.broadcast(Frame{Config: &display, Stamp: time.Now().UnixMilli()})

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleResetTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.odoMu.Lock()
	s.odoTrip = 0
	s.odoMu.Unlock()
	s.saveOdometer()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// applyConfig pushes settings that can change at runtime to the logger
// and the active device.
func (s *Server) applyConfig() {
	s.cfg.mu.RLock()
	enabled := s.cfg.Logging.Enabled
	mode := obd.Mode(s.cfg.OBD.Mode)
	s.cfg.mu.RUnlock()

	s.logger.SetEnabled(enabled)
	s.logger.SetDefaultMode(mode)
	if dev := s.device(); dev != nil && mode != obd.ModeNone && dev.Mode() != mode {
		log.Printf("[server] default mode %s -> %s", dev.Mode(), mode)
		dev.SetMode(mode)
	}
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// handleCommand sends one raw command (e.g. "ATRV" or "010C") and returns
// the adapter's answer.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		http.Error(w, "bad request", 400)
		return
	}
	dev := s.device()
	if dev == nil {
		http.Error(w, obd.ErrNotReady.Error(), 503)
		return
	}

	var resp commandResponse
	v, err := dev.Exec(r.Context(), strings.TrimSpace(req.Command))
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = describe(v)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func describe(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return v.String()
	case string:
		return v
	}
	return fmt.Sprint(v)
}

// pollLoop sweeps the configured parameters at poll_hz while a device is ready.
func (s *Server) pollLoop(ctx context.Context) {
	hz, _ := s.pollSettings()
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		dev := s.device()
		if dev == nil || dev.State() != obd.StateReady {
			continue
		}
		_, names := s.pollSettings()
		s.sweep(ctx, dev, names)
	}
}

func (s *Server) pollSettings() (int, []string) {
	s.cfg.mu.RLock()
	defer s.cfg.mu.RUnlock()
	hz := s.cfg.OBD.PollHz
	if hz <= 0 {
		hz = 4
	}
	return hz, append([]string(nil), s.cfg.OBD.PIDs...)
}

// sweep queries each parameter in turn. Readings reach the dashboard
// through the device subscription, so only failures are handled here.
func (s *Server) sweep(ctx context.Context, dev *obd.Device, names []string) {
	for _, name := range names {
		e, err := pids.Lookup(name)
		if err != nil {
			log.Printf("[server] %v", err)
			continue
		}
		if _, err := e.Query(ctx, dev); err != nil {
			if errors.Is(err, obd.ErrDisposed) || ctx.Err() != nil {
				return
			}
			if s.cfg.OBD.Debug {
				log.Printf("[server] %s: %v", name, err)
			}
		}
	}
}

// broadcastLoop pushes the latest readings to clients at 10 Hz.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Close()
			return
		case <-ticker.C:
			values := s.snapshot()
			if len(values) == 0 {
				continue
			}
			s.broadcast(Frame{
				Values: values,
				Odo:    s.odometer(),
				Status: s.status(),
				Stamp:  time.Now().UnixMilli(),
			})
		}
	}
}

func (s *Server) onReading(data obd.Data, at time.Time) {
	r, ok := data.(pids.Reading)
	if !ok {
		return
	}
	s.valuesMu.Lock()
	s.values[r.Name()] = Value{
		PID:   fmt.Sprintf("%02X", r.PID()),
		Value: r.Value(),
		Unit:  r.Unit(),
		Text:  r.String(),
		Stamp: at.UnixMilli(),
	}
	s.valuesMu.Unlock()
}

func (s *Server) onBusError(line string, at time.Time) {
	n := s.canErrors.Inc()
	log.Printf("[server] adapter reported %q (%d total)", line, n)
}

func (s *Server) snapshot() map[string]Value {
	s.valuesMu.Lock()
	defer s.valuesMu.Unlock()
	out := make(map[string]Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Server) status() *Status {
	st := &Status{State: "disconnected", CANErrors: s.canErrors.Load()}
	s.devMu.RLock()
	if s.dev != nil {
		st.State = s.dev.State().String()
	}
	if s.link != nil {
		st.Link = s.link.Stats()
	}
	s.devMu.RUnlock()
	s.valuesMu.Lock()
	st.VIN = s.vin
	s.valuesMu.Unlock()
	return st
}

// onSpeed integrates vehicle speed into the odometer (trapezoidal rule).
func (s *Server) onSpeed(v *pids.VehicleSpeed, at time.Time) {
	s.odoMu.Lock()
	defer s.odoMu.Unlock()

	speed := float64(v.KPH)
	if !s.lastSpeedAt.IsZero() {
		dt := at.Sub(s.lastSpeedAt).Hours()
		// Ignore gaps (reconnects, paused polling) longer than 5 s
		if dt > 0 && dt < 5.0/3600 {
			dist := (s.lastSpeed + speed) / 2 * dt
			s.odoTotal += dist
			s.odoTrip += dist
		}
	}
	s.lastSpeed = speed
	s.lastSpeedAt = at
}

func (s *Server) odometer() *OdoData {
	s.odoMu.Lock()
	defer s.odoMu.Unlock()
	return &OdoData{Total: math.Round(s.odoTotal*10) / 10, Trip: math.Round(s.odoTrip*10) / 10}
}

// loadOdometer reads persisted odometer values from disk.
func (s *Server) loadOdometer() {
	data, err := os.ReadFile(s.odoPath)
	if err != nil {
		log.Printf("[odo] no saved data at %s (starting at 0)", s.odoPath)
		return
	}
	parts := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(parts) >= 1 {
		if v, err := strconv.ParseFloat(parts[0], 64); err == nil {
			s.odoTotal = v
		}
	}
	if len(parts) >= 2 {
		if v, err := strconv.ParseFloat(parts[1], 64); err == nil {
			s.odoTrip = v
		}
	}
	log.Printf("[odo] loaded: total=%.1f km, trip=%.1f km", s.odoTotal, s.odoTrip)
}

// saveOdometer persists odometer values to disk.
func (s *Server) saveOdometer() {
	s.odoMu.Lock()
	total := s.odoTotal
	trip := s.odoTrip
	s.odoMu.Unlock()

	os.MkdirAll(filepath.Dir(s.odoPath), 0755)

	data := fmt.Sprintf("%.6f\n%.6f\n", total, trip)
	if err := os.WriteFile(s.odoPath, []byte(data), 0644); err != nil {
		log.Printf("[odo] save failed: %v", err)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
