package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardnew/sdmsc/bridge"
	"github.com/ardnew/sdmsc/bridge/endpoint"
	"github.com/ardnew/sdmsc/pkg"
	"github.com/ardnew/sdmsc/pkg/prof"
	"github.com/ardnew/sdmsc/sdcard"
	"github.com/ardnew/sdmsc/sdcard/cardid"
)

// MaxBlocksPerRequest bounds the blocks moved by one request.
const MaxBlocksPerRequest = 2048

// RequestIDHeader carries the identifier assigned to each request.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// Config holds server configuration.
type Config struct {
	// PacketSize is the endpoint packet size used for transfers.
	PacketSize int

	// Depth is the endpoint queue depth used for transfers.
	Depth int

	// AccessLog receives combined-format access log lines. Nil disables
	// access logging.
	AccessLog io.Writer

	// CardIDs names the manufacturer reported in the CID.
	CardIDs *cardid.Database
}

// Option is a functional option for configuring the Server.
type Option func(*Config)

// WithPacketSize sets the endpoint packet size used for transfers.
func WithPacketSize(size int) Option {
	return func(c *Config) {
		c.PacketSize = size
	}
}

// WithDepth sets the endpoint queue depth used for transfers.
func WithDepth(depth int) Option {
	return func(c *Config) {
		c.Depth = depth
	}
}

// WithAccessLog enables access logging to w.
func WithAccessLog(w io.Writer) Option {
	return func(c *Config) {
		c.AccessLog = w
	}
}

// WithCardIDs sets the manufacturer ID database used by GET /info.
func WithCardIDs(db *cardid.Database) Option {
	return func(c *Config) {
		c.CardIDs = db
	}
}

// Server exposes a Bridge over HTTP. Requests are serialized; the bridge
// runs one block operation at a time.
type Server struct {
	mutex   sync.Mutex
	bridge  *bridge.Bridge
	config  Config
	metrics *Metrics
	handler http.Handler
}

// New creates a server for b. The bridge may be initialized already or
// through POST /init.
func New(b *bridge.Bridge, opts ...Option) *Server {
	config := Config{
		PacketSize: endpoint.DefaultPacketSize,
		Depth:      endpoint.DefaultDepth,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.CardIDs == nil {
		config.CardIDs = cardid.New()
	}

	s := &Server{
		bridge:  b,
		config:  config,
		metrics: NewMetrics(),
	}
	s.metrics.setOperational(b.IsOperational())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("POST /init", s.handleInit)
	mux.HandleFunc("GET /blocks/{start}", s.handleRead)
	mux.HandleFunc("PUT /blocks/{start}", s.handleWrite)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	prof.Register(mux)

	var h http.Handler = withRequestID(mux)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(h)
	if config.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(config.AccessLog, h)
	}
	s.handler = h
	return s
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	pkg.LogInfo(pkg.ComponentServer, "listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Metrics returns the server's transfer metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

type infoResponse struct {
	Type        string   `json:"type"`
	Blocks      uint32   `json:"blocks"`
	BlockSize   uint32   `json:"block_size"`
	LUNs        uint32   `json:"luns"`
	LUNBlocks   uint32   `json:"lun_blocks"`
	Operational bool     `json:"operational"`
	CID         *cidInfo `json:"cid,omitempty"`
}

type cidInfo struct {
	Manufacturer     uint8  `json:"manufacturer"`
	ManufacturerName string `json:"manufacturer_name,omitempty"`
	OEM              string `json:"oem"`
	Product          string `json:"product"`
	Revision         string `json:"revision"`
	Serial           uint32 `json:"serial"`
	Date             string `json:"date"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	writeJSON(w, http.StatusOK, s.info(r.Context()))
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := s.bridge.Init(r.Context())
	s.metrics.setOperational(s.bridge.IsOperational())
	if err != nil {
		s.fail(w, r, "init", err)
		return
	}
	writeJSON(w, http.StatusOK, s.info(r.Context()))
}

// info describes the medium. Caller holds the mutex.
func (s *Server) info(ctx context.Context) infoResponse {
	resp := infoResponse{
		Type:        sdcard.TypeUnknown.String(),
		Blocks:      s.bridge.BlockCount(),
		BlockSize:   s.bridge.BlockSize(),
		LUNs:        s.bridge.LUNs(),
		LUNBlocks:   s.bridge.LUNBlockCount(),
		Operational: s.bridge.IsOperational(),
	}
	card := s.bridge.Card()
	if card == nil || !resp.Operational {
		return resp
	}
	resp.Type = card.Type().String()

	cid, err := card.ReadCID()
	if err != nil {
		pkg.LogWarn(pkg.ComponentServer, "CID read failed",
			"request", requestID(ctx),
			"error", err)
		return resp
	}
	resp.CID = &cidInfo{
		Manufacturer:     cid.ManufacturerID,
		ManufacturerName: s.config.CardIDs.LookupManufacturer(cid.ManufacturerID),
		OEM:              cid.OEMID,
		Product:          cid.ProductName,
		Revision:         cid.RevisionString(),
		Serial:           cid.SerialNumber,
		Date:             fmt.Sprintf("%d-%02d", cid.Year, cid.Month),
	}
	return resp
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	start, err := parseUint(r.PathValue("start"), 32)
	if err != nil {
		s.fail(w, r, bridge.OpRead, err)
		return
	}
	count := uint64(1)
	if v := r.URL.Query().Get("count"); v != "" {
		if count, err = parseUint(v, 16); err != nil {
			s.fail(w, r, bridge.OpRead, err)
			return
		}
	}
	if count == 0 || count > MaxBlocksPerRequest {
		s.fail(w, r, bridge.OpRead, fmt.Errorf("%w: count %d outside 1..%d", pkg.ErrInvalidParameter, count, MaxBlocksPerRequest))
		return
	}

	in, err := endpoint.NewIn(endpoint.WithPacketSize(s.config.PacketSize), endpoint.WithDepth(s.config.Depth))
	if err != nil {
		s.fail(w, r, bridge.OpRead, err)
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var body bytes.Buffer
	body.Grow(int(count) * sdcard.SectorSize)
	began := time.Now()
	err = endpoint.Collect(r.Context(), in, int(count)*sdcard.SectorSize, &body, func(ctx context.Context) error {
		return s.bridge.ReadBlocks(ctx, in, uint32(start), uint16(count))
	})
	s.metrics.observe(bridge.OpRead, int(count), began, err)
	s.metrics.setOperational(s.bridge.IsOperational())
	if err != nil {
		s.fail(w, r, bridge.OpRead, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(body.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := body.WriteTo(w); err != nil {
		pkg.LogWarn(pkg.ComponentServer, "response write failed",
			"request", requestID(r.Context()),
			"op", bridge.OpRead,
			"error", err)
	}
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	start, err := parseUint(r.PathValue("start"), 32)
	if err != nil {
		s.fail(w, r, bridge.OpWrite, err)
		return
	}

	limit := int64(MaxBlocksPerRequest * sdcard.SectorSize)
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		s.fail(w, r, bridge.OpWrite, err)
		return
	}
	if int64(len(data)) > limit {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 || len(data)%sdcard.SectorSize != 0 {
		s.fail(w, r, bridge.OpWrite, fmt.Errorf("%w: body of %d bytes is not whole blocks", pkg.ErrInvalidParameter, len(data)))
		return
	}
	count := len(data) / sdcard.SectorSize

	out, err := endpoint.NewOut(endpoint.WithPacketSize(s.config.PacketSize), endpoint.WithDepth(s.config.Depth))
	if err != nil {
		s.fail(w, r, bridge.OpWrite, err)
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	began := time.Now()
	err = endpoint.Feed(r.Context(), out, data, func(ctx context.Context) error {
		return s.bridge.WriteBlocks(ctx, out, uint32(start), uint16(count))
	})
	s.metrics.observe(bridge.OpWrite, count, began, err)
	s.metrics.setOperational(s.bridge.IsOperational())
	if err != nil {
		s.fail(w, r, bridge.OpWrite, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail logs err and writes the matching HTTP error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusCode(err)
	args := []any{
		"request", requestID(r.Context()),
		"op", op,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		pkg.LogWarn(pkg.ComponentServer, "request failed", args...)
	} else {
		pkg.LogDebug(pkg.ComponentServer, "request rejected", args...)
	}
	http.Error(w, err.Error(), status)
}

func statusCode(err error) int {
	switch failureReason(err) {
	case reasonInvalid:
		return http.StatusBadRequest
	case reasonNotReady:
		return http.StatusServiceUnavailable
	case reasonAborted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseUint(s string, bits int) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", pkg.ErrInvalidParameter, s)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		pkg.LogWarn(pkg.ComponentServer, "response encoding failed", "error", err)
	}
}

// withRequestID tags each request with a ULID, echoed in the response
// header and attached to the request context for logging.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ulid.Make().String()
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		pkg.LogDebug(pkg.ComponentServer, "request",
			"request", id,
			"method", r.Method,
			"path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// recoveryLogger routes recovered handler panics to the error log.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...any) {
	pkg.LogError(pkg.ComponentServer, "handler panic", "panic", fmt.Sprint(v...))
}
