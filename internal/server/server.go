package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"screen-recorder/internal/config"
	"screen-recorder/internal/encoders"
	"screen-recorder/internal/media"
	"screen-recorder/internal/observability"
	"screen-recorder/internal/session"
	"screen-recorder/pkg/models"
)

// Controller is the recording session driven by the API.
type Controller interface {
	ConfigureGrant(grant session.CaptureGrant) error
	Setup(params media.RecordingParameters) error
	Start() error
	Stop(destroyGrant bool)
	Status() session.Status
}

// GrantRequester asks the host for a capture grant, e.g. through a consent dialog.
type GrantRequester interface {
	RequestGrant(ctx context.Context) (session.CaptureGrant, error)
}

type EncoderLister interface {
	Candidates(mimeType string, mode encoders.Mode) ([]*encoders.Descriptor, error)
}

type RecordingLister interface {
	List() ([]models.Recording, error)
}

type HostInspector interface {
	Specs(ctx context.Context) (models.HostSpecs, error)
	CheckFreeSpace(ctx context.Context, path string) error
}

// Deps are the collaborators of the API. Session, Hub and Host are required.
type Deps struct {
	Session   Controller
	Hub       *EventHub
	Host      HostInspector
	Grants    GrantRequester
	Encoders  EncoderLister
	Index     RecordingLister
	Selection encoders.Mode
	Defaults  config.Defaults
	OutputDir string
	Metrics   *observability.Metrics
	Logger    *zerolog.Logger
	// Shutdown is called after POST /v1/service/stop answered.
	Shutdown func()
}

type Server struct {
	d      Deps
	logger zerolog.Logger
	now    func() time.Time
}

func New(d Deps) *Server {
	l := zerolog.Nop()
	if d.Logger != nil {
		l = d.Logger.With().Str("component", "api").Logger()
	}
	return &Server{d: d, logger: l, now: time.Now}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.d.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.d.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/grant", s.handleGrant)
	mux.HandleFunc("POST /v1/grant/request", s.handleGrantRequest)
	mux.HandleFunc("POST /v1/recorder/setup", s.handleSetup)
	mux.HandleFunc("POST /v1/recording/start", s.handleStart)
	mux.HandleFunc("POST /v1/recording/stop", s.handleStop)
	mux.HandleFunc("POST /v1/service/stop", s.handleServiceStop)
	mux.HandleFunc("GET /v1/encoders", s.handleEncoders)
	mux.HandleFunc("GET /v1/recordings", s.handleRecordings)
	mux.HandleFunc("GET /v1/host", s.handleHost)
	mux.HandleFunc("GET /v1/events", s.d.Hub.HandleWS)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", addr).Msg("listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func statusModel(st session.Status) models.StatusResponse {
	resp := models.StatusResponse{
		State:      st.State.String(),
		HasGrant:   st.HasGrant,
		Configured: st.Configured,
	}
	if st.Params != nil {
		resp.OutputPath = st.Params.OutputPath
	}
	if f := st.Format; f != nil {
		resp.Format = &models.Format{
			VideoWidth:      f.VideoSize.Width,
			VideoHeight:     f.VideoSize.Height,
			VideoFrameRate:  f.VideoFrameRate,
			VideoBitRate:    f.VideoBitRate,
			AudioBitRate:    f.AudioBitRate,
			AudioSampleRate: f.AudioSampleRate,
			AudioChannels:   f.AudioChannels,
			VideoEncoder:    f.VideoEncoder,
			AudioEncoder:    f.AudioEncoder,
			Validated:       f.Validated,
		}
	}
	return resp
}

func (s *Server) writeStatus(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, statusModel(s.d.Session.Status()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w)
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var body models.GrantPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid grant body", err.Error())
		return
	}
	grant := session.CaptureGrant{ResultCode: body.ResultCode, Payload: []byte(body.Payload)}
	if err := s.d.Session.ConfigureGrant(grant); err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeStatus(w)
}

func (s *Server) handleGrantRequest(w http.ResponseWriter, r *http.Request) {
	if s.d.Grants == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "no grant requester configured", nil)
		return
	}
	grant, err := s.d.Grants.RequestGrant(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("capture grant request failed")
		writeError(w, http.StatusBadGateway, "grant_request_failed", err.Error(), nil)
		return
	}
	if err := s.d.Session.ConfigureGrant(grant); err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeStatus(w)
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req models.SetupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid setup body", err.Error())
		return
	}
	params, err := parameters(req, s.d.Defaults, s.d.OutputDir, s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	if err := s.d.Host.CheckFreeSpace(r.Context(), params.OutputPath); err != nil {
		writeSessionError(w, err)
		return
	}
	if err := s.d.Session.Setup(params); err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeStatus(w)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Session.Start(); err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeStatus(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	destroy := false
	if v := r.URL.Query().Get("destroy_grant"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "destroy_grant must be a boolean", v)
			return
		}
		destroy = b
	}
	s.d.Session.Stop(destroy)
	s.writeStatus(w)
}

func (s *Server) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	s.d.Session.Stop(true)
	writeJSON(w, http.StatusAccepted, statusModel(s.d.Session.Status()))
	if s.d.Shutdown != nil {
		s.logger.Info().Msg("service stop requested")
		go s.d.Shutdown()
	}
}

func (s *Server) handleEncoders(w http.ResponseWriter, r *http.Request) {
	if s.d.Encoders == nil {
		writeError(w, http.StatusNotImplemented, "not_supported", "encoder probing is disabled", nil)
		return
	}
	mime := r.URL.Query().Get("mime")
	if mime == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "mime is required", nil)
		return
	}
	mode := s.d.Selection
	if v := r.URL.Query().Get("mode"); v != "" {
		m, err := encoders.ParseMode(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
			return
		}
		mode = m
	}
	descs, err := s.d.Encoders.Candidates(mime, mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	out := make([]models.EncoderInfo, 0, len(descs))
	for _, d := range descs {
		info := models.EncoderInfo{Name: d.Name, MimeType: d.MimeType, Types: d.Types, Hardware: d.Hardware}
		if d.Video != nil {
			info.Widths = d.Video.SupportedWidths().String()
			info.Heights = d.Video.SupportedHeights().String()
			info.BitRates = d.Video.BitrateRange().String()
		} else if d.Audio != nil {
			info.BitRates = d.Audio.BitrateRange().String()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if s.d.Index == nil {
		writeJSON(w, http.StatusOK, []models.Recording{})
		return
	}
	recs, err := s.d.Index.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	specs, err := s.d.Host.Specs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, specs)
}
