// Package preview serves a live view of the device over WHEP, relaying the
// scrcpy H.264 stream and audio to one browser viewer at a time.
package preview

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"baas/internal/device"
	"baas/internal/session"
	"baas/internal/types"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

const maxOfferBytes = 1 << 20

// Device is what the server needs from an open device.
type Device interface {
	session.GestureHandler
	Screenshot(buf *types.Frame) error
	Status() device.Status
	OpenMirror() (types.Mirror, error)
}

// AudioEncoderFactory creates the Opus encoder for one viewer.
type AudioEncoderFactory func() (types.AudioEncoder, error)

type Config struct {
	Addr  string
	Token string
	Stats bool

	OfferTimeout   time.Duration
	AllowedOrigins []string
	AuthFailLimit  int
	AuthFailWindow time.Duration

	// TLSCert and TLSKey take precedence over TLS.
	TLSCert string
	TLSKey  string
	TLS     *tls.Config

	// NewAudioEncoder is nil when viewers get no audio.
	NewAudioEncoder AudioEncoderFactory
	// Sink, when set, also plays device audio on the host.
	Sink types.AudioSink
}

type Server struct {
	cfg  Config
	dev  Device
	log  *logrus.Entry
	auth *authLimiter
	http *http.Server

	// pipelines tracks running relays so Teardown can wait for them.
	pipelines sync.WaitGroup

	mu   sync.Mutex
	sess *session.Session
}

func New(cfg Config, dev Device, log *logrus.Entry) *Server {
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:  cfg,
		dev:  dev,
		log:  log.WithField("component", "preview"),
		auth: newAuthLimiter(cfg.AuthFailLimit, cfg.AuthFailWindow),
	}
	s.http = &http.Server{
		Addr:      cfg.Addr,
		Handler:   s.Handler(),
		TLSConfig: cfg.TLS,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /whep", s.handleWHEPOffer)
	mux.HandleFunc("PATCH /whep/{id}", s.handleWHEPPatch)
	mux.HandleFunc("DELETE /whep/{id}", s.handleWHEPDelete)
	mux.HandleFunc("OPTIONS /whep", s.handleWHEPOptions)
	mux.HandleFunc("OPTIONS /whep/{id}", s.handleWHEPOptions)
	mux.HandleFunc("GET /debug/frame", s.handleDebugFrame)
	return mux
}

func (s *Server) ListenAndServe() error {
	scheme := "http"
	if s.cfg.TLSCert != "" || s.cfg.TLS != nil {
		scheme = "https"
	}
	s.log.Infof("preview: listening on %s://%s", scheme, s.cfg.Addr)

	var err error
	switch {
	case s.cfg.TLSCert != "":
		err = s.http.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	case s.cfg.TLS != nil:
		err = s.http.ListenAndServeTLS("", "")
	default:
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and tears down the viewer.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.Teardown()
	return err
}

// Teardown closes the active viewer and waits for its relay to stop.
func (s *Server) Teardown() {
	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()
	s.pipelines.Wait()
}

func (s *Server) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	switch {
	case len(s.cfg.AllowedOrigins) == 0:
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case slices.Contains(s.cfg.AllowedOrigins, origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Expose-Headers", "Location")
}

func (s *Server) handleWHEPOptions(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w, r)
	w.Header().Set("Access-Control-Allow-Methods", "POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	s.mu.Lock()
	viewer := s.sess != nil && !s.sess.IsClosed()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		device.Status
		Viewer bool `json:"viewer"`
	}{s.dev.Status(), viewer})
}

func (s *Server) handleWHEPOffer(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w, r)
	if !s.checkAuth(w, r) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOfferBytes))
	if err != nil || len(body) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// one viewer at a time
	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()

	mirror, err := s.dev.OpenMirror()
	if err != nil {
		s.log.WithError(err).Error("preview: open mirror")
		http.Error(w, "device stream unavailable", http.StatusServiceUnavailable)
		return
	}

	id := uuid.New().String()
	sess, err := session.New(id, s.dev, s.log)
	if err != nil {
		mirror.Close()
		s.log.WithError(err).Error("preview: session create")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	answer, status, err := s.negotiate(r.Context(), sess, string(body))
	if err != nil {
		sess.Close()
		mirror.Close()
		s.log.WithError(err).Warn("preview: negotiate")
		http.Error(w, http.StatusText(status), status)
		return
	}

	s.mu.Lock()
	// another offer may have installed its viewer while this one negotiated
	s.teardownLocked()
	s.sess = sess
	s.mu.Unlock()

	s.pipelines.Add(1)
	go func() {
		defer s.pipelines.Done()
		s.runPipeline(sess, mirror)
	}()

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", "/whep/"+id)
	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, answer)
}

// negotiate applies the offer and returns the answer once ICE gathering is
// done. The status is the HTTP code to reply with on error.
func (s *Server) negotiate(ctx context.Context, sess *session.Session, sdp string) (string, int, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := sess.PC.SetRemoteDescription(offer); err != nil {
		return "", http.StatusBadRequest, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := sess.PC.CreateAnswer(nil)
	if err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(sess.PC)
	if err := sess.PC.SetLocalDescription(answer); err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("set local description: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OfferTimeout)
	defer cancel()
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", http.StatusGatewayTimeout, fmt.Errorf("ice gathering: %w", ctx.Err())
	}
	return sess.PC.LocalDescription().SDP, 0, nil
}

func (s *Server) handleWHEPPatch(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w, r)
	if !s.checkAuth(w, r) {
		return
	}

	sess := s.lookup(r.PathValue("id"))
	if sess == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOfferBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "a=candidate:") {
			continue
		}
		c := strings.TrimPrefix(line, "a=")
		if err := sess.PC.AddICECandidate(webrtc.ICECandidateInit{Candidate: c}); err != nil {
			s.log.WithError(err).Debug("preview: add ice candidate")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWHEPDelete(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w, r)
	if !s.checkAuth(w, r) {
		return
	}

	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.ID != id {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.teardownLocked()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) lookup(id string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.ID != id {
		return nil
	}
	return s.sess
}

func (s *Server) handleDebugFrame(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}

	var frame types.Frame
	if err := s.dev.Screenshot(&frame); err != nil {
		http.Error(w, fmt.Sprintf("screenshot failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, frame.Image()); err != nil {
		s.log.WithError(err).Debug("preview: write frame")
	}
}

// teardownLocked closes the viewer session. Its relay notices and releases
// the mirror.
func (s *Server) teardownLocked() {
	if s.sess != nil {
		s.sess.Close()
		s.sess = nil
	}
}
