// Package api exposes a small localhost control surface over HTTP, for
// remote triggering and status checks from a phone or laptop on the rig's
// network.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vaultkeeperirl-design/PiCAM/camera"
	"github.com/vaultkeeperirl-design/PiCAM/catalog"
	"github.com/vaultkeeperirl-design/PiCAM/common"
	"github.com/vaultkeeperirl-design/PiCAM/recording"
	"github.com/vaultkeeperirl-design/PiCAM/storage"
)

// RecordControl is the slice of the recording supervisor the API needs.
type RecordControl interface {
	Status() recording.Status
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) error
}

// Server wires the HTTP handlers to the live components.
type Server struct {
	state      *camera.State
	supervisor RecordControl
	controller camera.Controller
	estimator  *storage.Estimator
	repo       catalog.ClipRepository
	logger     common.Logger
}

// NewServer creates the API server. controller, estimator and repo may be
// nil; the endpoints needing them degrade gracefully.
func NewServer(state *camera.State, supervisor RecordControl, controller camera.Controller,
	estimator *storage.Estimator, repo catalog.ClipRepository, logger common.Logger) *Server {
	if logger == nil {
		logger = common.NopLogger
	}
	return &Server{
		state:      state,
		supervisor: supervisor,
		controller: controller,
		estimator:  estimator,
		repo:       repo,
		logger:     logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/formats", s.getFormats)
	api.GET("/clips", s.getClips)
	api.POST("/record/start", s.startRecording)
	api.POST("/record/stop", s.stopRecording)
	api.POST("/controls", s.postControls)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "picam"})
	})
	return router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusResponse struct {
	Device        string           `json:"device"`
	Resolution    string           `json:"resolution"`
	FPS           int              `json:"fps"`
	Exposure      int              `json:"exposure"`
	Gain          int              `json:"gain"`
	WhiteBalanceK int              `json:"wb_temp"`
	AutoExposure  bool             `json:"auto_exposure"`
	AutoFocus     bool             `json:"auto_focus"`
	Focus         int              `json:"focus"`
	Format        string           `json:"format"`
	OutputDir     string           `json:"output_dir"`
	NextClip      string           `json:"next_clip"`
	AudioEnabled  bool             `json:"audio_enabled"`
	MicMuted      bool             `json:"mic_muted"`
	MicGainDB     int              `json:"mic_gain_db"`
	LastError     string           `json:"last_error,omitempty"`
	Recording     recording.Status `json:"recording"`
	Storage       storage.Estimate `json:"storage"`
}

func (s *Server) getStatus(c *gin.Context) {
	snap := s.state.Get()

	resp := statusResponse{
		Device:        snap.Device,
		Resolution:    snap.Resolution,
		FPS:           snap.FPS,
		Exposure:      snap.Exposure,
		Gain:          snap.Gain,
		WhiteBalanceK: snap.WhiteBalanceK,
		AutoExposure:  snap.AutoExposure,
		AutoFocus:     snap.AutoFocus,
		Focus:         snap.Focus,
		Format:        snap.Format().Key,
		OutputDir:     snap.OutputDir,
		NextClip:      snap.ClipName(),
		AudioEnabled:  snap.AudioEnabled,
		MicMuted:      snap.MicMuted,
		MicGainDB:     snap.MicGainDB,
		LastError:     snap.LastError,
		Recording:     s.supervisor.Status(),
	}
	if s.estimator != nil {
		resp.Storage = s.estimator.Estimate(snap.OutputDir, snap.Format(), snap.Resolution)
	}
	c.JSON(http.StatusOK, resp)
}

type formatResponse struct {
	Key             string `json:"key"`
	Label           string `json:"label"`
	Ext             string `json:"ext"`
	Note            string `json:"note"`
	BitrateMbps     int    `json:"bitrate_mbps"`
	SoftwareEncoded bool   `json:"software_encoded"`
	Active          bool   `json:"active"`
}

func (s *Server) getFormats(c *gin.Context) {
	active := s.state.Get().FormatIndex

	formats := make([]formatResponse, 0, len(camera.Formats))
	for i, f := range camera.Formats {
		formats = append(formats, formatResponse{
			Key:             f.Key,
			Label:           f.Label,
			Ext:             f.Ext,
			Note:            f.Note,
			BitrateMbps:     f.BitrateMbps,
			SoftwareEncoded: f.SoftwareEncoded,
			Active:          i == active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"formats": formats})
}

type clipResponse struct {
	ID         string    `json:"id"`
	Number     int       `json:"number"`
	Path       string    `json:"path"`
	Format     string    `json:"format"`
	StartedAt  time.Time `json:"started_at"`
	Seconds    float64   `json:"seconds"`
	SizeBytes  int64     `json:"size_bytes"`
	Truncated  bool      `json:"truncated"`
	ForcedStop bool      `json:"forced_stop"`
}

func (s *Server) getClips(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{"clips": []clipResponse{}})
		return
	}

	clips, err := s.repo.Recent(c.Request.Context(), 50)
	if err != nil {
		s.logger.Error("Failed to list clips", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list clips"})
		return
	}

	resp := make([]clipResponse, 0, len(clips))
	for _, clip := range clips {
		resp = append(resp, clipResponse{
			ID:         clip.ID,
			Number:     clip.Number,
			Path:       clip.Path,
			Format:     clip.FormatKey,
			StartedAt:  clip.StartedAt,
			Seconds:    clip.Duration.Seconds(),
			SizeBytes:  clip.SizeBytes,
			Truncated:  clip.Truncated,
			ForcedStop: clip.ForcedStop,
		})
	}
	c.JSON(http.StatusOK, gin.H{"clips": resp})
}

func (s *Server) startRecording(c *gin.Context) {
	id, err := s.supervisor.Start(c.Request.Context())
	if errors.Is(err, recording.ErrAlreadyRecording) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

func (s *Server) stopRecording(c *gin.Context) {
	err := s.supervisor.Stop(c.Request.Context())
	if errors.Is(err, recording.ErrNotRecording) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// controlsRequest carries deltas and toggles. Absent fields leave the
// setting untouched; values are clamped by the state layer.
type controlsRequest struct {
	ExposureDelta     *int    `json:"exposure_delta"`
	GainDelta         *int    `json:"gain_delta"`
	WhiteBalanceDelta *int    `json:"wb_delta"`
	FocusDelta        *int    `json:"focus_delta"`
	Fine              bool    `json:"fine"`
	MicGainDelta      *int    `json:"mic_gain_delta"`
	Format            *string `json:"format"`
	AutoExposure      *bool   `json:"auto_exposure"`
	AutoWhiteBalance  *bool   `json:"auto_wb"`
	AutoFocus         *bool   `json:"auto_focus"`
	MicMuted          *bool   `json:"mic_muted"`
}

func (s *Server) postControls(c *gin.Context) {
	var req controlsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.ExposureDelta != nil {
		s.state.AdjustExposure(*req.ExposureDelta)
	}
	if req.GainDelta != nil {
		s.state.AdjustGain(*req.GainDelta)
	}
	if req.WhiteBalanceDelta != nil {
		s.state.AdjustWhiteBalance(*req.WhiteBalanceDelta)
	}
	if req.FocusDelta != nil {
		s.state.AdjustFocus(*req.FocusDelta, req.Fine)
	}
	if req.MicGainDelta != nil {
		s.state.AdjustMicGain(*req.MicGainDelta)
	}

	snap := s.state.Update(func(sn *camera.Snapshot) {
		if req.Format != nil {
			if f, idx := camera.FormatByKey(*req.Format); f.Key == *req.Format {
				sn.FormatIndex = idx
			}
		}
		if req.AutoExposure != nil {
			sn.AutoExposure = *req.AutoExposure
		}
		if req.AutoWhiteBalance != nil {
			sn.AutoWhiteBalance = *req.AutoWhiteBalance
		}
		if req.AutoFocus != nil {
			sn.AutoFocus = *req.AutoFocus
		}
		if req.MicMuted != nil {
			sn.MicMuted = *req.MicMuted
		}
	})

	if s.controller != nil {
		if err := s.controller.Apply(c.Request.Context(), snap); err != nil {
			s.logger.Warn("Failed to push controls to device", "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"exposure": snap.Exposure,
		"gain":     snap.Gain,
		"wb_temp":  snap.WhiteBalanceK,
		"focus":    snap.Focus,
		"format":   snap.Format().Key,
	})
}
