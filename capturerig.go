package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vaultkeeperirl-design/PiCAM/api"
	"github.com/vaultkeeperirl-design/PiCAM/camera"
	"github.com/vaultkeeperirl-design/PiCAM/common"
	"github.com/vaultkeeperirl-design/PiCAM/config"
	"github.com/vaultkeeperirl-design/PiCAM/panel"
	"github.com/vaultkeeperirl-design/PiCAM/preview"
	"github.com/vaultkeeperirl-design/PiCAM/recording"
)

// CaptureRig orchestrates the loops and owns the shutdown order: stop the
// panel, end any recording, stop the preview (releasing the device), then
// persist the settings. The camera is guaranteed free and the config
// current when Run returns.
type CaptureRig struct {
	state       *camera.State
	store       *config.Store
	settings    config.Settings
	supervisor  *recording.Supervisor
	previewLoop *preview.Loop
	panelLoop   *panel.Loop
	apiServer   *api.Server
	apiAddr     string
	database    *sql.DB
	logger      common.Logger
}

// Run starts everything and blocks until ctx is cancelled.
func (r *CaptureRig) Run(ctx context.Context) error {
	r.previewLoop.Start()
	r.panelLoop.Start()

	apiDone := make(chan error, 1)
	if r.apiServer != nil && r.apiAddr != "" {
		go func() {
			apiDone <- r.apiServer.Run(ctx, r.apiAddr)
		}()
	} else {
		close(apiDone)
	}

	<-ctx.Done()
	r.logger.Info("Shutting down")

	r.panelLoop.Stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := r.supervisor.Stop(stopCtx); err != nil && !errors.Is(err, recording.ErrNotRecording) {
		r.logger.Error("Failed to stop recording during shutdown", "error", err)
	}
	cancel()

	r.previewLoop.Stop()

	if err := r.saveSettings(); err != nil {
		r.logger.Error("Failed to save settings", "error", err)
	}

	if err := <-apiDone; err != nil {
		r.logger.Warn("API server exited with error", "error", err)
	}

	if r.database != nil {
		r.database.Close()
	}

	r.logger.Info("Shutdown complete")
	return nil
}

func (r *CaptureRig) saveSettings() error {
	settings := config.FromSnapshot(r.state.Get(), r.settings)
	if err := r.store.Save(settings); err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}
	r.logger.Info("Settings saved", "path", r.store.Path(), "clip_counter", settings.ClipCounter)
	return nil
}

// nopInput is the render-only input used in preview mode.
type nopInput struct{}

func (nopInput) Poll() (panel.Event, bool) { return panel.EventNone, false }
func (nopInput) Close() error              { return nil }
