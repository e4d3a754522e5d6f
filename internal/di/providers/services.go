package providers

import (
	"context"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/narrateapp/narrate-core/internal/bus"
	"github.com/narrateapp/narrate-core/internal/config"
	"github.com/narrateapp/narrate-core/internal/download"
	"github.com/narrateapp/narrate-core/internal/extract"
	"github.com/narrateapp/narrate-core/internal/logger"
	"github.com/narrateapp/narrate-core/internal/player"
	"github.com/narrateapp/narrate-core/internal/segment"
	"github.com/narrateapp/narrate-core/internal/service"
	"github.com/narrateapp/narrate-core/internal/speech"
	"github.com/narrateapp/narrate-core/internal/syncer"
	"github.com/narrateapp/narrate-core/internal/synth"
)

// ProvideDownloadManager provides the bulk download pipeline.
func ProvideDownloadManager(i do.Injector) (*download.Manager, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	syn := do.MustInvoke[synth.Synthesizer](i)
	norm := do.MustInvoke[*speech.Normalizer](i)
	log := do.MustInvoke[*logger.Logger](i)

	return download.New(storeHandle.Store, syn, norm, log.Logger, cfg.Download), nil
}

// ProvideLibrary provides the library service.
func ProvideLibrary(i do.Injector) (*service.Library, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	extractor := do.MustInvoke[extract.Extractor](i)
	segmenter := do.MustInvoke[*segment.Segmenter](i)
	downloads := do.MustInvoke[*download.Manager](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewLibrary(storeHandle.Store, extractor, segmenter, downloads, log.Logger), nil
}

// PlayerHandle wraps the playback engine with shutdown capability.
type PlayerHandle struct {
	*player.Engine
}

// Shutdown implements do.Shutdownable.
func (h *PlayerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Engine.Close(ctx)
}

// ProvidePlayer provides the playback engine. The output sink and media
// surface default to headless no-ops; hosts override these providers.
func ProvidePlayer(i do.Injector) (*PlayerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	syn := do.MustInvoke[synth.Synthesizer](i)
	norm := do.MustInvoke[*speech.Normalizer](i)
	output := do.MustInvoke[player.Output](i)
	surface := do.MustInvoke[player.MediaSurface](i)
	b := do.MustInvoke[*bus.Bus](i)
	log := do.MustInvoke[*logger.Logger](i)

	engine := player.New(storeHandle.Store, syn, norm, output, surface, b, log.Logger, cfg.Player)
	return &PlayerHandle{Engine: engine}, nil
}

// ProvideOutput provides the host audio sink.
func ProvideOutput(i do.Injector) (player.Output, error) {
	return &player.NullOutput{}, nil
}

// ProvideMediaSurface provides the host media-control surface.
func ProvideMediaSurface(i do.Injector) (player.MediaSurface, error) {
	return player.NoopSurface{}, nil
}

// ProvideRemoteStore provides the remote snapshot slot. The file-backed
// remote serves development; hosts override this with a network client.
func ProvideRemoteStore(i do.Injector) (syncer.RemoteStore, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &syncer.FileRemote{Dir: filepath.Join(cfg.Data.BasePath, "remote")}, nil
}

// SyncHandle wraps the sync engine with shutdown capability.
type SyncHandle struct {
	*syncer.Engine
}

// Shutdown implements do.Shutdownable.
func (h *SyncHandle) Shutdown() error {
	h.Engine.Close()
	return nil
}

// ProvideSyncer provides the cross-device sync engine.
func ProvideSyncer(i do.Injector) (*SyncHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	remote := do.MustInvoke[syncer.RemoteStore](i)
	b := do.MustInvoke[*bus.Bus](i)
	log := do.MustInvoke[*logger.Logger](i)

	return &SyncHandle{Engine: syncer.New(storeHandle.Store, remote, b, log.Logger, cfg.Sync)}, nil
}
