package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxquiz/internal/config"
	"github.com/MrWong99/voxquiz/pkg/audio"
	audiomock "github.com/MrWong99/voxquiz/pkg/audio/mock"
	"github.com/MrWong99/voxquiz/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxquiz/pkg/provider/vad/mock"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var gotVAD config.VADConfig
	r.RegisterVAD("energy", func(c config.VADConfig) (vad.Engine, error) {
		gotVAD = c
		return &vadmock.Engine{}, nil
	})
	src := audiomock.NewSource(1)
	r.RegisterAudio("display", func(config.AudioConfig) (audio.Source, error) { return src, nil })
	r.RegisterAudio("portaudio", func(config.AudioConfig) (audio.Source, error) { return nil, errors.New("no device") })

	if _, err := r.CreateVAD(config.VADConfig{Engine: "energy", ReferenceRMS: 1200}); err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if gotVAD.ReferenceRMS != 1200 {
		t.Errorf("factory got %+v", gotVAD)
	}
	if got, err := r.CreateAudio(config.AudioConfig{Source: "display"}); err != nil || got != src {
		t.Errorf("CreateAudio(display) = %v, %v", got, err)
	}
	if _, err := r.CreateAudio(config.AudioConfig{Source: "portaudio"}); err == nil {
		t.Error("expected factory error to propagate")
	}
	if _, err := r.CreateVAD(config.VADConfig{Engine: "silero"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateVAD(silero) = %v, want ErrProviderNotRegistered", err)
	}

	vads, sources := r.Names()
	if !slices.Equal(vads, []string{"energy"}) || !slices.Equal(sources, []string{"display", "portaudio"}) {
		t.Errorf("Names = %v, %v", vads, sources)
	}
}
