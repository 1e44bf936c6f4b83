package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	o := Default()
	require.NoError(t, o.Validate())
	assert.Equal(t, "info", o.LogLevel)
	assert.Equal(t, DefaultBackend, o.Backend)
	assert.Equal(t, uint32(DefaultWidth), o.Width)
	assert.Equal(t, uint32(DefaultHeight), o.Height)
	assert.Equal(t, uint64(DefaultUploadStagingSize), o.UploadStagingSize)
	assert.False(t, o.Metrics)
	assert.Len(t, o.FrameGraphOptions(), 3)
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"toml", "fgdemo.toml", `
log_level = "debug"
backend = "software"
metrics = true
frames = 10
width = 320
disabled_outputs = ["shadow"]
`},
		{"yaml", "fgdemo.yaml", `
log_level: debug
backend: software
metrics: true
frames: 10
width: 320
disabled_outputs: [shadow]
`},
		{"hcl", "fgdemo.hcl", `
log_level        = "debug"
backend          = "software"
metrics          = true
frames           = 10
width            = 320
disabled_outputs = ["shadow"]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := Parse(tt.file, []byte(tt.data))
			require.NoError(t, err)

			level, err := o.Level()
			require.NoError(t, err)
			assert.Equal(t, slog.LevelDebug, level)
			assert.True(t, o.Metrics)
			assert.Equal(t, 10, o.Frames)
			assert.Equal(t, uint32(320), o.Width)
			assert.Equal(t, uint32(DefaultHeight), o.Height, "missing keys keep defaults")
			assert.True(t, o.OutputDisabled("shadow"))
			assert.False(t, o.OutputDisabled("lighting"))
			assert.Len(t, o.FrameGraphOptions(), 4)
		})
	}
}

func TestParseEmptyFileUsesDefaults(t *testing.T) {
	for _, name := range []string{"empty.toml", "empty.yaml", "empty.hcl"} {
		o, err := Parse(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, Default(), o, name)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		data    string
		wantErr error
	}{
		{"unknown extension", "opts.json", `{}`, ErrUnknownFormat},
		{"bad level", "opts.toml", `log_level = "loud"`, ErrInvalid},
		{"bad backend", "opts.yaml", `backend: vulkan`, ErrInvalid},
		{"negative frames", "opts.hcl", `frames = -1`, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.data))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := Parse("opts.toml", []byte(`unknown_key = 1`))
	assert.Error(t, err, "unknown TOML keys are rejected")
	_, err = Parse("opts.hcl", []byte(`frames = `))
	assert.Error(t, err, "HCL syntax errors are reported")
}

func TestValidateReportsEveryField(t *testing.T) {
	o := Default()
	o.LogLevel = "nope"
	o.Backend = "metal"
	err := o.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "backend")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fgdemo.toml")
	require.NoError(t, os.WriteFile(path, []byte(`frames = 3`), 0o600))

	o, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, o.Frames)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fgdemo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frames: 1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Options, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(o *Options, err error) {
			// Writes may be observed half done; wait for the final content.
			if err == nil && o.Frames == 7 {
				select {
				case reloaded <- o:
				default:
				}
			}
		})
	}()

	// The watcher is registered asynchronously; keep writing until it sees one.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case o := <-reloaded:
			assert.Equal(t, 7, o.Frames)
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("frames: 7\n"), 0o600))
		case <-deadline:
			t.Fatal("no reload within 5s")
		}
	}
}
