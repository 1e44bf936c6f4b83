// Package config loads frame graph and demo options from TOML, YAML or HCL
// files and watches them for changes.
//
// Every field has a default; a file only needs the keys it changes:
//
//	# fgdemo.toml
//	log_level = "debug"
//	metrics = true
//	debug_addr = "127.0.0.1:7070"
//	disabled_outputs = ["shadow_debug"]
package config

import (
	"bytes"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/internal/respool"
)

// Config errors.
var (
	// ErrUnknownFormat is returned for files whose extension is not
	// .toml, .yaml, .yml or .hcl.
	ErrUnknownFormat = errors.New("config: unknown file format")

	// ErrInvalid is returned by Validate.
	ErrInvalid = errors.New("config: invalid options")
)

// Default values.
const (
	DefaultUploadStagingSize = 4 << 20
	DefaultWidth             = 1280
	DefaultHeight            = 720
	DefaultBackend           = "software"
)

// Options are the tunables of a frame graph and of the demo driving it.
type Options struct {
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `toml:"log_level" yaml:"log_level" hcl:"log_level,optional"`

	// Backend names the device backend: software or native.
	Backend string `toml:"backend" yaml:"backend" hcl:"backend,optional"`

	UploadStagingSize    uint64 `toml:"upload_staging_size" yaml:"upload_staging_size" hcl:"upload_staging_size,optional"`
	DownloadStagingSize  uint64 `toml:"download_staging_size" yaml:"download_staging_size" hcl:"download_staging_size,optional"`
	FramesBeforeEviction int    `toml:"frames_before_eviction" yaml:"frames_before_eviction" hcl:"frames_before_eviction,optional"`
	BufferChunkSize      uint64 `toml:"buffer_chunk_size" yaml:"buffer_chunk_size" hcl:"buffer_chunk_size,optional"`
	Metrics              bool   `toml:"metrics" yaml:"metrics" hcl:"metrics,optional"`

	// DebugAddr is the listen address of the debug server; empty disables it.
	DebugAddr string `toml:"debug_addr" yaml:"debug_addr" hcl:"debug_addr,optional"`

	Width  uint32 `toml:"width" yaml:"width" hcl:"width,optional"`
	Height uint32 `toml:"height" yaml:"height" hcl:"height,optional"`
	// Frames is the number of frames the demo runs; 0 runs until interrupted.
	Frames int `toml:"frames" yaml:"frames" hcl:"frames,optional"`

	// DisabledOutputs lists template outputs switched off at startup.
	DisabledOutputs []string `toml:"disabled_outputs" yaml:"disabled_outputs" hcl:"disabled_outputs,optional"`
}

// Default returns the options used when no file is given.
func Default() *Options {
	o := &Options{}
	o.applyDefaults()
	return o
}

func (o *Options) applyDefaults() {
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.Backend == "" {
		o.Backend = DefaultBackend
	}
	if o.UploadStagingSize == 0 {
		o.UploadStagingSize = DefaultUploadStagingSize
	}
	if o.DownloadStagingSize == 0 {
		o.DownloadStagingSize = framegraph.DefaultDownloadStagingSize
	}
	if o.FramesBeforeEviction == 0 {
		o.FramesBeforeEviction = respool.DefaultFramesBeforeEviction
	}
	if o.BufferChunkSize == 0 {
		o.BufferChunkSize = respool.DefaultBufferChunkSize
	}
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
}

// Load reads the options file at path. The format follows the extension.
// Missing keys keep their defaults and the result is validated.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	return Parse(path, data)
}

// Parse decodes data in the format implied by the extension of name.
func Parse(name string, data []byte) (*Options, error) {
	o := &Options{}
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(o); err != nil {
			return nil, errors.Wrapf(err, "config: decode %s", name)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(o); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "config: decode %s", name)
		}
	case ".hcl":
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCL(data, name)
		if diags.HasErrors() {
			return nil, errors.Wrapf(diags, "config: parse %s", name)
		}
		if diags := gohcl.DecodeBody(file.Body, nil, o); diags.HasErrors() {
			return nil, errors.Wrapf(diags, "config: decode %s", name)
		}
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", ext)
	}

	o.applyDefaults()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate reports every invalid field at once.
func (o *Options) Validate() error {
	var errs []error
	if _, err := o.Level(); err != nil {
		errs = append(errs, errors.Wrapf(ErrInvalid, "log_level %q", o.LogLevel))
	}
	if o.Backend != "software" && o.Backend != "native" {
		errs = append(errs, errors.Wrapf(ErrInvalid, "backend %q", o.Backend))
	}
	if o.FramesBeforeEviction < 0 {
		errs = append(errs, errors.Wrapf(ErrInvalid, "frames_before_eviction %d", o.FramesBeforeEviction))
	}
	if o.Frames < 0 {
		errs = append(errs, errors.Wrapf(ErrInvalid, "frames %d", o.Frames))
	}
	return stderrors.Join(errs...)
}

// Level parses LogLevel.
func (o *Options) Level() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(o.LogLevel))
	return l, err
}

// FrameGraphOptions converts the options that configure a frame graph.
func (o *Options) FrameGraphOptions() []framegraph.Option {
	opts := []framegraph.Option{
		framegraph.WithDownloadStagingSize(o.DownloadStagingSize),
		framegraph.WithFramesBeforeEviction(o.FramesBeforeEviction),
		framegraph.WithBufferChunkSize(o.BufferChunkSize),
	}
	if o.Metrics {
		opts = append(opts, framegraph.WithMetrics())
	}
	return opts
}

// OutputDisabled reports whether name is listed in DisabledOutputs.
func (o *Options) OutputDisabled(name string) bool {
	for _, n := range o.DisabledOutputs {
		if n == name {
			return true
		}
	}
	return false
}
