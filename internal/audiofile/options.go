package audiofile

import (
	"log/slog"

	"github.com/spf13/afero"

	"github.com/javi11/streamloader/internal/fetch"
)

type options struct {
	fs                afero.Fs
	tempDir           string
	tuning            fetch.Tuning
	log               *slog.Logger
	openRetryAttempts uint
}

func defaultOptions() options {
	return options{
		fs:                afero.NewOsFs(),
		tempDir:           "",
		tuning:            fetch.DefaultTuning(),
		log:               slog.Default(),
		openRetryAttempts: 3,
	}
}

// Option configures AudioFile.Open.
type Option func(*options)

// WithFS overrides the filesystem the temp file is created on. Tests
// typically pass afero.NewMemMapFs().
func WithFS(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithTempDir overrides where the temp file is created; empty means
// "/tmp" on the configured filesystem.
func WithTempDir(dir string) Option {
	return func(o *options) { o.tempDir = dir }
}

// WithTuning overrides the default §4.2/§4.4 constants.
func WithTuning(t fetch.Tuning) Option {
	return func(o *options) { o.tuning = t }
}

// WithLogger attaches a logger; AudioFile.Open and the Fetcher it spawns
// log under component "audiofile" and "fetch" respectively.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithOpenRetryAttempts bounds the retry count around allocating the
// initial channel, sending the first range request and awaiting its
// tag-0x3 file-size header — a connection-establishment concern, not the
// per-range retry loop spec.md §7/§9 forbid.
func WithOpenRetryAttempts(n uint) Option {
	return func(o *options) { o.openRetryAttempts = n }
}
