package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
)

// ErrorLogs manages the error log files kept per query fingerprint. Each
// file holds one message per line at <dir>/<fingerprint>_<name>.log.
type ErrorLogs struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewErrorLogs creates the log directory on fs. A nil fs means the
// operating system filesystem.
func NewErrorLogs(fs afero.Fs, dir string) (*ErrorLogs, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &ErrorLogs{fs: fs, dir: dir}, nil
}

// LogName returns the error log name used for a fault category.
// Transport faults keep the sparql_errors name older tooling reads.
func LogName(category geoerrors.ErrorCategory) string {
	if category == geoerrors.ErrCategoryTransport {
		return "sparql_errors"
	}
	if category == "" {
		category = geoerrors.ErrCategoryInternal
	}
	return strings.ToLower(string(category)) + "_errors"
}

// Path returns the file backing a log.
func (l *ErrorLogs) Path(fingerprint, name string) string {
	return filepath.Join(l.dir, fingerprint+"_"+name+".log")
}

// Logger opens the named log for appending and returns a logger writing
// bare messages to it. The returned function closes the file.
func (l *ErrorLogs) Logger(fingerprint, name string) (*zap.Logger, func() error, error) {
	f, err := l.fs.OpenFile(l.Path(fingerprint, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(encoder, zapcore.AddSync(f), zap.ErrorLevel)
	return zap.New(core), f.Close, nil
}

// Record appends err to the log for its category.
func (l *ErrorLogs) Record(fingerprint string, err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	logger, closeFn, openErr := l.Logger(fingerprint, LogName(geoerrors.GetCategory(err)))
	if openErr != nil {
		return openErr
	}
	logger.Error(strings.ReplaceAll(err.Error(), "\n", " "))
	_ = logger.Sync()
	return closeFn()
}

// Load returns the trimmed lines of a log, or an empty slice if the log
// does not exist.
func (l *ErrorLogs) Load(fingerprint, name string) ([]string, error) {
	data, err := afero.ReadFile(l.fs, l.Path(fingerprint, name))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	content := string(data)
	if content == "" {
		return []string{}, nil
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return lines, nil
}
