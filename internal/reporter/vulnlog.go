package reporter

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// maxSuffixTries bounds the search for a free log file name.
const maxSuffixTries = 1000

// VulnLog appends one line per vulnerable request to a text file. A nil or
// disabled VulnLog silently drops lines.
type VulnLog struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *bufio.Writer
}

// OpenVulnLog creates the log at path. If path exists, path.1, path.2 and so
// on are tried. When no free name is found the log is disabled: an error is
// logged and a disabled VulnLog is returned so the scan can go on.
func OpenVulnLog(path string) *VulnLog {
	if path == "" {
		return &VulnLog{}
	}

	name, err := freeName(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Vulnerable requests will not be logged to file")
		return &VulnLog{}
	}

	file, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Error().Err(err).Str("path", name).Msg("Vulnerable requests will not be logged to file")
		return &VulnLog{}
	}

	if name != path {
		log.Warn().Str("path", path).Str("using", name).Msg("Vulnerable requests log already exists, using a new file")
	}

	return &VulnLog{
		path:   name,
		file:   file,
		writer: bufio.NewWriter(file),
	}
}

func freeName(path string) (string, error) {
	name := path
	for i := 1; i <= maxSuffixTries; i++ {
		if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
			return name, nil
		}
		name = fmt.Sprintf("%s.%d", path, i)
	}
	return "", fmt.Errorf("no free file name after %d tries", maxSuffixTries)
}

// Path returns the file in use, or an empty string when disabled.
func (l *VulnLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Enabled reports whether lines are written anywhere.
func (l *VulnLog) Enabled() bool {
	return l != nil && l.file != nil
}

// Log appends line followed by a newline and flushes it to disk.
func (l *VulnLog) Log(line string) error {
	if !l.Enabled() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.writer.WriteString(line + "\n"); err != nil {
		return err
	}
	return l.writer.Flush()
}

// Close closes the file.
func (l *VulnLog) Close() error {
	if !l.Enabled() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
