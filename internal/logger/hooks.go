package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const TimestampFormat = "2006-01-02 15:04:05"

// LineFormatter renders "<timestamp> - <LEVEL>: <message>"
type LineFormatter struct {
	TimestampFormat string
}

func (f *LineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = TimestampFormat
	}
	return []byte(fmt.Sprintf("%s - %s: %s\n", entry.Time.Format(layout), Label(entry), entry.Message)), nil
}

// FileHook appends every event to the run log.
// The file is opened on first use. While its parent directory does not exist
// events are dropped, so logging never creates directories.
type FileHook struct {
	path      string
	formatter logrus.Formatter

	mu   sync.Mutex
	file *os.File
}

func NewFileHook(path string) *FileHook {
	return &FileHook{
		path:      path,
		formatter: &LineFormatter{},
	}
}

func (h *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *FileHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		if _, err := os.Stat(filepath.Dir(h.path)); err != nil {
			return nil
		}
		file, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			return fmt.Errorf("failed to open run log: %w", err)
		}
		h.file = file
	}

	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.file.Write(line)
	return err
}

func (h *FileHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

var labelColors = map[string]*color.Color{
	LabelDebug:   color.New(color.FgHiBlack),
	LabelInfo:    color.New(color.FgBlue),
	LabelSuccess: color.New(color.FgGreen),
	LabelWarning: color.New(color.FgYellow),
	LabelError:   color.New(color.FgRed, color.Bold),
}

// ConsoleHook prints colored status lines
type ConsoleHook struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleHook(out io.Writer) *ConsoleHook {
	return &ConsoleHook{out: out}
}

func (h *ConsoleHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *ConsoleHook) Fire(entry *logrus.Entry) error {
	label := Label(entry)
	tag := "[" + label + "]"
	if c, ok := labelColors[label]; ok {
		tag = c.Sprint(tag)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.out, "%s %s\n", tag, entry.Message)
	return err
}
