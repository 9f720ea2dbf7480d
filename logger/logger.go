// Package logger は状態表示用の色付きコンソールログを提供する
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
)

const nameField = "name"

// Logger は Handler が使うログ出力先
type Logger interface {
	Info(name, message string)
	Warn(name, message string)
	Error(name, message string)
}

// Console は起動からの経過秒数つきでレベルごとに色を変えて出力する
type Console struct {
	log *logrus.Logger
}

func New() *Console {
	return NewConsole(os.Stdout)
}

func NewConsole(w io.Writer) *Console {
	start := time.Now()
	renderer := lipgloss.NewRenderer(w)

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(newLineFormatter(start, renderer))

	return &Console{log: log}
}

func (c *Console) Info(name, message string) {
	c.log.WithField(nameField, name).Info(message)
}

func (c *Console) Warn(name, message string) {
	c.log.WithField(nameField, name).Warn(message)
}

func (c *Console) Error(name, message string) {
	c.log.WithField(nameField, name).Error(message)
}

type lineFormatter struct {
	start time.Time
	info  lipgloss.Style
	warn  lipgloss.Style
	error lipgloss.Style
}

// info は緑、warn は黄、error は赤
func newLineFormatter(start time.Time, renderer *lipgloss.Renderer) *lineFormatter {
	return &lineFormatter{
		start: start,
		info:  renderer.NewStyle().Foreground(lipgloss.Color("2")),
		warn:  renderer.NewStyle().Foreground(lipgloss.Color("3")),
		error: renderer.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// Format は [経過秒][名前][レベル] メッセージ の形に整形する
func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	name, _ := entry.Data[nameField].(string)
	elapsed := int64(entry.Time.Sub(f.start) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	tag, style := f.level(entry.Level)
	line := fmt.Sprintf("[%d][%s][%s] %s", elapsed, name, tag, entry.Message)

	return []byte(style.Render(line) + "\n"), nil
}

func (f *lineFormatter) level(level logrus.Level) (string, lipgloss.Style) {
	switch level {
	case logrus.WarnLevel:
		return "WARN", f.warn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return "ERROR", f.error
	default:
		return "INFO", f.info
	}
}

type discard struct{}

func (discard) Info(string, string)  {}
func (discard) Warn(string, string)  {}
func (discard) Error(string, string) {}

// Discard は何も出力しない Logger を返す
func Discard() Logger {
	return discard{}
}
