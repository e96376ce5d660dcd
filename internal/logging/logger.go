// Package logging はアプリケーション共通の構造化ロガーを構築します。
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options はロガーの出力設定です。
type Options struct {
	Level string // debug, info, warn, error
	File  string // 空でなければローテーション付きでファイルにも出力
}

// ParseLevel は文字列のログレベルを slog.Level に変換します。未知の値は info になります。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New は JSON 形式の slog.Logger を作成し、デフォルトロガーにも設定します。
// 返される io.Closer はファイル出力を閉じるために呼び出してください。
func New(opts Options) (*slog.Logger, io.Closer) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, fileWriter)
		closer = fileWriter
	}

	log := NewWithWriter(out, opts.Level)
	slog.SetDefault(log)
	return log, closer
}

// NewWithWriter は任意の出力先に書き込むロガーを作成します。
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(h)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
