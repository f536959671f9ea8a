package logger

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

var logFile *os.File

// Init configures the global logrus logger.
// It is safe to call multiple times; later calls overwrite previous settings.
//
// LOG_LEVEL   日志级别，默认 info
// LOG_FORMAT  json 时使用 JSON 格式，否则为带完整时间戳的文本格式
// LOG_FILE    可选，日志同时写入该文件
func Init() {
	var out io.Writer = os.Stdout

	if path := strings.TrimSpace(os.Getenv("LOG_FILE")); path != "" {
		Close()
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Warnf("Failed to open log file %s: %v", path, err)
		} else {
			logFile = f
			out = io.MultiWriter(os.Stdout, f)
		}
	}
	log.SetOutput(out)

	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}
	if lvl, err := log.ParseLevel(levelStr); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// Close 关闭日志文件（如有）
func Close() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// L returns the global logger for convenience.
func L() *log.Logger { return log.StandardLogger() }
