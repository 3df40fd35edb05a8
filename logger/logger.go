package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDir      = "log"
	logFilename = "lnaddrd.log"
)

// Logger is the process-wide logger. HttpLogger receives request logs
// only, so verbose HTTP traffic can be routed to the log file without
// drowning the console.
var Logger zerolog.Logger
var HttpLogger zerolog.Logger

var logFilePath string

// Init configures the loggers with the given numeric level (zerolog
// scale, -1 trace .. 5 panic). Invalid input falls back to info.
func Init(logLevel string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.DateTime,
	}

	Logger = zerolog.New(consoleWriter).
		With().
		Timestamp().
		Logger()

	// Request logging is off until a file logger is attached.
	HttpLogger = zerolog.New(io.Discard).
		With().
		Timestamp().
		Logger()

	level, err := strconv.Atoi(logLevel)
	if err != nil {
		level = int(zerolog.InfoLevel)
	}
	zLevel := zerolog.Level(level)
	if zLevel < zerolog.TraceLevel || zLevel > zerolog.PanicLevel {
		zLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(zLevel)
	Logger = Logger.Level(zLevel)
	HttpLogger = HttpLogger.Level(zLevel)

	if zLevel <= zerolog.DebugLevel {
		Logger = Logger.With().Caller().Logger()
	}
}

// AddFileLogger mirrors the console output into a rotated log file
// under workdir and points HttpLogger at the same file.
func AddFileLogger(workdir string) error {
	logFilePath = filepath.Join(workdir, logDir, logFilename)
	fileLogger := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxAge:     3,
		MaxBackups: 3,
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.DateTime,
	}
	multi := zerolog.MultiLevelWriter(consoleWriter, fileLogger)

	Logger = zerolog.New(multi).
		With().
		Timestamp().
		Logger()

	HttpLogger = zerolog.New(fileLogger).
		With().
		Timestamp().
		Logger()

	return nil
}

func GetLogFilePath() string {
	return logFilePath
}
