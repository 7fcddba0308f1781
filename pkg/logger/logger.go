package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger

	logMu          sync.Mutex
	savedConfig    Config
	currentLogFile string
	currentDay     string
	fileWriter     *lumberjack.Logger
)

const timestampFormat = "06-01-02 15:04:05" // yy-mm-dd HH:MM:ss

// Config 日志配置
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // 日志文件路径（为空则只输出到控制台）
	MaxSize    int    // 单个文件最大大小（MB）
	MaxBackups int    // 保留的旧文件数量
	MaxAge     int    // 保留旧文件的天数
	Compress   bool   // 是否压缩旧文件
	// LogByDay 按天命名日志文件：logs/trader.log -> logs/trader_2026-01-02.log
	LogByDay bool
	// Quiet 不输出到控制台（终端仪表盘占用屏幕时使用）
	Quiet bool
}

// dailyFileName logs/trader.log + 2026-01-02 -> logs/trader_2026-01-02.log
func dailyFileName(basePath, day string) string {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)
	ext := filepath.Ext(base)
	name := fmt.Sprintf("%s_%s%s", base[:len(base)-len(ext)], day, ext)
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func newFormatter(forceColors bool) *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
		ForceColors:     forceColors,
	}
}

// Init 初始化日志系统（同时设置全局 logrus，包内 logrus.WithField 创建的 logger 也会写入文件）
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()
	return initLocked(config, time.Now())
}

func initLocked(config Config, now time.Time) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	var writers []io.Writer
	if !config.Quiet {
		writers = append(writers, os.Stdout)
	}

	path := ""
	if config.OutputFile != "" {
		path = config.OutputFile
		if config.LogByDay {
			currentDay = now.Format("2006-01-02")
			path = dailyFileName(config.OutputFile, currentDay)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if fileWriter != nil {
			_ = fileWriter.Close()
		}
		fileWriter = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		writers = append(writers, fileWriter)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	out := io.MultiWriter(writers...)
	colors := !config.Quiet && config.OutputFile == ""

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(newFormatter(colors))
	l.SetOutput(out)

	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter(colors))

	savedConfig = config
	currentLogFile = path
	Logger = l
	return nil
}

// InitDefault 默认配置：info 级别，logs/signaltrader.log，按天命名
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/signaltrader.log",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
		LogByDay:   true,
	})
}

// RotateIfNeeded 日期变化时切换到新文件
func RotateIfNeeded(now time.Time) (bool, error) {
	logMu.Lock()
	defer logMu.Unlock()
	if !savedConfig.LogByDay || savedConfig.OutputFile == "" {
		return false, nil
	}
	if now.Format("2006-01-02") == currentDay {
		return false, nil
	}
	old := currentLogFile
	if err := initLocked(savedConfig, now); err != nil {
		return false, err
	}
	Logger.Infof("日志文件已切换: %s -> %s", old, currentLogFile)
	return true, nil
}

// StartRotationChecker 后台每分钟检查一次日期，stop 关闭时退出
func StartRotationChecker(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				if _, err := RotateIfNeeded(now); err != nil {
					Errorf("日志轮转失败: %v", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

// Close 关闭日志文件
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.WithFields(fields)
}

// GetCurrentLogFile 当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
