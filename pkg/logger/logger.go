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
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// savedConfig 保存的日志配置（用于按日切换）
	savedConfig Config
	// currentDay 当前日志文件对应的交易日（YYYY-MM-DD）
	currentDay string
	// logMu 日志文件切换锁
	logMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string         // 日志级别: debug, info, warn, error
	Dir        string         // 日志目录（为空则只输出到控制台）
	MaxSize    int            // 单个日志文件最大大小（MB）
	MaxBackups int            // 保留的旧日志文件数量
	MaxAge     int            // 保留旧日志文件的天数
	Compress   bool           // 是否压缩旧日志文件
	Location   *time.Location // 交易日所用时区（nil 则用本地时区）
}

func (c Config) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.Local
}

// dayOf 返回配置时区下的交易日字符串
func dayOf(c Config, t time.Time) string {
	return t.In(c.location()).Format("2006-01-02")
}

// logFileName 按交易日生成日志文件名，例如 scalper_2026-08-31.log
func logFileName(c Config, day string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("scalper_%s.log", day))
}

// Init 初始化全局日志
// 文件输出走 lumberjack（大小轮转），文件名按交易日命名（隔日自动切换）
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}
		day := dayOf(config, time.Now())
		file := logFileName(config, day)
		fileOut := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, fileOut))
		currentLogFile = file
		currentDay = day
	} else {
		logger.SetOutput(os.Stdout)
	}

	Logger = logger
	savedConfig = config
	logrus.SetLevel(level)
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	return nil
}

// InitDefault 使用默认配置初始化（info 级别，仅控制台）
func InitDefault() error {
	return Init(Config{Level: "info"})
}

// CheckAndRotate 检查交易日是否切换；切换则重建文件输出
// 由调度循环周期性调用（例如每根 K 线一次）
func CheckAndRotate() error {
	logMu.Lock()
	defer logMu.Unlock()

	if Logger == nil || savedConfig.Dir == "" {
		return nil
	}
	day := dayOf(savedConfig, time.Now())
	if day == currentDay {
		return nil
	}

	file := logFileName(savedConfig, day)
	fileOut := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    savedConfig.MaxSize,
		MaxBackups: savedConfig.MaxBackups,
		MaxAge:     savedConfig.MaxAge,
		Compress:   savedConfig.Compress,
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, fileOut))
	logrus.SetOutput(Logger.Out)
	currentLogFile = file
	currentDay = day
	Logger.Infof("日志文件已切换到新交易日: %s", file)
	return nil
}

// GetCurrentLogFile 返回当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}

func std() *logrus.Logger {
	if Logger != nil {
		return Logger
	}
	return logrus.StandardLogger()
}

// Debug 输出 debug 日志
func Debug(args ...interface{}) { std().Debug(args...) }

// Debugf 输出格式化 debug 日志
func Debugf(format string, args ...interface{}) { std().Debugf(format, args...) }

// Info 输出 info 日志
func Info(args ...interface{}) { std().Info(args...) }

// Infof 输出格式化 info 日志
func Infof(format string, args ...interface{}) { std().Infof(format, args...) }

// Warn 输出 warn 日志
func Warn(args ...interface{}) { std().Warn(args...) }

// Warnf 输出格式化 warn 日志
func Warnf(format string, args ...interface{}) { std().Warnf(format, args...) }

// Error 输出 error 日志
func Error(args ...interface{}) { std().Error(args...) }

// Errorf 输出格式化 error 日志
func Errorf(format string, args ...interface{}) { std().Errorf(format, args...) }

// WithField 创建带字段的日志条目
func WithField(key string, value interface{}) *logrus.Entry {
	return std().WithField(key, value)
}

// WithFields 创建带多个字段的日志条目
func WithFields(fields logrus.Fields) *logrus.Entry {
	return std().WithFields(fields)
}
