package internal

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel ranks log verbosity, lowest first.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Redactor scrubs one category of secret out of a log line before it's
// written anywhere.
type Redactor interface {
	Redact(input string) string
}

// CookieRedactor blanks the value following a cookie/auth-style header
// marker, leaving the marker and any trailing attributes intact.
type CookieRedactor struct{}

func (r *CookieRedactor) Redact(input string) string {
	patterns := []string{
		"Cookie:",
		"Set-Cookie:",
		"Bearer ",
		"Basic ",
		"Proxy-Authorization:",
	}

	result := input
	for _, pattern := range patterns {
		lower := strings.ToLower(result)
		index := strings.Index(lower, strings.ToLower(pattern))
		if index == -1 {
			continue
		}
		start := index + len(pattern)
		for start < len(result) && result[start] == ' ' {
			start++
		}
		end := start
		for end < len(result) && result[end] != ' ' && result[end] != ';' && result[end] != '\n' && result[end] != '\r' {
			end++
		}
		if end > start {
			result = result[:start] + "[REDACTED]" + result[end:]
		}
	}
	return result
}

// URLRedactor blanks sensitive query parameters (signed CDN tokens, API
// keys) embedded in a logged URL.
type URLRedactor struct{}

func (r *URLRedactor) Redact(input string) string {
	sensitiveParams := []string{
		"access_token=",
		"token=",
		"key=",
		"secret=",
		"password=",
		"pwd=",
	}

	result := input
	for _, param := range sensitiveParams {
		lower := strings.ToLower(result)
		index := strings.Index(lower, param)
		if index == -1 {
			continue
		}
		start := index + len(param)
		end := start
		for end < len(result) && result[end] != '&' && result[end] != ' ' && result[end] != '\n' {
			end++
		}
		if end > start {
			result = result[:start] + "[REDACTED]" + result[end:]
		}
	}
	return result
}

// ProxyCredentialRedactor strips the userinfo component (user:pass@) out of
// proxy URLs. --proxy is the one place this engine accepts a secret baked
// directly into a URL rather than a header, so the other redactors miss it.
type ProxyCredentialRedactor struct{}

func (r *ProxyCredentialRedactor) Redact(input string) string {
	schemeEnd := strings.Index(input, "://")
	if schemeEnd == -1 {
		return input
	}
	rest := input[schemeEnd+3:]
	at := strings.IndexByte(rest, '@')
	if at == -1 {
		return input
	}
	authority := rest[:at]
	if authority == "" || strings.ContainsAny(authority, "/ \t\n") {
		return input
	}
	return input[:schemeEnd+3] + "[REDACTED]@" + rest[at+1:]
}

// SecureLogger writes leveled, timestamped log lines with secrets
// redacted before they reach the underlying io.Writer.
type SecureLogger struct {
	logger    *log.Logger
	level     LogLevel
	debug     bool
	quiet     bool
	redactors []Redactor
}

// NewSecureLogger constructs a SecureLogger writing to output.
func NewSecureLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	return &SecureLogger{
		logger: log.New(output, "", 0), // timestamps are added by formatMessage
		level:  level,
		debug:  debug,
		quiet:  quiet,
		redactors: []Redactor{
			&CookieRedactor{},
			&URLRedactor{},
			&ProxyCredentialRedactor{},
		},
	}
}

// NewDefaultLogger constructs a SecureLogger to stderr at a level derived
// from debug/quiet.
func NewDefaultLogger(debug, quiet bool) *SecureLogger {
	level := LogLevelInfo
	if debug {
		level = LogLevelDebug
	}
	if quiet {
		level = LogLevelError
	}
	return NewSecureLogger(os.Stderr, level, debug, quiet)
}

func (sl *SecureLogger) redactSensitiveData(input string) string {
	result := input
	for _, redactor := range sl.redactors {
		result = redactor.Redact(result)
	}
	return result
}

// formatMessage prefixes a message with a timestamp, level, and in debug
// mode the caller's file:line (skipping frames inside this file).
func (sl *SecureLogger) formatMessage(level LogLevel, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	if sl.debug {
		for depth := 3; depth <= 5; depth++ {
			_, file, line, ok := runtime.Caller(depth)
			if ok && !strings.Contains(file, "logger.go") {
				parts := strings.Split(file, "/")
				filename := parts[len(parts)-1]
				return fmt.Sprintf("[%s] %s %s:%d %s", timestamp, level.String(), filename, line, message)
			}
		}
	}

	return fmt.Sprintf("[%s] %s %s", timestamp, level.String(), message)
}

func (sl *SecureLogger) shouldLog(level LogLevel) bool {
	if sl.quiet && level > LogLevelError {
		return false
	}
	return level <= sl.level
}

func (sl *SecureLogger) Error(format string, args ...interface{}) { sl.log(LogLevelError, format, args...) }
func (sl *SecureLogger) Warn(format string, args ...interface{})  { sl.log(LogLevelWarn, format, args...) }
func (sl *SecureLogger) Info(format string, args ...interface{})  { sl.log(LogLevelInfo, format, args...) }
func (sl *SecureLogger) Debug(format string, args ...interface{}) { sl.log(LogLevelDebug, format, args...) }

func (sl *SecureLogger) log(level LogLevel, format string, args ...interface{}) {
	if !sl.shouldLog(level) {
		return
	}
	message := sl.redactSensitiveData(fmt.Sprintf(format, args...))
	sl.logger.Print(sl.formatMessage(level, message))
}

// LogHTTPRequest logs a request's method, URL, and headers at debug level,
// redacting sensitive headers and URL parameters.
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}
	sanitizedHeaders := make(map[string]string)
	for name, values := range req.Header {
		if sl.isSensitiveHeader(name) {
			sanitizedHeaders[name] = "[REDACTED]"
		} else {
			sanitizedHeaders[name] = strings.Join(values, ", ")
		}
	}
	url := sl.redactSensitiveData(req.URL.String())
	sl.Debug("HTTP Request: %s %s Headers: %v", req.Method, url, sanitizedHeaders)
}

// LogHTTPResponse logs a response's status and headers at debug level.
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}
	sanitizedHeaders := make(map[string]string)
	for name, values := range resp.Header {
		if sl.isSensitiveHeader(name) {
			sanitizedHeaders[name] = "[REDACTED]"
		} else {
			sanitizedHeaders[name] = strings.Join(values, ", ")
		}
	}
	sl.Debug("HTTP Response: %d %s Headers: %v", resp.StatusCode, resp.Status, sanitizedHeaders)
}

func (sl *SecureLogger) isSensitiveHeader(name string) bool {
	sensitiveHeaders := []string{
		"authorization",
		"cookie",
		"set-cookie",
		"x-auth-token",
		"x-api-key",
		"bearer",
		"token",
	}
	lowerName := strings.ToLower(name)
	for _, sensitive := range sensitiveHeaders {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}

func (sl *SecureLogger) SetLevel(level LogLevel) { sl.level = level }

func (sl *SecureLogger) SetDebug(debug bool) {
	sl.debug = debug
	if debug && sl.level > LogLevelDebug {
		sl.level = LogLevelDebug
	}
}

func (sl *SecureLogger) SetQuiet(quiet bool) {
	sl.quiet = quiet
	if quiet {
		sl.level = LogLevelError
	}
}

func (sl *SecureLogger) AddRedactor(redactor Redactor) {
	sl.redactors = append(sl.redactors, redactor)
}

// --- package-level singleton and convenience wrappers ---

var (
	globalLogger *SecureLogger
	loggerMutex  sync.RWMutex
)

// InitLogger builds the global logger from config, opening LogFile if set.
func InitLogger(config *Config) error {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	level := parseLogLevel(config.LogLevel)

	var output io.Writer = os.Stderr
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewValidationErrorWithValue("log_file", fmt.Sprintf("failed to open log file: %v", err), config.LogFile).
				WithSuggestion("Check file permissions and path validity")
		}
		output = file
	}

	globalLogger = NewSecureLogger(output, level, config.EnableDebug, config.QuietMode)
	return nil
}

// GetLogger returns the global logger, lazily creating a stderr default
// if InitLogger hasn't run yet.
func GetLogger() *SecureLogger {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()

	if globalLogger == nil {
		globalLogger = NewDefaultLogger(false, false)
	}
	return globalLogger
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func LogError(format string, args ...interface{}) { GetLogger().Error(format, args...) }
func LogWarn(format string, args ...interface{})  { GetLogger().Warn(format, args...) }
func LogInfo(format string, args ...interface{})  { GetLogger().Info(format, args...) }
func LogDebug(format string, args ...interface{}) { GetLogger().Debug(format, args...) }

// LogEngineError logs an EngineError at the level implied by its Severity,
// using its full diagnostic rendering (kind, job, status, redacted URL).
func LogEngineError(err *EngineError) {
	logger := GetLogger()
	switch err.Severity {
	case SeverityCritical:
		logger.Error("CRITICAL: %s", err.DetailedError())
	case SeverityWarning:
		logger.Warn("%s", err.DetailedError())
	case SeverityInfo:
		logger.Info("%s", err.DetailedError())
	default:
		logger.Error("%s", err.DetailedError())
	}
}

// LogValidationError logs a ValidationError.
func LogValidationError(err *ValidationError) {
	GetLogger().Error("Validation Error: %s", err.Error())
}

func SetLogLevel(level LogLevel)  { GetLogger().SetLevel(level) }
func SetDebugMode(debug bool)     { GetLogger().SetDebug(debug) }
func SetQuietMode(quiet bool)     { GetLogger().SetQuiet(quiet) }
