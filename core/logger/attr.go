package logger

import (
	"log/slog"
	"time"
)

// Helpers that take optional values return the zero slog.Attr when the value
// is empty; slog drops zero attrs, so callers never need a nil check.

// Group nests attrs under name.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error logs err under "error". Nil errors are omitted.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Duration logs how long an operation took.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Latency logs the time an HTTP request spent in the handler chain.
func Latency(d time.Duration) slog.Attr {
	return slog.Duration("latency", d)
}

// RequestID logs the correlation ID assigned by the HTTP middleware.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// UserID logs the subject of an MFA operation.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// Token logs a short prefix of a session token. Full tokens are bearer
// credentials and never reach the log.
func Token(token string) slog.Attr {
	if token == "" {
		return slog.Attr{}
	}
	const visible = 6
	if len(token) <= visible {
		return slog.String("token", "***")
	}
	return slog.String("token", token[:visible]+"***")
}

func Method(method string) slog.Attr {
	return slog.String("method", method)
}

func Path(path string) slog.Attr {
	return slog.String("path", path)
}

func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

// ClientIP logs the resolved remote address of a request.
func ClientIP(ip string) slog.Attr {
	if ip == "" {
		return slog.Attr{}
	}
	return slog.String("client_ip", ip)
}

// Component names the subsystem that wrote the record, such as "mfa".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Action names the operation being logged, for example "enroll" or "totp".
func Action(action string) slog.Attr {
	return slog.String("action", action)
}

// Count logs an integer under key.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}
