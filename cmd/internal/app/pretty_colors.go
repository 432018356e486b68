package app

import (
	"log/slog"
	"strconv"
	"strings"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(m string, color bool) string {
	switch m {
	case "GET":
		return paint(m, ansiGreen, color)
	case "POST", "PUT", "PATCH":
		return paint(m, ansiYellow, color)
	case "DELETE":
		return paint(m, ansiRed, color)
	default:
		return paint(m, ansiMagenta, color)
	}
}

func colorizeStatusCode(code int, color bool) string {
	return paint(strconv.Itoa(code), statusColor(code), color)
}

func colorizeStatusClass(class string, color bool) string {
	if class == "" {
		return `""`
	}
	n, _ := strconv.Atoi(class[:1])
	return paint(class, statusColor(n*100), color)
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	case code >= 200:
		return ansiGreen
	default:
		return ""
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 200:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

func colorizeResult(result string, color bool) string {
	switch {
	case result == "success" || result == "ok":
		return paint(result, ansiGreen, color)
	case strings.Contains(result, "server"), strings.Contains(result, "fail"):
		return paint(result, ansiRed, color)
	case strings.Contains(result, "client"), result == "redirect":
		return paint(result, ansiYellow, color)
	default:
		return quoteIfNeeded(result)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
