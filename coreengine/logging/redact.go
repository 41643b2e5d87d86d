package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Redacted replaces sensitive values.
const Redacted = "[REDACTED]"

var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"auth":          true,
	"token":         true,
	"password":      true,
	"secret":        true,
	"key":           true,
}

var bearerPattern = regexp.MustCompile(`(?i)\bBearer\s+[^\s]+`)

// IsSensitiveKey reports whether values under key are always redacted.
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

// RedactString masks bearer tokens inside s.
func RedactString(s string) string {
	return bearerPattern.ReplaceAllString(s, "Bearer "+Redacted)
}

// RedactingEncoder wraps a zapcore.Encoder and masks sensitive fields:
// values of sensitive keys are replaced and bearer tokens inside string
// values are masked.
type RedactingEncoder struct {
	zapcore.Encoder
}

// NewRedactingEncoder wraps base.
func NewRedactingEncoder(base zapcore.Encoder) *RedactingEncoder {
	return &RedactingEncoder{Encoder: base}
}

// Clone creates a copy of the encoder.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone()}
}

// AddString handles fields bound through With.
func (e *RedactingEncoder) AddString(key, val string) {
	if IsSensitiveKey(key) {
		e.Encoder.AddString(key, Redacted)
		return
	}
	e.Encoder.AddString(key, RedactString(val))
}

// AddReflected handles non-primitive bound fields.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if IsSensitiveKey(key) {
		e.Encoder.AddString(key, Redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// EncodeEntry redacts per-entry fields before delegating. The wrapped
// encoder clones itself internally, so per-entry fields never pass
// through the Add* overrides above.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	redacted := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		redacted[i] = redactField(f)
	}
	ent.Message = RedactString(ent.Message)
	return e.Encoder.EncodeEntry(ent, redacted)
}

func redactField(f zapcore.Field) zapcore.Field {
	if IsSensitiveKey(f.Key) {
		return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: Redacted}
	}
	switch f.Type {
	case zapcore.StringType:
		f.String = RedactString(f.String)
	case zapcore.StringerType, zapcore.ErrorType:
		// Render now so the token pattern can be applied.
		if s := stringify(f); s != "" {
			return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: RedactString(s)}
		}
	}
	return f
}

func stringify(f zapcore.Field) string {
	switch v := f.Interface.(type) {
	case error:
		return v.Error()
	case interface{ String() string }:
		return v.String()
	default:
		return ""
	}
}
