package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field is one key/value pair attached to a log entry. The zero Field is
// skipped, which is what Err(nil) returns.
type Field struct {
	key string
	val any
}

func String(k, v string) Field                 { return Field{k, v} }
func Int(k string, v int) Field                { return Field{k, v} }
func Bool(k string, v bool) Field              { return Field{k, v} }
func Duration(k string, v time.Duration) Field { return Field{k, v} }
func Time(k string, v time.Time) Field         { return Field{k, v} }
func Any(k string, v any) Field                { return Field{k, v} }

// Err attaches err under "err".
func Err(err error) Field {
	if err == nil {
		return Field{}
	}
	return Field{"err", err}
}

func (f Field) encode(e *zerolog.Event) {
	if f.key == "" {
		return
	}
	switch v := f.val.(type) {
	case string:
		e.Str(f.key, v)
	case int:
		e.Int(f.key, v)
	case bool:
		e.Bool(f.key, v)
	case time.Duration:
		e.Dur(f.key, v)
	case time.Time:
		e.Time(f.key, v)
	case error:
		e.Str(f.key, v.Error())
	default:
		e.Interface(f.key, v)
	}
}
