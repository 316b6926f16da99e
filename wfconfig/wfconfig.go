// Package wfconfig loads the three flat environment variables spec.md
// names (WF_LOG_DIR, WF_DEFAULT_WM_AMOUNT, WF_DEFAULT_WM_INTERVAL_USEC) plus
// per-operator op.Config overlays keyed by operator name.
//
// Grounded on config/env.go's Loader: same reflection-based struct walk and
// "only set fields with a present environment variable" overlay semantics,
// renamed to avoid colliding with the graph package's builder-option
// vocabulary (WithXxx), and generalised in one respect: the top-level keys
// are flat (WF_LOG_DIR, not WF_DEFAULT_LOG_DIR) since spec.md fixes their
// names directly, while per-operator overlays keep the teacher's
// {PREFIX}_{STAGE}_{FIELD} shape so distinct operators don't collide.
// Scalar coercions use github.com/spf13/cast instead of the teacher's
// hand-rolled strconv switch in setField.
package wfconfig

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"unicode"

	"github.com/spf13/cast"
)

// Defaults holds the three top-level settings spec.md fixes by name.
type Defaults struct {
	// LogDir is where operator statistics files (spec §6) are written.
	// Env: WF_LOG_DIR. Falls back to "./log" when unset (see stats.LogDir).
	LogDir string

	// DefaultWMAmount is the number of envelopes an emitter receives
	// between two punctuation-sampling checks (emitter.Config's
	// WatermarkAmount); the graph package applies it to every emitter it
	// builds when non-zero.
	// Env: WF_DEFAULT_WM_AMOUNT.
	DefaultWMAmount uint64

	// DefaultWMIntervalUsec is the minimum wall-clock gap, in
	// microseconds, between two punctuation-sampling checks of an emitter
	// (emitter.Config's WatermarkInterval); the graph package applies it
	// to every emitter it builds when non-zero.
	// Env: WF_DEFAULT_WM_INTERVAL_USEC.
	DefaultWMIntervalUsec uint64
}

// Loader reads environment variables into Defaults and per-operator
// overlay structs.
type Loader struct {
	// Prefix for per-operator overlay variable names. Default: "WF".
	Prefix string

	// lookup overrides os.LookupEnv for testing.
	lookup func(string) (string, bool)
}

func (l Loader) prefix() string {
	if l.Prefix == "" {
		return "WF"
	}
	return l.Prefix
}

func (l Loader) lookupEnv(key string) (string, bool) {
	if l.lookup != nil {
		return l.lookup(key)
	}
	return os.LookupEnv(key)
}

// LoadDefaults populates d's fields from WF_LOG_DIR, WF_DEFAULT_WM_AMOUNT,
// and WF_DEFAULT_WM_INTERVAL_USEC. Unset variables leave the corresponding
// field at its current value, so callers can pre-populate programmatic
// defaults before calling LoadDefaults to overlay the environment.
func (l Loader) LoadDefaults(d *Defaults) error {
	if raw, ok := l.lookupEnv("WF_LOG_DIR"); ok {
		d.LogDir = raw
	}
	if raw, ok := l.lookupEnv("WF_DEFAULT_WM_AMOUNT"); ok {
		n, err := cast.ToUint64E(raw)
		if err != nil {
			return fmt.Errorf("wfconfig: WF_DEFAULT_WM_AMOUNT: %w", err)
		}
		d.DefaultWMAmount = n
	}
	if raw, ok := l.lookupEnv("WF_DEFAULT_WM_INTERVAL_USEC"); ok {
		n, err := cast.ToUint64E(raw)
		if err != nil {
			return fmt.Errorf("wfconfig: WF_DEFAULT_WM_INTERVAL_USEC: %w", err)
		}
		d.DefaultWMIntervalUsec = n
	}
	return nil
}

// LoadOperator overlays environment variables named
// {Prefix}_{operatorName}_{FIELD} onto dst, a pointer to a struct (typically
// an op.Config or a plain struct of scalar overrides). Only fields with a
// present environment variable are modified.
func (l Loader) LoadOperator(operatorName string, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("wfconfig: dst must be a pointer to a struct, got %T", dst)
	}
	prefix := l.prefix() + "_" + normalizeSegment(operatorName)
	return l.loadStruct(prefix, v.Elem())
}

// LoadDefaults populates d using the default Loader with prefix "WF".
func LoadDefaults(d *Defaults) error {
	return Loader{}.LoadDefaults(d)
}

// LoadOperator overlays environment variables onto dst using the default
// Loader with prefix "WF".
func LoadOperator(operatorName string, dst any) error {
	return Loader{}.LoadOperator(operatorName, dst)
}

func (l Loader) loadStruct(prefix string, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)

		if !field.IsExported() {
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				if err := l.loadStruct(prefix, fv); err != nil {
					return err
				}
			}
			continue
		}

		var key string
		if field.Anonymous {
			key = prefix
		} else {
			key = prefix + "_" + toUpperSnake(field.Name)
		}

		if field.Type.Kind() == reflect.Struct {
			if err := l.loadStruct(key, fv); err != nil {
				return err
			}
			continue
		}

		if !isSupportedKind(field.Type.Kind()) {
			continue
		}

		raw, ok := l.lookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(fv, raw, key); err != nil {
			return err
		}
	}
	return nil
}

func isSupportedKind(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// setField coerces raw into fv using cast's ToXxxE family, which is more
// forgiving than strconv (e.g. "1"/"0" as bool, numeric strings with
// surrounding whitespace) while still erroring on genuinely malformed input.
func setField(fv reflect.Value, raw, key string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return fmt.Errorf("wfconfig: %s: %w", key, err)
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(raw)
		if err != nil {
			return fmt.Errorf("wfconfig: %s: %w", key, err)
		}
		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return fmt.Errorf("wfconfig: %s: %w", key, err)
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return fmt.Errorf("wfconfig: %s: %w", key, err)
		}
		fv.SetBool(b)
	}
	return nil
}

// normalizeSegment converts an operator name to a valid env var segment,
// e.g. "word-count" -> "WORD_COUNT".
func normalizeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(unicode.ToUpper(r))
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '_':
			b.WriteRune('_')
		}
	}
	return b.String()
}

// toUpperSnake converts a Go CamelCase field name to UPPER_SNAKE_CASE.
func toUpperSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteRune('_')
			} else if unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
