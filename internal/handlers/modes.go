package handlers

import (
	"github.com/parsegate/parsegate/internal/contract"
)

// Mode is the requested parse mode. Dispatch is a tagged enum with a
// per-mode attempt list; there is no string-to-method reflection anywhere.
type Mode int

const (
	ModeAuto Mode = iota
	ModeJSON
	ModeQuery
	ModeKV
	ModeCSV
	ModeDeepseek
	ModeEcom
	ModeNews
	ModeSocial
)

var modeNames = map[string]Mode{
	"auto":     ModeAuto,
	"json":     ModeJSON,
	"query":    ModeQuery,
	"kv":       ModeKV,
	"csv":      ModeCSV,
	"deepseek": ModeDeepseek,
	"ecom":     ModeEcom,
	"news":     ModeNews,
	"social":   ModeSocial,
}

// ParseModeName resolves a mode string; the empty string means auto.
func ParseModeName(name string) (Mode, bool) {
	if name == "" {
		return ModeAuto, true
	}
	m, ok := modeNames[name]
	return m, ok
}

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeJSON:
		return "json"
	case ModeQuery:
		return "query"
	case ModeKV:
		return "kv"
	case ModeCSV:
		return "csv"
	case ModeDeepseek:
		return "deepseek"
	case ModeEcom:
		return "ecom"
	case ModeNews:
		return "news"
	case ModeSocial:
		return "social"
	default:
		return "unknown"
	}
}

// attempt is one entry of a mode's cascade.
type attempt int

const (
	attemptJSON attempt = iota
	attemptQuery
	attemptKV
	attemptCSV
	attemptUpstream
)

// cascade returns the ordered attempt list for the mode. Auto puts the model
// between the JSON fast path and the cheaper text formats: JSON input never
// pays for an upstream call, while query, kv and CSV input reach their local
// parsers only when the upstream attempt is skipped as not configured.
func (m Mode) cascade() []attempt {
	switch m {
	case ModeAuto:
		return []attempt{attemptJSON, attemptUpstream, attemptQuery, attemptKV, attemptCSV}
	case ModeJSON:
		return []attempt{attemptJSON}
	case ModeQuery:
		return []attempt{attemptQuery}
	case ModeKV:
		return []attempt{attemptKV}
	case ModeCSV:
		return []attempt{attemptCSV}
	default:
		return []attempt{attemptUpstream}
	}
}

// contractKind maps the mode onto the validator run against model output.
func (m Mode) contractKind() contract.Kind {
	switch m {
	case ModeAuto:
		return contract.Auto
	case ModeEcom:
		return contract.Ecom
	case ModeNews:
		return contract.News
	case ModeSocial:
		return contract.Social
	default:
		return contract.Core
	}
}

// forcesPrompt reports whether the mode's catalog prompt overrides a
// caller-supplied instruction.
func (m Mode) forcesPrompt() bool {
	switch m {
	case ModeAuto, ModeEcom, ModeNews, ModeSocial:
		return true
	default:
		return false
	}
}
