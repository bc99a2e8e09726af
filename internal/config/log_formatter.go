package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	red         = 31
	yellow      = 33
	blue        = 36
	gray        = 37
	green       = 32
	cyan        = 96
	lightYellow = 93
	lightGreen  = 92
)

// NbFormatter renders entries as coloured key=value lines. Chat and user ids
// come first so moderation logs line up when grepped.
type NbFormatter struct {
	DisableColors bool
}

var leadingFields = []string{"object", "chat_id", "user_id", "action", "trigger"}

func (f *NbFormatter) Format(entry *log.Entry) ([]byte, error) {
	levelColor := blue
	switch entry.Level {
	case log.DebugLevel, log.TraceLevel:
		levelColor = gray
	case log.WarnLevel:
		levelColor = yellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		levelColor = red
	}

	var b strings.Builder
	b.WriteString(f.pair("level", strings.ToUpper(entry.Level.String())[:4], levelColor))
	b.WriteString(" " + f.pair("ts", entry.Time.Format("2006-01-02 15:04:05.000"), lightYellow))

	for _, k := range orderedKeys(entry.Data) {
		m, err := json.Marshal(entry.Data[k])
		if err != nil || len(m) == 0 {
			continue
		}
		s := string(m)
		valueColor := cyan
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			valueColor = green
		} else if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
			valueColor = lightYellow
		}
		b.WriteString(" " + f.pair(k, s, valueColor))
	}
	b.WriteString(" " + f.pair("msg", strconv.Quote(entry.Message), lightGreen))

	output := strings.NewReplacer("\r", "\\r", "\n", "\\n").Replace(b.String()) + "\n"
	return []byte(output), nil
}

func (f *NbFormatter) pair(key, value string, valueColor int) string {
	if f.DisableColors {
		return key + "=" + value
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m=\x1b[%dm%s\x1b[0m", cyan, key, valueColor, value)
}

func orderedKeys(data log.Fields) []string {
	keys := make([]string, 0, len(data))
	rest := make([]string, 0, len(data))
	for _, k := range leadingFields {
		if _, ok := data[k]; ok {
			keys = append(keys, k)
		}
	}
	for k := range data {
		lead := false
		for _, l := range leadingFields {
			if k == l {
				lead = true
				break
			}
		}
		if !lead {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
