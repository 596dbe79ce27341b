package fallback

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tinywideclouds/go-alerting-service/pkg/alerting"
)

const alertPrefix = "🚨 ALERT: "

// Render formats an alert as the plain text sent on every channel, e.g.
// "🚨 ALERT: Fire Smoke detected on camera cam1, {"confidence":0.9}".
func Render(alert alerting.AlertMessage) string {
	kind := cases.Title(language.English).String(strings.ReplaceAll(alert.Kind, "_", " "))

	var b strings.Builder
	b.WriteString(alertPrefix)
	b.WriteString(kind)
	b.WriteString(" detected on camera ")
	b.WriteString(alert.Source)

	if len(alert.Details) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, alert.Details); err == nil && compact.String() != "null" && compact.String() != "{}" {
			b.WriteString(", ")
			b.WriteString(compact.String())
		}
	}
	return b.String()
}
