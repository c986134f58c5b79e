package assist

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/a3tai/mcp-form-assistant/internal/manifest"
)

const (
	certificateTypeKey     = "Certificate_Type"
	defaultCertificateType = "Normal"
	outBoundBorderKey      = "outBoundBorder"
	reviewMark             = " [review]"
)

var instructionsTemplate = template.Must(template.New("instructions").Funcs(template.FuncMap{
	"indent": indent,
	"review": func(e manifest.Entry) string {
		if e.NeedsReview {
			return reviewMark
		}
		return ""
	},
}).Parse(`Invesco application - {{.CertificateType}} certificate, out-bound border {{.Border}}

Step-by-step instructions:
1. Login: if not already logged in, open {{.LoginURL}} and enter your credentials.
2. Navigate to form: open {{.FormURL}}
3. Fill dropdowns:
{{- range .Selects}}
   - {{.Label}}: Select "{{.Value}}"{{review .}}
{{- end}}
4. Fill text fields (copy each value):
{{- range .Texts}}
   - {{.Label}}: {{indent .Value}}{{review .}}
{{- end}}
5. Submit: review and submit the form.
{{- if .Review}}

Fields marked [review] hold placeholder values. Confirm them before submitting.
{{- end}}
`))

type instructionsData struct {
	CertificateType string
	Border          string
	LoginURL        string
	FormURL         string
	Selects         []manifest.Entry
	Texts           []manifest.Entry
	Review          bool
}

// Instructions renders step-by-step filling instructions for the record.
func (s *Session) Instructions() (string, error) {
	m := s.Manifest()

	data := instructionsData{
		CertificateType: defaultCertificateType,
		Border:          "UNKNOWN",
		LoginURL:        s.loginURL,
		FormURL:         s.formURL,
		Selects:         m.Select(manifest.KindSelect),
		Texts:           m.Select(manifest.KindText),
	}
	if v, ok := s.record.Lookup(certificateTypeKey); ok && v.String() != "" {
		data.CertificateType = v.String()
	}
	if e, ok := m.Lookup(outBoundBorderKey); ok && e.Value != "" {
		data.Border = e.Value
	}
	for _, e := range m.Entries {
		if e.NeedsReview {
			data.Review = true
			break
		}
	}

	var b strings.Builder
	if err := instructionsTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render instructions: %w", err)
	}
	return b.String(), nil
}

// RenderManifest renders the manifest as a labelled list grouped by section.
func RenderManifest(m manifest.Manifest) string {
	var b strings.Builder
	section := ""
	for i, e := range m.Entries {
		if e.Section != section {
			if i > 0 {
				b.WriteString("\n")
			}
			section = e.Section
			if section != "" {
				fmt.Fprintf(&b, "[%s]\n", section)
			}
		}
		mark := ""
		if e.NeedsReview {
			mark = reviewMark
		}
		fmt.Fprintf(&b, "%s (%s): %s%s\n", e.Label, e.Key, indent(e.Value), mark)
	}
	return b.String()
}

// indent aligns continuation lines of multi-line values under the list item.
func indent(v string) string {
	return strings.ReplaceAll(v, "\n", "\n     ")
}
