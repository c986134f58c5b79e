package descriptions

// Tool descriptions with practical examples and use cases

const (
	// Preparation Tools
	FormManifestDescription = `Build the field manifest for a certificate record: every form field with its label, resolved value and origin.

**When to use:** Before filling the Invesco application form, to see exactly what goes into each field and which values are placeholders.

**Why it's useful:** Applies the dropdown rules (certificate type, cargo origin, out-bound border and the fixed selections) and falls back to defaults for missing data, so every field has a value.

**Examples:**
• Review a record: "Show the manifest for records/AD-1042.json"
• Export for another tool: "Get the manifest of cert.pdf as JSON"
• Prepare a paste block: "Give me the manifest in bulk format"

**Common workflows:**
1. Review: form_manifest → fix the record where fields are marked [review] → form_manifest again
2. Transcription: form_manifest → form_open → form_copy_field per field

**Best practices:** Use format "text" for people, "json" for programs and "bulk" for a block that can be parsed back into key/value pairs.`

	FormInstructionsDescription = `Render step-by-step filling instructions for the Invesco application form.

**When to use:** The operator wants a checklist to follow in the browser: log in, open the form, pick each dropdown option, then paste each text field.

**Why it's useful:** Dropdown choices are spelled out as Select "X" lines in form order and placeholder values are flagged for review before submitting.

**Examples:**
• "How do I fill the form for records/cert-77.json?"
• "Give me the instructions for the startup record"

**Common workflows:**
1. Guided filling: form_instructions → form_open → form_copy_field for each text field → submit

**Best practices:** Confirm every line marked [review] before submitting the application.`

	// Clipboard Tools
	FormCopyFieldDescription = `Copy one manifest field's value to the system clipboard.

**When to use:** The operator is on a form field and needs its value ready to paste.

**Why it's useful:** Tries the native clipboard first and falls back to a platform copy command when that fails. The result says which path was used.

**Examples:**
• "Copy the exporter name"  → key: exporterName
• "Copy the cargo description for cert.pdf" → key: cargoDescription, record: cert.pdf

**Common workflows:**
1. Field by field: form_instructions → form_copy_field(key) → paste → next key

**Best practices:** Use keys exactly as listed by form_manifest. An unknown key is reported as an error, nothing is copied.`

	FormCopyAllDescription = `Copy every manifest field, or the raw record, to the clipboard as one bulk block.

**When to use:** Pasting into a notes tool, handing data to a colleague, or keeping a copy of what was transcribed.

**Why it's useful:** The block is one "key: value" line per field with the label as a comment, and it parses back into the same pairs.

**Examples:**
• "Copy all fields" → source: manifest
• "Copy the extracted data for cert.json" → source: record, record: cert.json

**Best practices:** Use source "record" to copy the data exactly as extracted, before any rules or defaults are applied.`

	// Browser Tools
	FormOpenDescription = `Open the Invesco application form in a browser window and highlight the key fields.

**When to use:** The operator is ready to fill the form.

**Why it's useful:** Shortly after the page loads, the certificate number, importer and exporter fields are outlined where the page allows it. When no window can be opened the form URL is returned for opening by hand.

**Examples:**
• "Open the form"
• "Open the application form for records/cert-77.json"

**Best practices:** Log in first when the session has expired. Highlighting is best effort and is silently skipped on pages that do not allow it.`

	// Utility Tools
	FormServerInfoDescription = `Get server status, configuration, available tools and copy statistics.

**When to use:** Starting work with the assistant, troubleshooting clipboard problems, or checking which record and schema are in use.

**Why it's useful:** Shows the record directory, startup record, rule and schema versions, form URLs and counters for copies, fallbacks and highlights.

**Examples:**
• "What can the form assistant do?"
• "How many copies needed the fallback?"

**Best practices:** Run at the start of a session to check the record directory and the clipboard command.`
)
