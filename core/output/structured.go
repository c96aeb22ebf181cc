package output

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// JSONFormatter renders reports as JSON
type JSONFormatter struct {
	Indent string
}

// Format implements Formatter
func (f *JSONFormatter) Format() Format { return FormatJSON }

// Render implements Formatter
func (f *JSONFormatter) Render(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	if f.Indent != "" {
		enc.SetIndent("", f.Indent)
	}
	return enc.Encode(report)
}

// YAMLFormatter renders reports as YAML with the same keys as JSON output
type YAMLFormatter struct{}

// Format implements Formatter
func (f *YAMLFormatter) Format() Format { return FormatYAML }

// Render implements Formatter.
// The report goes through JSON first so field names and decimal encoding
// match the json tags; key order is preserved by decoding into a node.
func (f *YAMLFormatter) Render(w io.Writer, report *Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles inherited from JSON
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
