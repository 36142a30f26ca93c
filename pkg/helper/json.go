package helper

import (
	"encoding/json"
	"io"
)

// WriteJSON write data as indented json, used for command output
func WriteJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}
