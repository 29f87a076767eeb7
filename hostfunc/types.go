package hostfunc

import (
	"encoding/json"
	"fmt"
)

type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

type HTTPResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

type InputRequest struct {
	Prompt string `json:"prompt"`
}

type InstallRequest struct {
	Name string `json:"name"`
}

type InstallResponse struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// decode converts loosely typed call args into a request struct.
func decode(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
