package message

import "encoding/json"

// Response is the single reply to an ExecuteRequest.
type Response struct {
	ID          ID
	Success     bool
	Result      any
	ExecutionMs float64
	Error       string
	ErrorType   string
	Suggestions []string
	Stdout      string
	Stderr      string
	Installed   []string
}

type successWire struct {
	ID                ID       `json:"id"`
	Success           bool     `json:"success"`
	Result            any      `json:"result"`
	Stdout            string   `json:"stdout"`
	Stderr            string   `json:"stderr"`
	InstalledPackages []string `json:"installedPackages"`
	ExecutionTime     float64  `json:"executionTime"`
}

type failureWire struct {
	ID                ID       `json:"id"`
	Success           bool     `json:"success"`
	Error             string   `json:"error"`
	ErrorType         string   `json:"errorType"`
	Suggestions       []string `json:"suggestions,omitempty"`
	Stdout            string   `json:"stdout"`
	Stderr            string   `json:"stderr"`
	InstalledPackages []string `json:"installedPackages"`
}

// MarshalJSON emits the success or failure shape depending on Success.
func (r Response) MarshalJSON() ([]byte, error) {
	installed := r.Installed
	if installed == nil {
		installed = []string{}
	}
	if r.Success {
		return json.Marshal(successWire{
			ID:                r.ID,
			Success:           true,
			Result:            r.Result,
			Stdout:            r.Stdout,
			Stderr:            r.Stderr,
			InstalledPackages: installed,
			ExecutionTime:     r.ExecutionMs,
		})
	}
	return json.Marshal(failureWire{
		ID:                r.ID,
		Success:           false,
		Error:             r.Error,
		ErrorType:         r.ErrorType,
		Suggestions:       r.Suggestions,
		Stdout:            r.Stdout,
		Stderr:            r.Stderr,
		InstalledPackages: installed,
	})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID                ID       `json:"id"`
		Success           bool     `json:"success"`
		Result            any      `json:"result"`
		Stdout            string   `json:"stdout"`
		Stderr            string   `json:"stderr"`
		InstalledPackages []string `json:"installedPackages"`
		ExecutionTime     float64  `json:"executionTime"`
		Error             string   `json:"error"`
		ErrorType         string   `json:"errorType"`
		Suggestions       []string `json:"suggestions"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Response{
		ID:          wire.ID,
		Success:     wire.Success,
		Result:      wire.Result,
		ExecutionMs: wire.ExecutionTime,
		Error:       wire.Error,
		ErrorType:   wire.ErrorType,
		Suggestions: wire.Suggestions,
		Stdout:      wire.Stdout,
		Stderr:      wire.Stderr,
		Installed:   wire.InstalledPackages,
	}
	return nil
}
