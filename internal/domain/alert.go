package domain

import "time"

// ConnectionAlert is one detected firewall prompt, extracted from the raw UI
// text of the target application's alert window.
//
// Structured fields are best-effort parses and may be empty; RawTexts always
// carries every observed string (deduplicated, first-seen order) so the AI
// consumer can do its own reading. An alert is never mutated after emission:
// enrichment attaches data to a Clone.
type ConnectionAlert struct {
	ID          string    `json:"id"`
	ProcessName string    `json:"processName"`
	ProcessPath string    `json:"processPath"`
	ProcessID   string    `json:"processId"`
	ProcessArgs string    `json:"processArgs"`
	IPAddress   string    `json:"ipAddress"`
	Port        string    `json:"port"`
	Protocol    string    `json:"protocol"` // "TCP" | "UDP" | ""
	ReverseDNS  string    `json:"reverseDns"`
	GeoLocation string    `json:"geoLocation,omitempty"` // filled by enrichment
	WhoisData   string    `json:"whoisData,omitempty"`   // filled by enrichment
	RawTexts    []string  `json:"rawTexts"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// Clone returns a deep copy. Enrichment and analysis work on copies so the
// original emitted alert stays immutable.
func (a *ConnectionAlert) Clone() *ConnectionAlert {
	if a == nil {
		return nil
	}
	cp := *a
	cp.RawTexts = make([]string, len(a.RawTexts))
	copy(cp.RawTexts, a.RawTexts)
	return &cp
}

// Describe renders the structured fields for human or model consumption.
func (a *ConnectionAlert) Describe() string {
	s := "Process: " + a.ProcessName
	if a.ProcessPath != "" {
		s += "\nPath: " + a.ProcessPath
	}
	if a.ProcessID != "" {
		s += "\nPID: " + a.ProcessID
	}
	if a.ProcessArgs != "" {
		s += "\nArguments: " + a.ProcessArgs
	}
	if a.IPAddress != "" {
		s += "\nDestination IP: " + a.IPAddress
	}
	if a.Port != "" {
		s += "\nPort: " + a.Port + " (" + a.Protocol + ")"
	}
	if a.ReverseDNS != "" {
		s += "\nReverse DNS: " + a.ReverseDNS
	}
	if a.GeoLocation != "" {
		s += "\nGeo: " + a.GeoLocation
	}
	if a.WhoisData != "" {
		s += "\nWhois: " + a.WhoisData
	}
	return s
}
