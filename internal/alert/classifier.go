// Package alert turns the bag of raw UI strings captured from one firewall
// alert window into a structured ConnectionAlert and decides when a capture
// represents a genuinely new alert.
package alert

import (
	"regexp"
	"strings"
)

// FieldKind is the semantic field a raw UI string maps to.
type FieldKind int

const (
	FieldNone FieldKind = iota
	FieldIPv4
	FieldPortProtocol
	FieldPID
	FieldFilesystemPath
	FieldURL
	FieldReverseDNS
)

func (k FieldKind) String() string {
	switch k {
	case FieldIPv4:
		return "ipv4"
	case FieldPortProtocol:
		return "port-protocol"
	case FieldPID:
		return "pid"
	case FieldFilesystemPath:
		return "path"
	case FieldURL:
		return "url"
	case FieldReverseDNS:
		return "reverse-dns"
	default:
		return "none"
	}
}

var (
	ipv4Pattern     = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)
	portProtoPattern = regexp.MustCompile(`^(\d{1,5})\s+\((TCP|UDP)\)$`)
	pidPattern      = regexp.MustCompile(`^\d{4,6}$`)
	hostnamePattern = regexp.MustCompile(`^([A-Za-z0-9-]+\.)+[A-Za-z]{2,}$`)
)

// Classify maps a raw UI string to exactly one FieldKind. Matching order is
// significant: some strings satisfy more than one weak pattern, so the first
// match wins. Classification is total and never panics; a string that matches
// nothing is FieldNone and still contributes to the alert's raw text.
func Classify(text string) FieldKind {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return FieldNone
	}

	// Field labels end in a colon; they are UI chrome, not values.
	if strings.HasSuffix(trimmed, ":") {
		return FieldNone
	}

	if ipv4Pattern.MatchString(trimmed) {
		return FieldIPv4
	}
	if portProtoPattern.MatchString(trimmed) {
		return FieldPortProtocol
	}
	if pidPattern.MatchString(trimmed) {
		return FieldPID
	}
	if strings.HasPrefix(trimmed, "/") && strings.Count(trimmed, "/") >= 2 {
		return FieldFilesystemPath
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return FieldURL
	}
	if hostnamePattern.MatchString(strings.TrimSuffix(trimmed, ".")) {
		return FieldReverseDNS
	}
	return FieldNone
}

// splitPortProtocol extracts ("443", "TCP") from "443 (TCP)".
func splitPortProtocol(text string) (port, protocol string) {
	m := portProtoPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}
