package domain

import "context"

// Window describes one top-level window of the target application as seen by
// the window-enumeration collaborator.
type Window struct {
	Handle string
	Title  string
	Width  float64
	Height float64
}

// UIElement is one node of an abstracted window element tree. Texts returns
// every text-bearing attribute value of the node (value, title, description,
// help text); Children returns the direct sub-elements.
type UIElement interface {
	Texts() []string
	Children() []UIElement
}

// WindowSystem is the narrow surface the watchers depend on. Implementations
// wrap whatever OS automation layer actually enumerates windows; this package
// never assumes accessibility-tree semantics beyond this interface.
type WindowSystem interface {
	// ListWindows returns the top-level windows owned by the named process.
	// An absent process yields an empty slice, not an error.
	ListWindows(ctx context.Context, owner string) ([]Window, error)

	// ElementTree returns the root element of the given window's subtree.
	ElementTree(ctx context.Context, handle string) (UIElement, error)
}

// PermissionChecker gates monitoring on the OS automation permission.
type PermissionChecker interface {
	CheckPermission(ctx context.Context) bool
	RequestPermission(ctx context.Context) error
}

// Enricher attaches geo/whois/reverse-DNS data to a copy of the alert.
// Best effort: a failed lookup leaves the field empty and never errors.
type Enricher interface {
	Enrich(ctx context.Context, alert *ConnectionAlert) *ConnectionAlert
}

// ActionKind selects the firewall response performed on the user's behalf.
type ActionKind string

const (
	ActionAllow ActionKind = "allow"
	ActionBlock ActionKind = "block"
)

// ActionDuration scopes how long a performed action stays in effect.
type ActionDuration string

const (
	DurationAlways          ActionDuration = "always"
	DurationProcessLifetime ActionDuration = "process"
	DurationNone            ActionDuration = "none"
)

// ActionPerformer clicks through the target application's alert on behalf of
// the operator. The analysis pipeline never calls this directly; it only
// produces the recommendation a remote-control integration may act on.
type ActionPerformer interface {
	PerformAction(ctx context.Context, kind ActionKind, duration ActionDuration) (bool, error)
}

// CredentialStore is the persistence surface for API keys, addressed by slot
// name. Obfuscation/keychain details live behind the implementation.
type CredentialStore interface {
	Get(name string) (string, bool)
	Save(name, value string) error
	Delete(name string) error
}
