package uibridge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
)

func stubBridge(t *testing.T, handler func(args []string) ([]byte, error)) *Bridge {
	t.Helper()
	b := New(Config{HelperPath: "stub"})
	b.runHelper = func(ctx context.Context, args ...string) ([]byte, error) {
		return handler(args)
	}
	return b
}

func TestListWindows(t *testing.T) {
	b := stubBridge(t, func(args []string) ([]byte, error) {
		if args[0] != "list-windows" || args[2] != "LuLu" {
			t.Errorf("unexpected args %v", args)
		}
		return []byte(`[{"handle":"7","title":"LuLu Alert","width":800,"height":600}]`), nil
	})

	windows, err := b.ListWindows(context.Background(), "LuLu")
	if err != nil {
		t.Fatalf("ListWindows: %v", err)
	}
	if len(windows) != 1 || windows[0].Handle != "7" || windows[0].Title != "LuLu Alert" {
		t.Fatalf("unexpected windows: %+v", windows)
	}
}

func TestListWindowsHelperError(t *testing.T) {
	b := stubBridge(t, func(args []string) ([]byte, error) {
		return nil, errors.New("helper gone")
	})
	if _, err := b.ListWindows(context.Background(), "LuLu"); err == nil {
		t.Fatal("expected error")
	}
}

func TestElementTreeRoundTrip(t *testing.T) {
	b := stubBridge(t, func(args []string) ([]byte, error) {
		if args[0] != "element-tree" || args[2] != "42" {
			t.Errorf("unexpected args %v", args)
		}
		return []byte(`{"texts":["curl"],"children":[{"texts":["443 (TCP)"],"children":[]}]}`), nil
	})

	root, err := b.ElementTree(context.Background(), "42")
	if err != nil {
		t.Fatalf("ElementTree: %v", err)
	}
	if got := root.Texts(); len(got) != 1 || got[0] != "curl" {
		t.Fatalf("root texts: %v", got)
	}
	children := root.Children()
	if len(children) != 1 || children[0].Texts()[0] != "443 (TCP)" {
		t.Fatalf("child texts wrong: %+v", children)
	}
}

func TestCheckPermissionFailureReadsAsDenied(t *testing.T) {
	b := stubBridge(t, func(args []string) ([]byte, error) {
		return nil, errors.New("no helper")
	})
	if b.CheckPermission(context.Background()) {
		t.Fatal("expected denied when helper fails")
	}

	b = stubBridge(t, func(args []string) ([]byte, error) {
		return []byte(`{"granted":true}`), nil
	})
	if !b.CheckPermission(context.Background()) {
		t.Fatal("expected granted")
	}
}

func TestPerformActionPassesKindAndDuration(t *testing.T) {
	var seen []string
	b := stubBridge(t, func(args []string) ([]byte, error) {
		seen = args
		return []byte(`{"clicked":true}`), nil
	})

	clicked, err := b.PerformAction(context.Background(), domain.ActionAllow, domain.DurationProcessLifetime)
	if err != nil {
		t.Fatalf("PerformAction: %v", err)
	}
	if !clicked {
		t.Fatal("expected clicked=true")
	}
	joined := strings.Join(seen, " ")
	if !strings.Contains(joined, "--action allow") || !strings.Contains(joined, "--duration process") {
		t.Fatalf("args missing action/duration: %v", seen)
	}
}
