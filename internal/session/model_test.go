package session

import (
	"errors"
	"testing"

	"github.com/fugueterm/fugue/internal/protocol"
)

func TestCreateSessionDuplicateName(t *testing.T) {
	m := NewModel()
	if _, err := m.CreateSession("alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateSession("alpha"); !errors.Is(err, protocol.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestRenameSameNameIsNoop(t *testing.T) {
	m := NewModel()
	s, _ := m.CreateSession("alpha")
	if err := m.RenameSession(s.ID, "alpha"); err != nil {
		t.Fatalf("rename to same name should succeed: %v", err)
	}
}

func TestRenameToExistingNameFails(t *testing.T) {
	m := NewModel()
	a, _ := m.CreateSession("a")
	m.CreateSession("b")
	if err := m.RenameSession(a.ID, "b"); !errors.Is(err, protocol.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestCreateWindowAndSplitMaintainsInvariants(t *testing.T) {
	m := NewModel()
	s, _ := m.CreateSession("s")
	win, pane, err := m.CreateWindow(s.ID, "", 24, 80, []string{"sh"}, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if win.FocusedPane != pane.ID {
		t.Fatal("new window should focus its only pane")
	}
	newPane, err := m.SplitPane(pane.ID, Vertical, 0.5, []string{"sh"}, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if problems := m.CheckInvariants(); len(problems) > 0 {
		t.Fatalf("invariants violated: %v", problems)
	}
	_ = newPane
}

func TestSplitInvalidRatio(t *testing.T) {
	m := NewModel()
	s, _ := m.CreateSession("s")
	_, pane, _ := m.CreateWindow(s.ID, "", 24, 80, nil, "", nil)
	if _, err := m.SplitPane(pane.ID, Horizontal, 0.95, nil, "", nil); !errors.Is(err, protocol.ErrInvalidRatio) {
		t.Fatalf("expected ErrInvalidRatio, got %v", err)
	}
}

func TestClosePaneCascadesSessionRemoval(t *testing.T) {
	m := NewModel()
	s, _ := m.CreateSession("s")
	_, pane, _ := m.CreateWindow(s.ID, "", 24, 80, nil, "", nil)

	result, err := m.ClosePane(pane.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !result.WindowRemoved || !result.SessionRemoved {
		t.Fatalf("expected both window and session removed, got %+v", result)
	}
	if _, err := m.View(s.ID); !errors.Is(err, protocol.ErrSessionNotFound) {
		t.Fatal("session should be gone after closing its only pane")
	}
}

func TestClosePaneTransfersFocusWrapping(t *testing.T) {
	m := NewModel()
	s, _ := m.CreateSession("s")
	win, p1, _ := m.CreateWindow(s.ID, "", 24, 80, nil, "", nil)
	p2, _ := m.SplitPane(p1.ID, Horizontal, 0.5, nil, "", nil)
	m.SelectPane(p2.ID)

	result, err := m.ClosePane(p2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.WindowRemoved {
		t.Fatal("window should survive with one pane left")
	}
	if result.NewFocusedPane != p1.ID {
		t.Fatalf("focus should transfer to remaining pane, got %v want %v", result.NewFocusedPane, p1.ID)
	}
	_ = win
}

func TestLayoutRatiosRenormalizeAfterSplit(t *testing.T) {
	m := NewModel()
	s, _ := m.CreateSession("s")
	_, p1, _ := m.CreateWindow(s.ID, "", 24, 80, nil, "", nil)
	m.SplitPane(p1.ID, Vertical, 0.3, nil, "", nil)
	if problems := m.CheckInvariants(); len(problems) > 0 {
		t.Fatalf("ratio invariant violated: %v", problems)
	}
}

func TestResizeLayoutBoundsRatio(t *testing.T) {
	m := NewModel()
	s, _ := m.CreateSession("s")
	win, p1, _ := m.CreateWindow(s.ID, "", 24, 80, nil, "", nil)
	m.SplitPane(p1.ID, Vertical, 0.5, nil, "", nil)

	if err := m.ResizeLayout(win.ID, nil, 0, 5.0); err != nil {
		t.Fatal(err)
	}
	if problems := m.CheckInvariants(); len(problems) > 0 {
		t.Fatalf("invariants violated: %v", problems)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := NewModel()
	s, _ := m.CreateSession("a")
	_, p1, _ := m.CreateWindow(s.ID, "main", 24, 80, []string{"sh"}, "/tmp", nil)
	m.SplitPane(p1.ID, Vertical, 0.4, []string{"sh"}, "/tmp", nil)
	m.SetMetadata(s.ID, "k", "v")

	snap := m.Snapshot()

	m2 := NewModel()
	m2.Restore(snap)

	view, err := m2.View(s.ID)
	if err != nil {
		t.Fatalf("restored session missing: %v", err)
	}
	if view.Metadata["k"] != "v" {
		t.Fatalf("restored metadata missing: %+v", view.Metadata)
	}
	if len(view.Windows) != 1 || len(view.Windows[0].Panes) != 2 {
		t.Fatalf("restored tree shape wrong: %+v", view)
	}
	if _, err := m2.CreateSession("a"); !errors.Is(err, protocol.ErrDuplicateName) {
		t.Fatal("restored name index should reject duplicate 'a'")
	}
}

func TestDestroySessionRemovesEverything(t *testing.T) {
	m := NewModel()
	s, _ := m.CreateSession("s")
	m.CreateWindow(s.ID, "", 24, 80, nil, "", nil)
	if err := m.DestroySession(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.View(s.ID); !errors.Is(err, protocol.ErrSessionNotFound) {
		t.Fatal("expected session gone")
	}
}
