package sideband

import (
	"bytes"
	"testing"
	"time"
)

func TestParseSelfClosingTag(t *testing.T) {
	p := New()
	out, cmds := p.Parse([]byte(`before <fugue:focus pane="3"/> after`))
	if string(out) != "before  after" {
		t.Fatalf("unexpected passthrough: %q", out)
	}
	if len(cmds) != 1 || cmds[0].Name != "focus" || cmds[0].Attrs["pane"] != "3" {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
}

func TestParseBodyTag(t *testing.T) {
	p := New()
	out, cmds := p.Parse([]byte(`x<fugue:mail to="ops">hello there</fugue:mail>y`))
	if string(out) != "xy" {
		t.Fatalf("unexpected passthrough: %q", out)
	}
	if len(cmds) != 1 || cmds[0].Body != "hello there" {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
}

func TestParseUnknownTagDropped(t *testing.T) {
	p := New()
	out, cmds := p.Parse([]byte(`a<fugue:bogus foo="1"/>b`))
	if string(out) != "ab" {
		t.Fatalf("unexpected passthrough: %q", out)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected unknown tag dropped, got %+v", cmds)
	}
}

func TestParseSplitAcrossChunks(t *testing.T) {
	p := New()
	full := `hi <fugue:spawn cmd="sh" rows="24" cols="80"/> bye`
	var gotOut bytes.Buffer
	var gotCmds []Command
	for i := 0; i < len(full); i++ {
		out, cmds := p.Parse([]byte{full[i]})
		gotOut.Write(out)
		gotCmds = append(gotCmds, cmds...)
	}
	if gotOut.String() != "hi  bye" {
		t.Fatalf("unexpected passthrough across byte-at-a-time feed: %q", gotOut.String())
	}
	if len(gotCmds) != 1 || gotCmds[0].Name != "spawn" {
		t.Fatalf("unexpected commands: %+v", gotCmds)
	}
	if AttrInt(gotCmds[0], "rows", 0) != 24 {
		t.Fatalf("expected rows=24, got %d", AttrInt(gotCmds[0], "rows", 0))
	}
}

func TestChunkSplitEquivalence(t *testing.T) {
	full := []byte(`out1 <fugue:status state="busy"/> out2 <fugue:notify msg="done"/> out3`)
	for split := 0; split <= len(full); split++ {
		p := New()
		out1, c1 := p.Parse(full[:split])
		out2, c2 := p.Parse(full[split:])
		combined := append(append([]byte(nil), out1...), out2...)
		allCmds := append(c1, c2...)

		ref := New()
		refOut, refCmds := ref.Parse(full)
		if !bytes.Equal(combined, refOut) {
			t.Fatalf("split %d: passthrough mismatch: got %q want %q", split, combined, refOut)
		}
		if len(allCmds) != len(refCmds) {
			t.Fatalf("split %d: command count mismatch: got %d want %d", split, len(allCmds), len(refCmds))
		}
	}
}

func TestReleaseStalePending(t *testing.T) {
	p := New()
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fake }

	out, cmds := p.Parse([]byte(`abc <fugue:focus pane="1"`))
	if len(cmds) != 0 {
		t.Fatalf("expected no commands yet, got %+v", cmds)
	}
	if string(out) != "abc " {
		t.Fatalf("unexpected partial passthrough: %q", out)
	}

	if released := p.ReleaseStalePending(); released != nil {
		t.Fatalf("should not release before timeout: %q", released)
	}

	fake = fake.Add(PartialTagTimeout + time.Second)
	released := p.ReleaseStalePending()
	if string(released) != `<fugue:focus pane="1"` {
		t.Fatalf("unexpected released bytes: %q", released)
	}
	if p.ReleaseStalePending() != nil {
		t.Fatal("pending should be cleared after release")
	}
}

func TestParseNameAttrsNoAttrs(t *testing.T) {
	p := New()
	_, cmds := p.Parse([]byte(`<fugue:focus/>`))
	if len(cmds) != 1 || cmds[0].Name != "focus" || len(cmds[0].Attrs) != 0 {
		t.Fatalf("unexpected: %+v", cmds)
	}
}
