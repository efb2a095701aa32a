package core

import (
	"fmt"
	"reflect"
	"testing"
)

func TestBufferAssemblesLinesAcrossWrites(t *testing.T) {
	b := newBufferWithMaxLines(100)
	b.AppendText("hel")
	b.AppendText("lo\nwor")
	b.AppendText("ld\n")
	lines, total := b.Snapshot(0)
	if total != 2 {
		t.Fatalf("expected 2 lines, got %d", total)
	}
	if !reflect.DeepEqual(lines, []string{"hello", "world"}) {
		t.Fatalf("unexpected lines %v", lines)
	}
}

func TestBufferKeepsTrailingPartialLine(t *testing.T) {
	b := newBufferWithMaxLines(100)
	b.AppendText("done\npartial")
	lines, total := b.Snapshot(0)
	if total != 2 {
		t.Fatalf("expected 2 entries with partial, got %d", total)
	}
	if lines[1] != "partial" {
		t.Fatalf("expected trailing partial, got %v", lines)
	}
}

func TestBufferCarriageReturnLastSegmentWins(t *testing.T) {
	b := newBufferWithMaxLines(100)
	b.AppendText("Downloading: 10%\rDownloading: 50%\rDownloading: 100%\n")
	lines, _ := b.Snapshot(0)
	if len(lines) != 1 || lines[0] != "Downloading: 100%" {
		t.Fatalf("expected overwritten progress line, got %v", lines)
	}
}

func TestBufferEvictsBeyondMaxLines(t *testing.T) {
	b := newBufferWithMaxLines(3)
	for i := 0; i < 10; i++ {
		b.AppendText(fmt.Sprintf("line %d\n", i))
	}
	lines, total := b.Snapshot(0)
	if total != 3 {
		t.Fatalf("expected bounded total 3, got %d", total)
	}
	if !reflect.DeepEqual(lines, []string{"line 7", "line 8", "line 9"}) {
		t.Fatalf("expected trailing lines, got %v", lines)
	}
}

func TestBufferSnapshotLimit(t *testing.T) {
	b := newBufferWithMaxLines(100)
	b.AppendLines("a", "b", "c", "d")
	lines, total := b.Snapshot(2)
	if total != 4 {
		t.Fatalf("expected total 4, got %d", total)
	}
	if !reflect.DeepEqual(lines, []string{"c", "d"}) {
		t.Fatalf("expected last 2 lines, got %v", lines)
	}
}
