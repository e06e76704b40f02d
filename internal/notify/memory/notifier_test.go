package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

func TestNotifierRecords(t *testing.T) {
	t.Parallel()

	var seen []string
	n := New(func(note feedback.Notification) { seen = append(seen, note.RecordID) })

	msg, err := n.Notify(context.Background(), feedback.Notification{RecordID: "1"})
	if err != nil || msg != "notification 1 recorded" {
		t.Fatalf("unexpected notify result msg=%q err=%v", msg, err)
	}
	if got := n.Notifications(); len(got) != 1 || got[0].RecordID != "1" {
		t.Fatalf("unexpected notifications %+v", got)
	}
	if len(seen) != 1 {
		t.Fatalf("expected hook to run once, ran %d times", len(seen))
	}

	n.Notifications()[0].RecordID = "modified"
	if n.Notifications()[0].RecordID != "1" {
		t.Fatal("expected Notifications to return a copy")
	}
}

func TestNotifierFailAndHang(t *testing.T) {
	t.Parallel()

	n := New(nil)
	boom := errors.New("boom")
	n.Fail(boom)
	if _, err := n.Notify(context.Background(), feedback.Notification{}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	n.Fail(nil)

	n.Hang(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := n.Notify(ctx, feedback.Notification{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if len(n.Notifications()) != 0 {
		t.Fatal("failed notifications must not be recorded")
	}
}
