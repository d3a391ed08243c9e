package transport

import (
	"reflect"
	"testing"
)

func TestDirectoryTracksLatestHandle(t *testing.T) {
	t.Parallel()
	d := NewDirectory()
	d.Observe("1", "ana")
	d.Observe("2", "")
	d.Observe("", "ghost")

	if got := d.Resolve([]string{"1", "2", "3"}); !reflect.DeepEqual(got, []string{"@ana", "2", "3"}) {
		t.Fatalf("Resolve = %v", got)
	}

	d.Observe("1", "@anna")
	if got := d.Handle("1"); got != "@anna" {
		t.Fatalf("Handle after rename = %q", got)
	}
	d.Observe("1", "")
	if got := d.Handle("1"); got != "" {
		t.Fatalf("Handle after username removed = %q", got)
	}
}

func TestNilDirectoryKeepsIDs(t *testing.T) {
	t.Parallel()
	var d *Directory
	d.Observe("1", "ana")
	if got := d.Resolve([]string{"1"}); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("Resolve = %v", got)
	}
}

func TestSenderIsUserID(t *testing.T) {
	t.Parallel()
	m := &Message{UserID: "42", Username: "ana"}
	if got := m.Sender(); got != "42" {
		t.Fatalf("Sender = %q, want the user id", got)
	}
}
