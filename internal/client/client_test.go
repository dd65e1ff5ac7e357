package client

import (
	"strings"
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second)
	prevBase := time.Duration(0)
	for i := 0; i < 8; i++ {
		d := b.Next()
		if d < prevBase {
			t.Fatalf("delay %d shrank: %s < %s", i, d, prevBase)
		}
		// Jitter adds at most 25% on top of the capped base.
		if d > 10*time.Second+10*time.Second/4 {
			t.Fatalf("delay %d exceeded cap+jitter: %s", i, d)
		}
		if d < time.Second {
			t.Fatalf("delay %d below base: %s", i, d)
		}
		prevBase = time.Second
	}

	b.Reset()
	if d := b.Next(); d > 2*time.Second {
		t.Fatalf("delay after reset = %s", d)
	}
}

func TestDialURL(t *testing.T) {
	c := &Client{URL: "ws://host:1/ws", Token: "tok", Subscribe: []string{"state", "screen"}}
	url := c.dialURL()
	if !strings.Contains(url, "subscribe=state,screen") {
		t.Fatalf("url missing subscribe: %s", url)
	}
	if !strings.Contains(url, "token=tok") {
		t.Fatalf("url missing token: %s", url)
	}
	if strings.Count(url, "?") != 1 {
		t.Fatalf("malformed query separators: %s", url)
	}

	c = &Client{URL: "ws://host:1/ws?mode=raw", Token: "tok"}
	url = c.dialURL()
	if strings.Count(url, "?") != 1 || !strings.Contains(url, "&token=tok") {
		t.Fatalf("existing query not extended: %s", url)
	}

	c = &Client{URL: "ws://host:1/ws"}
	if got := c.dialURL(); got != "ws://host:1/ws" {
		t.Fatalf("bare url mutated: %s", got)
	}
}
