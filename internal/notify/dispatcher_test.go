package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeChannel records sends and can be scripted to fail.
type fakeChannel struct {
	name   string
	budget int
	err    error
	sent   []string
}

func (c *fakeChannel) Name() string { return c.name }
func (c *fakeChannel) Budget() int  { return c.budget }
func (c *fakeChannel) Send(_ context.Context, text string) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, text)
	return nil
}

func newTestDispatcher(channels ...Channel) *Dispatcher {
	d := NewDispatcher(channels...)
	d.sleep = func(context.Context, time.Duration) {} // no pauses in tests
	return d
}

func TestDispatchAnyChannelSucceeds(t *testing.T) {
	broken := &fakeChannel{name: "feishu", budget: 20000, err: errors.New("webhook down")}
	working := &fakeChannel{name: "wecom", budget: 4000}

	d := newTestDispatcher(broken, working)
	if err := d.Dispatch(context.Background(), "## 报告\n\n内容"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(working.sent) != 1 {
		t.Errorf("working channel sent %d messages", len(working.sent))
	}
}

func TestDispatchAllChannelsFail(t *testing.T) {
	a := &fakeChannel{name: "feishu", budget: 20000, err: errors.New("down")}
	b := &fakeChannel{name: "wecom", budget: 4000, err: errors.New("down")}

	d := newTestDispatcher(a, b)
	if err := d.Dispatch(context.Background(), "x"); !errors.Is(err, ErrAllChannelsFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestDispatchChunksPerChannelBudget(t *testing.T) {
	small := &fakeChannel{name: "pushover", budget: 1024}
	big := &fakeChannel{name: "feishu", budget: 20000}

	body := strings.Repeat("## 段落\n\n内容内容内容内容\n\n", 100)
	d := newTestDispatcher(small, big)
	if err := d.Dispatch(context.Background(), body); err != nil {
		t.Fatal(err)
	}
	if len(small.sent) < 2 {
		t.Errorf("small channel got %d chunks, want several", len(small.sent))
	}
	if len(big.sent) != 1 {
		t.Errorf("big channel got %d chunks, want 1", len(big.sent))
	}
	for i, c := range small.sent {
		if len(c) > small.budget {
			t.Errorf("chunk %d over small budget: %d bytes", i, len(c))
		}
	}
}

func TestDispatchNoChannels(t *testing.T) {
	d := newTestDispatcher()
	if d.Enabled() {
		t.Error("empty dispatcher reports enabled")
	}
	if err := d.Dispatch(context.Background(), "x"); !errors.Is(err, ErrAllChannelsFailed) {
		t.Fatalf("err = %v", err)
	}
}
