package hookext

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/work"
)

func testProvider(t *testing.T) (*Provider, *work.Queue) {
	t.Helper()
	q := work.NewQueue(2, 16, zap.NewNop())
	q.Start()
	t.Cleanup(q.Stop)

	p, err := NewProvider("test_hook",
		ProviderOptions{AttachParamSize: 4},
		func(c *Client, p *Provider) error { return nil },
		func(c *Client) {},
		nil, q, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p, q
}

func noopInvoke(bindingCtx, eventCtx any) (uint32, error) { return 0, nil }

func TestWildcardOnEmptyList(t *testing.T) {
	p, _ := testProvider(t)

	if err := p.CheckAttachParameter(p.Wildcard()); err != nil {
		t.Errorf("wildcard on empty list: %v, want nil", err)
	}
}

func TestWildcardBlockedByExistingClient(t *testing.T) {
	p, _ := testProvider(t)

	if _, err := p.AttachClient("a", []byte{1, 2, 3, 4}, nil, noopInvoke); err != nil {
		t.Fatalf("attach a: %v", err)
	}

	err := p.CheckAttachParameter(p.Wildcard())
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("wildcard with client present: %v, want ErrAccessDenied", err)
	}
}

func TestExactBlockedByWildcardHolder(t *testing.T) {
	p, _ := testProvider(t)

	if _, err := p.AttachClient("a", nil, nil, noopInvoke); err != nil {
		t.Fatalf("wildcard attach: %v", err)
	}

	err := p.CheckAttachParameter([]byte{9, 9, 9, 9})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("exact with wildcard holder: %v, want ErrAccessDenied", err)
	}
}

func TestExactBlockedByDuplicate(t *testing.T) {
	p, _ := testProvider(t)

	if _, err := p.AttachClient("a", []byte{1, 2, 3, 4}, nil, noopInvoke); err != nil {
		t.Fatalf("attach a: %v", err)
	}

	if err := p.CheckAttachParameter([]byte{1, 2, 3, 4}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("duplicate exact: %v, want ErrAccessDenied", err)
	}
	if err := p.CheckAttachParameter([]byte{4, 3, 2, 1}); err != nil {
		t.Errorf("distinct exact: %v, want nil", err)
	}
}

// An explicit parameter equal byte-for-byte to the wildcard sentinel is
// a wildcard request, even though the caller typed it out.
func TestExplicitWildcardBytesAreWildcard(t *testing.T) {
	p, _ := testProvider(t)

	if _, err := p.AttachClient("a", []byte{5, 5, 5, 5}, nil, noopInvoke); err != nil {
		t.Fatalf("attach a: %v", err)
	}

	err := p.CheckAttachParameter([]byte{0, 0, 0, 0})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("zero-blob parameter treated as exact: %v, want ErrAccessDenied (wildcard)", err)
	}
}
