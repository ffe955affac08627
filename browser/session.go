package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/domheal/domtree"
	"github.com/hazyhaar/domheal/internal/verify"
)

// Session wraps one replay tab. All engine-facing output goes through
// Snapshot: an annotated domtree the resolver can query offline.
type Session struct {
	Page    *rod.Page
	PageURL string
	mgr     *Manager
}

// OpenSession creates a tab, navigates it and waits for load.
func (m *Manager) OpenSession(ctx context.Context, pageURL string) (*Session, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: not started")
	}

	var page *rod.Page
	var err error
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(m.cfg.BlockResources) > 0 {
		blockResources(page, m.cfg.BlockResources)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Session{Page: page, PageURL: pageURL, mgr: m}, nil
}

// Snapshot serialises the page into an annotated tree: every element
// carries its bounding box and computed visibility, open shadow roots
// are inlined under their marked hosts, and same-origin iframes are
// rewritten to <heal-frame> with their document inlined. Cross-origin
// frames stay opaque.
func (s *Session) Snapshot(ctx context.Context) (*domtree.Tree, error) {
	res, err := s.Page.Context(ctx).Eval(annotateJS)
	if err != nil {
		return nil, fmt.Errorf("browser: snapshot: %w", err)
	}
	info, err := s.Page.Context(ctx).Info()
	url := s.PageURL
	if err == nil && info.URL != "" {
		url = info.URL
	}
	return domtree.ParseString(res.Value.Str(), url)
}

// Screenshot captures the viewport as PNG for the visual recovery tier.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := s.Page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// Provider adapts the session for success-condition polling: every
// call re-snapshots the live page.
func (s *Session) Provider() verify.Provider {
	return func(ctx context.Context) (*domtree.Tree, error) {
		return s.Snapshot(ctx)
	}
}

// Close closes the tab.
func (s *Session) Close() error {
	if s.Page != nil {
		return s.Page.Close()
	}
	return nil
}

// blockResources keeps the listed resource types off the wire.
// Stylesheets are deliberately never blocked.
func blockResources(page *rod.Page, types []string) {
	block := make(map[string]bool, len(types))
	for _, t := range types {
		block[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		var name string
		switch h.Request.Type() {
		case proto.NetworkResourceTypeImage:
			name = "images"
		case proto.NetworkResourceTypeFont:
			name = "fonts"
		case proto.NetworkResourceTypeMedia:
			name = "media"
		}
		if name != "" && block[name] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}
