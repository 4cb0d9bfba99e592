// Package browsertest provides an in-memory browser session for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/bidharvest/internal/browser"
)

// Site is a set of HTML pages keyed by absolute URL
type Site map[string]string

// Session serves pages from a Site. CSS selectors are evaluated with goquery;
// XPath selectors never match.
type Session struct {
	mu sync.Mutex

	Site    Site
	Current string
	History []string
	Filled  map[string]string
	Clicked []string
	Visited []string

	// NavigateErr fails navigation to specific URLs
	NavigateErr map[string]error
	// SubmitURL is where clicking a submit control lands
	SubmitURL string

	CloseCount int
}

// NewSession creates a session over site
func NewSession(site Site) *Session {
	return &Session{
		Site:        site,
		Filled:      make(map[string]string),
		NavigateErr: make(map[string]error),
	}
}

func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigateLocked(ctx, rawURL, true)
}

func (s *Session) navigateLocked(ctx context.Context, rawURL string, push bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := s.NavigateErr[rawURL]; ok {
		return err
	}
	if _, ok := s.Site[rawURL]; !ok {
		return fmt.Errorf("navigate %s: 404", rawURL)
	}
	if push && s.Current != "" {
		s.History = append(s.History, s.Current)
	}
	s.Current = rawURL
	s.Visited = append(s.Visited, rawURL)
	return nil
}

func (s *Session) Back(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.History) == 0 {
		return errors.New("no history")
	}
	prev := s.History[len(s.History)-1]
	s.History = s.History[:len(s.History)-1]
	s.Current = prev
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.findLocked(selector); err != nil {
		return err
	}
	s.Filled[selector] = value
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.findLocked(selector)
	if err != nil {
		return err
	}
	s.Clicked = append(s.Clicked, selector)

	el := sel.First()
	if href, ok := el.Attr("href"); ok && href != "" {
		return s.navigateLocked(ctx, s.resolve(href), true)
	}
	if target, ok := el.Attr("data-href"); ok && target != "" {
		return s.navigateLocked(ctx, s.resolve(target), true)
	}
	if typ, _ := el.Attr("type"); typ == "submit" && s.SubmitURL != "" {
		return s.navigateLocked(ctx, s.SubmitURL, true)
	}
	return nil
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.findLocked(selector)
	if errors.Is(err, browser.ErrElementNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Session) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.findLocked(selector)
	if err != nil {
		return "", false, err
	}
	value, ok := sel.First().Attr(name)
	return value, ok, nil
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.findLocked(selector)
	if err != nil {
		return "", err
	}
	return sel.First().Text(), nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.Site[s.Current]
	if !ok {
		return "", errors.New("no page loaded")
	}
	return page, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Current, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return nil
}

func (s *Session) findLocked(selector string) (*goquery.Selection, error) {
	if browser.IsXPath(selector) {
		return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	page, ok := s.Site[s.Current]
	if !ok {
		return nil, errors.New("no page loaded")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, err
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return sel, nil
}

func (s *Session) resolve(href string) string {
	base, err := url.Parse(s.Current)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// Launcher hands out a prepared session, or fails with Err
type Launcher struct {
	Session  browser.Session
	Err      error
	Launches int
	LastOpts browser.Options
}

func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Session, error) {
	l.Launches++
	l.LastOpts = opts
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Session, nil
}
