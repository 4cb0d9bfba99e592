package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/browser"
	"github.com/ternarybob/bidharvest/internal/common"
	"github.com/ternarybob/bidharvest/internal/models"
)

// ErrNoNextControl is returned by AdvancePage when no next-page locator matches
var ErrNoNextControl = errors.New("could not find next page control")

// headerHints maps lower-cased column header fragments onto canonical raw fields.
// The first hint contained in a header wins.
var headerHints = []struct {
	fragment string
	field    string
}{
	{"requisition", "requisitionNumber"},
	{"solicitation", "solicitationNumber"},
	{"bid number", "bidNumber"},
	{"bid #", "bidNumber"},
	{"bid no", "bidNumber"},
	{"open date", "openDate"},
	{"issue date", "openDate"},
	{"posted", "openDate"},
	{"release date", "openDate"},
	{"close date", "closeDate"},
	{"closing", "closeDate"},
	{"due date", "closeDate"},
	{"quantity", "quantity"},
	{"qty", "quantity"},
	{"unit", "unitOfMeasure"},
	{"uom", "unitOfMeasure"},
	{"summary", "summary"},
	{"title", "title"},
}

// Generic is the fallback strategy: ordered locator chains and tabular heuristics
// that work against most simple listing pages.
type Generic struct {
	deps    Deps
	opts    GenericOptions
	session browser.Session
	logger  arbor.ILogger
}

// NewGeneric builds the generic strategy; it matches the Builder signature
func NewGeneric(deps Deps) (Strategy, error) {
	opts, err := DecodeGenericOptions(deps.Source.Strategy.Options)
	if err != nil {
		return nil, fmt.Errorf("decode generic strategy options: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Generic{
		deps:    deps,
		opts:    opts,
		session: deps.Session,
		logger:  logger,
	}, nil
}

// firstPresent returns the first selector in chain that matches an element.
// Each probe is bounded by the candidate timeout.
func (g *Generic) firstPresent(ctx context.Context, chain []string) (string, bool) {
	for _, selector := range chain {
		if ctx.Err() != nil {
			return "", false
		}
		probeCtx, cancel := context.WithTimeout(ctx, g.opts.candidateTimeout())
		ok, err := g.session.Exists(probeCtx, selector)
		cancel()
		if err == nil && ok {
			return selector, true
		}
	}
	return "", false
}

// PerformLogin fills the credential fields and submits. Missing controls are logged
// and skipped; only context cancellation is reported.
func (g *Generic) PerformLogin(ctx context.Context, username, password string) error {
	if sel, ok := g.firstPresent(ctx, g.opts.UsernameSelectors); ok {
		if err := g.session.Fill(ctx, sel, username); err != nil {
			g.logger.Warn().Err(err).Str("selector", sel).Msg("Failed to fill username")
		}
	} else {
		g.deps.log(ctx, models.LogLevelWarn, "No username field found", nil)
	}

	if sel, ok := g.firstPresent(ctx, g.opts.PasswordSelectors); ok {
		if err := g.session.Fill(ctx, sel, password); err != nil {
			g.logger.Warn().Err(err).Str("selector", sel).Msg("Failed to fill password")
		}
	} else {
		g.deps.log(ctx, models.LogLevelWarn, "No password field found", nil)
	}

	if sel, ok := g.firstPresent(ctx, g.opts.SubmitSelectors); ok {
		if err := g.session.Click(ctx, sel); err != nil {
			g.logger.Warn().Err(err).Str("selector", sel).Msg("Failed to submit login form")
		}
	} else {
		g.deps.log(ctx, models.LogLevelWarn, "No login submit control found", nil)
	}

	return ctx.Err()
}

// ExtractListing parses the current page into raw records. A page with no matching
// rows yields an empty slice, not an error.
func (g *Generic) ExtractListing(ctx context.Context) ([]*models.RawRecord, error) {
	page, err := g.session.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read listing page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	var rows *goquery.Selection
	var used string
	for _, selector := range g.opts.RowSelectors {
		if browser.IsXPath(selector) {
			continue
		}
		if found := doc.Find(selector); found.Length() > 0 {
			rows, used = found, selector
			break
		}
	}
	if rows == nil {
		g.deps.log(ctx, models.LogLevelWarn, "No bid rows found on page", nil)
		return []*models.RawRecord{}, nil
	}

	base, _ := g.session.URL(ctx)
	if base == "" {
		base = g.deps.Source.ListingURL
	}

	records := make([]*models.RawRecord, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		if row.Find("td").Length() == 0 && row.Find("th").Length() > 0 {
			return
		}
		if rec := rowRecord(row, base); rec != nil {
			records = append(records, rec)
		}
	})

	g.deps.log(ctx, models.LogLevelInfo, fmt.Sprintf("Found %d rows using selector %s", len(records), used), map[string]interface{}{
		"selector": used,
		"rows":     len(records),
	})
	return records, nil
}

func rowRecord(row *goquery.Selection, base string) *models.RawRecord {
	text := strings.TrimSpace(row.Text())
	if text == "" {
		return nil
	}
	rowHTML, _ := goquery.OuterHtml(row)

	rec := &models.RawRecord{
		Title: firstLine(text),
		Payload: map[string]interface{}{
			"text": collapseSpace(text),
			"html": rowHTML,
		},
	}

	cells := row.Find("td")
	if cells.Length() > 0 {
		headers := tableHeaders(row)
		values := make(map[string]string, cells.Length())
		cells.Each(func(i int, cell *goquery.Selection) {
			value := collapseSpace(cell.Text())
			key := fmt.Sprintf("col%d", i+1)
			if i < len(headers) && headers[i] != "" {
				key = headers[i]
				applyHint(rec, headers[i], value)
			}
			values[key] = value
		})
		rec.Payload["cells"] = values
	}

	if href, ok := row.Find("a[href]").First().Attr("href"); ok {
		rec.DetailURL = resolveURL(base, href)
	}
	return rec
}

func tableHeaders(row *goquery.Selection) []string {
	table := row.Closest("table")
	if table.Length() == 0 {
		return nil
	}
	ths := table.Find("thead th")
	if ths.Length() == 0 {
		ths = table.Find("tr").First().Find("th")
	}
	headers := make([]string, 0, ths.Length())
	ths.Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, collapseSpace(th.Text()))
	})
	return headers
}

func applyHint(rec *models.RawRecord, header, value string) {
	if value == "" {
		return
	}
	h := strings.ToLower(header)
	for _, hint := range headerHints {
		if !strings.Contains(h, hint.fragment) {
			continue
		}
		switch hint.field {
		case "requisitionNumber":
			rec.RequisitionNumber = value
		case "solicitationNumber":
			rec.SolicitationNumber = value
		case "bidNumber":
			rec.BidNumber = value
		case "openDate":
			rec.OpenDate = value
		case "closeDate":
			rec.CloseDate = value
		case "quantity":
			rec.Quantity = value
		case "unitOfMeasure":
			rec.UnitOfMeasure = value
		case "summary":
			rec.Summary = value
		case "title":
			rec.Title = value
		}
		return
	}
}

// ExtractDetail visits the record's detail page, captures the page body as markdown
// into Description, then returns to the listing.
func (g *Generic) ExtractDetail(ctx context.Context, record *models.RawRecord) (*models.RawRecord, error) {
	if record.DetailURL == "" {
		return record, nil
	}

	err := g.deps.Retry.Do(ctx, g.logger, func(ctx context.Context) error {
		return g.session.Navigate(ctx, record.DetailURL)
	})
	if err != nil {
		return nil, fmt.Errorf("navigate to detail page %s: %w", record.DetailURL, err)
	}

	page, err := g.session.HTML(ctx)
	if err != nil {
		g.back(ctx)
		return nil, fmt.Errorf("read detail page: %w", err)
	}

	description, err := g.describe(page, record.DetailURL)
	if err != nil {
		g.back(ctx)
		return nil, err
	}

	enriched := *record
	enriched.Description = description
	g.back(ctx)
	return &enriched, nil
}

func (g *Generic) describe(page, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse detail page: %w", err)
	}
	body := doc.Find(g.opts.DetailSelector).First()
	if body.Length() == 0 {
		body = doc.Find("body").First()
	}
	body.Find("script, style, noscript").Remove()

	inner, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("render detail body: %w", err)
	}

	domain := ""
	if u, err := url.Parse(pageURL); err == nil {
		domain = u.Scheme + "://" + u.Host
	}
	converter := md.NewConverter(domain, true, nil)
	markdown, err := converter.ConvertString(inner)
	if err != nil {
		g.logger.Debug().Err(err).Msg("Markdown conversion failed, using plain text")
		return collapseSpace(body.Text()), nil
	}
	return strings.TrimSpace(markdown), nil
}

func (g *Generic) back(ctx context.Context) {
	if err := g.session.Back(ctx); err != nil {
		g.deps.log(ctx, models.LogLevelWarn, "Failed to return to listing page", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// HasNextPage reports whether an enabled next-page control is present
func (g *Generic) HasNextPage(ctx context.Context) (bool, error) {
	for _, selector := range g.opts.NextSelectors {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, g.opts.candidateTimeout())
		ok, err := g.session.Exists(probeCtx, selector)
		if err != nil || !ok {
			cancel()
			continue
		}
		disabled := g.disabled(probeCtx, selector)
		cancel()
		if !disabled {
			return true, nil
		}
	}
	return false, nil
}

func (g *Generic) disabled(ctx context.Context, selector string) bool {
	if _, ok, err := g.session.Attribute(ctx, selector, "disabled"); err == nil && ok {
		return true
	}
	if v, ok, err := g.session.Attribute(ctx, selector, "aria-disabled"); err == nil && ok && strings.EqualFold(v, "true") {
		return true
	}
	if v, ok, err := g.session.Attribute(ctx, selector, "class"); err == nil && ok {
		for _, class := range strings.Fields(v) {
			if class == "disabled" {
				return true
			}
		}
	}
	return false
}

// AdvancePage clicks the first next-page control that accepts the click
func (g *Generic) AdvancePage(ctx context.Context) error {
	for _, selector := range g.opts.NextSelectors {
		if _, ok := g.firstPresent(ctx, []string{selector}); !ok {
			continue
		}
		if err := g.session.Click(ctx, selector); err != nil {
			g.logger.Debug().Err(err).Str("selector", selector).Msg("Next page click failed")
			continue
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrNoNextControl
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolveURL(base, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}
