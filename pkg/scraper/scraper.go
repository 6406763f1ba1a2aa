package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/avass/docq/internal/models"
	"github.com/avass/docq/pkg/logging"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	OnProgress        func(url string)
	Logger            logging.Logger
}

type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
	logger   logging.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.Logger == nil {
		config.Logger = logging.NewNop()
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		logger:   config.Logger,
	}, nil
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	// Stay on the host the crawl started from
	if parsedURL.Host != s.baseHost {
		return false
	}

	ext := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(ext, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func (s *Scraper) cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	// Remove common chrome that pollutes retrieval
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	if content == "" {
		content = doc.Find("body").Text()
	}

	return s.cleanContent(content)
}

// Scrape crawls from the given URL, depth-limited and rate-limited, and
// returns one document per page.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]models.Document, error) {
	var documents []models.Document
	err := s.scrapeRecursive(ctx, startURL, 0, &documents)
	return documents, err
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, documents *[]models.Document) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}

	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	content := s.extractMainContent(doc)
	title := strings.TrimSpace(doc.Find("title").Text())
	if title == "" {
		title = urlStr
	}

	document := models.Document{
		ID:      uuid.NewString(),
		Name:    title,
		Source:  urlStr,
		Content: content,
		Size:    int64(len(content)),
		Metadata: map[string]interface{}{
			"depth":        depth,
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}
	*documents = append(*documents, document)

	// Find and follow links
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, exists := selection.Attr("href")
		if !exists {
			return
		}

		absoluteURL, err := url.Parse(href)
		if err != nil {
			s.logger.Debug("skipping unparseable link", "href", href, "error", err)
			return
		}

		if !absoluteURL.IsAbs() {
			base, err := url.Parse(urlStr)
			if err != nil {
				return
			}
			absoluteURL = base.ResolveReference(absoluteURL)
		}

		if err := s.scrapeRecursive(ctx, absoluteURL.String(), depth+1, documents); err != nil {
			s.logger.Debug("scrape failed", "url", absoluteURL.String(), "error", err)
		}
	})

	return nil
}
