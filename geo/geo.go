// Package geo suggests site addresses for a partial query. Suggest never
// fails: when both providers are down it returns an empty list.
package geo

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	MinQueryLen = 3
	MaxResults  = 5
)

type Options struct {
	PrimaryURL  string // Nominatim style: [{"display_name": ...}]
	FallbackURL string // Photon style: {"features":[{"properties":{...}}]}
	UserAgent   string
	CacheTTL    time.Duration
	Timeout     time.Duration
}

type Lookup struct {
	opts Options
	rdb  *redis.Client
	HTTP *http.Client
}

// New builds a lookup; rdb may be nil, then nothing is cached.
func New(opts Options, rdb *redis.Client) *Lookup {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "toolcustody"
	}
	return &Lookup{
		opts: opts,
		rdb:  rdb,
		HTTP: &http.Client{Timeout: opts.Timeout},
	}
}

func cacheKey(q string) string {
	sum := sha1.Sum([]byte(strings.ToLower(q)))
	return "geo:q:" + hex.EncodeToString(sum[:])
}

func (l *Lookup) Suggest(ctx context.Context, query string) []string {
	q := strings.TrimSpace(query)
	if len([]rune(q)) < MinQueryLen {
		return []string{}
	}
	if cached, ok := l.cached(ctx, q); ok {
		return cached
	}

	out, err := l.primary(ctx, q)
	if err != nil || len(out) == 0 {
		if err != nil {
			slog.Warn("geocoder primary failed", "err", err)
		}
		out, err = l.fallback(ctx, q)
		if err != nil {
			slog.Warn("geocoder fallback failed", "err", err)
			return []string{}
		}
	}
	out = dedupe(out)
	if len(out) > MaxResults {
		out = out[:MaxResults]
	}
	if len(out) > 0 {
		l.store(ctx, q, out)
	}
	return out
}

func (l *Lookup) cached(ctx context.Context, q string) ([]string, bool) {
	if l.rdb == nil || l.opts.CacheTTL <= 0 {
		return nil, false
	}
	b, err := l.rdb.Get(ctx, cacheKey(q)).Bytes()
	if err != nil {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (l *Lookup) store(ctx context.Context, q string, out []string) {
	if l.rdb == nil || l.opts.CacheTTL <= 0 {
		return
	}
	b, _ := json.Marshal(out)
	if err := l.rdb.Set(ctx, cacheKey(q), b, l.opts.CacheTTL).Err(); err != nil {
		slog.Debug("geocoder cache write failed", "err", err)
	}
}

func (l *Lookup) getJSON(ctx context.Context, base string, params url.Values, v any) error {
	if base == "" {
		return errors.New("no provider url")
	}
	u, err := url.Parse(base)
	if err != nil {
		return err
	}
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := l.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", u.Host, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (l *Lookup) primary(ctx context.Context, q string) ([]string, error) {
	var rows []struct {
		DisplayName string `json:"display_name"`
	}
	params := url.Values{
		"q":              {q},
		"format":         {"json"},
		"addressdetails": {"0"},
		"limit":          {fmt.Sprint(MaxResults)},
	}
	if err := l.getJSON(ctx, l.opts.PrimaryURL, params, &rows); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if s := strings.TrimSpace(r.DisplayName); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

type photonProps struct {
	Name        string `json:"name"`
	Street      string `json:"street"`
	HouseNumber string `json:"housenumber"`
	Postcode    string `json:"postcode"`
	City        string `json:"city"`
	Country     string `json:"country"`
}

// label 拼成 "Street 4, 12345 City, Country"
func (p photonProps) label() string {
	var parts []string
	first := strings.TrimSpace(p.Street + " " + p.HouseNumber)
	if first == "" {
		first = p.Name
	}
	if first != "" {
		parts = append(parts, first)
	}
	if city := strings.TrimSpace(p.Postcode + " " + p.City); city != "" {
		parts = append(parts, city)
	}
	if p.Country != "" {
		parts = append(parts, p.Country)
	}
	return strings.Join(parts, ", ")
}

func (l *Lookup) fallback(ctx context.Context, q string) ([]string, error) {
	var body struct {
		Features []struct {
			Properties photonProps `json:"properties"`
		} `json:"features"`
	}
	params := url.Values{"q": {q}, "limit": {fmt.Sprint(MaxResults)}}
	if err := l.getJSON(ctx, l.opts.FallbackURL, params, &body); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(body.Features))
	for _, f := range body.Features {
		if s := f.Properties.label(); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
