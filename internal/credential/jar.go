package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"sync"
	"time"
)

// CookiesKey is the store entry holding persistent cookies.
const CookiesKey = "cookies"

// savedCookie is a persistent cookie plus the URL it was set from, which is
// needed to replay it into a fresh jar with the same host and path scope.
type savedCookie struct {
	URL      string    `json:"url"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"httpOnly,omitempty"`
}

// Jar is an http.CookieJar whose persistent cookies live in a Store, so a
// server-managed refresh cookie outlives the process. Session cookies (no
// Expires or Max-Age) stay in memory only.
type Jar struct {
	store  Store
	now    Clock
	logger *slog.Logger

	mu    sync.Mutex
	mem   *cookiejar.Jar
	saved map[string]savedCookie
}

// NewJar returns a jar preloaded with the unexpired cookies in store.
func NewJar(ctx context.Context, store Store, now Clock, logger *slog.Logger) (*Jar, error) {
	if now == nil {
		now = time.Now
	}
	mem, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	j := &Jar{store: store, now: now, logger: logger, mem: mem, saved: make(map[string]savedCookie)}

	raw, ok, err := store.Get(ctx, CookiesKey)
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	if !ok {
		return j, nil
	}
	var saved []savedCookie
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		logger.Warn("discarding unreadable stored cookies", slog.String("error", err.Error()))
		return j, nil
	}

	t := now()
	for _, sc := range saved {
		u, err := url.Parse(sc.URL)
		if err != nil || !t.Before(sc.Expires) {
			continue
		}
		j.mem.SetCookies(u, []*http.Cookie{sc.cookie()})
		j.saved[cookieID(u, sc.cookie())] = sc
	}
	return j, nil
}

func (sc savedCookie) cookie() *http.Cookie {
	return &http.Cookie{
		Name:     sc.Name,
		Value:    sc.Value,
		Domain:   sc.Domain,
		Path:     sc.Path,
		Expires:  sc.Expires,
		Secure:   sc.Secure,
		HttpOnly: sc.HttpOnly,
	}
}

// cookieID matches the jar's own identity for a cookie: name, domain and
// path, with host-only cookies scoped to the request host.
func cookieID(u *url.URL, c *http.Cookie) string {
	domain := c.Domain
	if domain == "" {
		domain = u.Hostname()
	}
	p := c.Path
	if p == "" || p[0] != '/' {
		p = path.Dir(u.Path)
		if p == "." {
			p = "/"
		}
	}
	return domain + ";" + p + ";" + c.Name
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.mem.Cookies(u)
}

// SetCookies records cookies in memory and writes the persistent ones
// through to the store. A cookie that is deleted or downgraded to a session
// cookie is dropped from the store.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.mem.SetCookies(u, cookies)

	t := j.now()
	changed := false
	for _, c := range cookies {
		id := cookieID(u, c)
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = t.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || expires.IsZero() || !t.Before(expires) {
			if _, ok := j.saved[id]; ok {
				delete(j.saved, id)
				changed = true
			}
			continue
		}
		j.saved[id] = savedCookie{
			URL:      (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String(),
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		changed = true
	}
	if changed {
		j.persistLocked(context.Background())
	}
}

// Clear forgets every cookie, in memory and in the store.
func (j *Jar) Clear(ctx context.Context) error {
	mem, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.mem = mem
	clear(j.saved)
	return j.store.Erase(ctx, CookiesKey)
}

// persistLocked writes the saved set with a TTL reaching its latest expiry.
// Failures are logged; the in-memory jar stays authoritative for this process.
func (j *Jar) persistLocked(ctx context.Context) {
	var err error
	defer func() {
		if err != nil {
			j.logger.Error("persist cookies", slog.String("error", err.Error()))
		}
	}()

	if len(j.saved) == 0 {
		err = j.store.Erase(ctx, CookiesKey)
		return
	}

	t := j.now()
	list := make([]savedCookie, 0, len(j.saved))
	var latest time.Time
	for _, sc := range j.saved {
		list = append(list, sc)
		if sc.Expires.After(latest) {
			latest = sc.Expires
		}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return
	}
	err = j.store.Set(ctx, CookiesKey, string(data), latest.Sub(t))
}
