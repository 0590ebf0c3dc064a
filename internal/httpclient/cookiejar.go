package httpclient

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/dropsminer/core/internal/errors"
)

// PersistentJar is an http.CookieJar keyed by eTLD+1 domain, serializable
// to disk between runs. The stdlib cookiejar.Jar has no dump/load hooks,
// so this keeps its own per-domain cookie table instead of wrapping it.
type PersistentJar struct {
	mu   sync.Mutex
	byKey map[string][]*storedCookie
}

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path"`
	Domain   string    `json:"domain"`
	Expires  time.Time `json:"expires"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
}

// NewPersistentJar returns an empty jar.
func NewPersistentJar() *PersistentJar {
	return &PersistentJar{byKey: make(map[string][]*storedCookie)}
}

func jarKey(u *url.URL) string {
	key, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return u.Hostname()
	}
	return key
}

// SetCookies implements http.CookieJar.
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := jarKey(u)
	existing := j.byKey[key]
	for _, c := range cookies {
		existing = upsertCookie(existing, toStored(u, c))
	}
	if len(existing) == 0 {
		delete(j.byKey, key)
	} else {
		j.byKey[key] = existing
	}
}

// Cookies implements http.CookieJar.
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	var out []*http.Cookie
	for _, c := range j.byKey[jarKey(u)] {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func toStored(u *url.URL, c *http.Cookie) *storedCookie {
	domain := c.Domain
	if domain == "" {
		domain = u.Hostname()
	}
	return &storedCookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   domain,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}
}

func upsertCookie(list []*storedCookie, c *storedCookie) []*storedCookie {
	if c.Value == "" {
		// A cookie cleared by the server (empty value) is removed rather
		// than stored, which is how the empty-entry pruning requirement
		// is satisfied incrementally instead of only at save time.
		for i, existing := range list {
			if existing.Name == c.Name {
				return append(list[:i], list[i+1:]...)
			}
		}
		return list
	}
	for i, existing := range list {
		if existing.Name == c.Name {
			list[i] = c
			return list
		}
	}
	return append(list, c)
}

// Get returns the named cookie's value for a host, if set and unexpired.
func (j *PersistentJar) Get(host, name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	key, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		key = host
	}
	now := time.Now()
	for _, c := range j.byKey[key] {
		if c.Name == name {
			if !c.Expires.IsZero() && c.Expires.Before(now) {
				return "", false
			}
			return c.Value, true
		}
	}
	return "", false
}

// ClearHost drops every cookie stored under host's eTLD+1, used when auth
// validate() finds the restored access token invalid (a 401).
func (j *PersistentJar) ClearHost(host string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	key, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		key = host
	}
	delete(j.byKey, key)
}

// ClearAll drops every cookie in the jar, used when auth validate() detects
// the restored session no longer matches the selected client and the whole
// jar — not just one host — needs to be thrown away.
func (j *PersistentJar) ClearAll() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.byKey = make(map[string][]*storedCookie)
}

// Prune removes domain entries left with zero cookies. Call before Save;
// upsertCookie already removes individual empty cookies, but this catches
// domains that end up with an empty slice through other code paths.
func (j *PersistentJar) Prune() {
	j.mu.Lock()
	defer j.mu.Unlock()

	for key, cookies := range j.byKey {
		if len(cookies) == 0 {
			delete(j.byKey, key)
		}
	}
}

// Save prunes empty entries and writes the jar to path as JSON.
func (j *PersistentJar) Save(path string) error {
	j.Prune()

	j.mu.Lock()
	data, err := json.Marshal(j.byKey)
	j.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "marshal cookie jar")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "write cookie jar to %s", path)
	}
	return nil
}

// Load reads a previously saved jar from path. A missing file is not an
// error: it just means a fresh jar is used, mirroring the source's
// "if cookies file exists" check.
func (j *PersistentJar) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "read cookie jar from %s", path)
	}

	var byKey map[string][]*storedCookie
	if err := json.Unmarshal(data, &byKey); err != nil {
		// A corrupt jar is treated the way the source treats any loading
		// failure: clear and continue rather than fail startup.
		j.mu.Lock()
		j.byKey = make(map[string][]*storedCookie)
		j.mu.Unlock()
		return nil
	}

	j.mu.Lock()
	j.byKey = byKey
	j.mu.Unlock()
	return nil
}
