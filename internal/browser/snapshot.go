package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"github.com/tidwall/gjson"
)

// Cookie is a cookie as exported in a login state file.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// Viewport is a page's CSS pixel size.
type Viewport struct {
	Width  int
	Height int
}

// ContextOptions describes the device a page emulates.
type ContextOptions struct {
	UserAgent         string
	Locale            string
	TimezoneID        string
	Viewport          Viewport
	DeviceScaleFactor float64
	IsMobile          bool
	HasTouch          bool
	ExtraHeaders      map[string]string
}

// DefaultContext is a mobile Chrome profile in the marketplace's home locale.
func DefaultContext() ContextOptions {
	return ContextOptions{
		UserAgent:         "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
		Locale:            "zh-CN",
		TimezoneID:        "Asia/Shanghai",
		Viewport:          Viewport{Width: 412, Height: 915},
		DeviceScaleFactor: 2.625,
		IsMobile:          true,
		HasTouch:          true,
	}
}

// Snapshot is a parsed login state file. Plain storage-state files only carry
// cookies; enhanced snapshots also carry the exporting browser's environment
// and request headers, which override the default context.
type Snapshot struct {
	Cookies  []Cookie
	Context  ContextOptions
	Enhanced bool
}

// enhancedKeys mark a snapshot exported with environment data.
var enhancedKeys = []string{"env", "headers", "page", "storage"}

// LoadSnapshot reads a state file. An empty path yields the default context
// and no cookies.
func LoadSnapshot(path string) (Snapshot, error) {
	if path == "" {
		return Snapshot{Context: DefaultContext()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading state file %s: %w", path, err)
	}
	snap, err := ParseSnapshot(data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return snap, nil
}

// ParseSnapshot decodes the JSON body of a state file.
func ParseSnapshot(data []byte) (Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return Snapshot{}, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	snap := Snapshot{Context: DefaultContext()}

	if raw := root.Get("cookies"); raw.IsArray() {
		if err := json.Unmarshal([]byte(raw.Raw), &snap.Cookies); err != nil {
			return Snapshot{}, fmt.Errorf("decoding cookies: %w", err)
		}
	}

	for _, k := range enhancedKeys {
		if root.Get(k).Exists() {
			snap.Enhanced = true
			break
		}
	}
	if snap.Enhanced {
		applyOverrides(&snap.Context, root)
	}
	return snap, nil
}

func applyOverrides(opts *ContextOptions, root gjson.Result) {
	headers := root.Get("headers")
	nav := root.Get("env.navigator")
	screen := root.Get("env.screen")

	ua := headerValue(headers, "User-Agent")
	if ua == "" {
		ua = nav.Get("userAgent").String()
	}
	if ua != "" {
		opts.UserAgent = ua
	}

	if al := headerValue(headers, "Accept-Language"); al != "" {
		opts.Locale = strings.TrimSpace(strings.Split(al, ",")[0])
	} else if lang := nav.Get("language").String(); lang != "" {
		opts.Locale = lang
	}

	if tz := root.Get("env.intl.timeZone").String(); tz != "" {
		opts.TimezoneID = tz
	}

	w, h := screen.Get("width"), screen.Get("height")
	if w.Type == gjson.Number && h.Type == gjson.Number {
		opts.Viewport = Viewport{Width: int(w.Int()), Height: int(h.Int())}
	}
	if dpr := screen.Get("devicePixelRatio"); dpr.Type == gjson.Number {
		opts.DeviceScaleFactor = dpr.Float()
	}
	if tp := nav.Get("maxTouchPoints"); tp.Type == gjson.Number {
		opts.HasTouch = tp.Float() > 0
	}
	if mobile, ok := looksLikeMobile(ua); ok {
		opts.IsMobile = mobile
	}

	opts.ExtraHeaders = extraHeaders(headers)
}

func headerValue(headers gjson.Result, name string) string {
	var out string
	headers.ForEach(func(k, v gjson.Result) bool {
		if strings.EqualFold(k.String(), name) && v.String() != "" {
			out = v.String()
			return false
		}
		return true
	})
	return out
}

// extraHeaders copies snapshot headers that are safe to replay on every request.
func extraHeaders(headers gjson.Result) map[string]string {
	out := make(map[string]string)
	headers.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		switch strings.ToLower(key) {
		case "", "cookie", "content-length":
			return true
		}
		if v.Type == gjson.Null {
			return true
		}
		out[key] = v.String()
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// looksLikeMobile infers the mobile flag from a user agent. ok is false when
// the agent gives no hint either way.
func looksLikeMobile(ua string) (mobile, ok bool) {
	if ua == "" {
		return false, false
	}
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "mobile"), strings.Contains(lower, "android"), strings.Contains(lower, "iphone"):
		return true, true
	case strings.Contains(lower, "windows"), strings.Contains(lower, "macintosh"):
		return false, true
	}
	return false, false
}

// CookieParams converts the snapshot cookies for the DevTools protocol.
func (s Snapshot) CookieParams() []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if c.Name == "" {
			continue
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = proto.NetworkCookieSameSiteStrict
		case "lax":
			p.SameSite = proto.NetworkCookieSameSiteLax
		case "none":
			p.SameSite = proto.NetworkCookieSameSiteNone
		}
		out = append(out, p)
	}
	return out
}
