package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spatialops/stac-fetcher/stac"
)

// fakeSigner counts the signing requests it serves
type fakeSigner struct {
	mu       sync.Mutex
	calls    int32
	validity time.Duration
	now      func() time.Time
	fail     error
}

func (f *fakeSigner) SignScope(_ context.Context, scope Scope) (Token, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail != nil {
		return Token{}, f.fail
	}
	now := time.Now
	if f.now != nil {
		now = f.now
	}
	return Token{
		Value:  fmt.Sprintf("st=2021&sp=rl&scope=%s&sig=%d", url.QueryEscape(scope.String()), atomic.LoadInt32(&f.calls)),
		Expiry: now().Add(f.validity),
	}, nil
}

func (f *fakeSigner) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

func TestParseScope(t *testing.T) {
	scope, err := ParseScope("https://acct.blob.core.windows.net/container/file.tif")
	if err != nil {
		t.Fatal(err)
	}
	if scope.String() != "acct/container" {
		t.Errorf("expecting acct/container, got %s", scope)
	}

	for _, malformed := range []string{
		"https://acct.blob.core.windows.net/",
		"https://localhost/container/file.tif",
		"gs://bucket/file.tif",
		"://",
	} {
		if _, err := ParseScope(malformed); err == nil {
			t.Errorf("%s: expected an error", malformed)
		}
	}
}

func TestSignURL(t *testing.T) {
	ctx := context.Background()
	signer := &fakeSigner{validity: time.Hour}
	r := New(signer)

	href := "https://acct.blob.core.windows.net/container/file.tif"
	signed, err := r.SignURL(ctx, href)
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatal(err)
	}
	if got := u.Scheme + "://" + u.Host + u.Path; got != href {
		t.Errorf("signing must only touch the query string: %s", signed)
	}
	if u.RawQuery == "" {
		t.Errorf("signed locator has no token: %s", signed)
	}
	if sig := u.Query().Get("sig"); sig == "" {
		t.Errorf("token parameter is empty: %s", signed)
	}
}

func TestCachedTokenIssuesNoRequest(t *testing.T) {
	ctx := context.Background()
	signer := &fakeSigner{validity: time.Hour}
	r := New(signer)

	if _, err := r.SignURL(ctx, "https://acct.blob.core.windows.net/container/a.tif"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SignURL(ctx, "https://acct.blob.core.windows.net/container/b.tif"); err != nil {
		t.Fatal(err)
	}
	if signer.Calls() != 1 {
		t.Errorf("expecting 1 signing request, got %d", signer.Calls())
	}
}

func TestBatchOneRequestPerScope(t *testing.T) {
	ctx := context.Background()
	signer := &fakeSigner{validity: time.Hour}
	r := New(signer)

	items := []*stac.Item{
		{ID: "a", Assets: map[string]stac.Asset{
			"B04": {Href: "https://acct.blob.core.windows.net/container/a/B04.tif"},
			"B08": {Href: "https://acct.blob.core.windows.net/container/a/B08.tif"},
		}},
		{ID: "b", Assets: map[string]stac.Asset{
			"B04": {Href: "https://acct.blob.core.windows.net/container/b/B04.tif"},
			"oth": {Href: "https://other.blob.core.windows.net/images/b.tif"},
		}},
	}
	signed, err := r.SignItems(ctx, items)
	if err != nil {
		t.Fatal(err)
	}
	if signer.Calls() != 2 {
		t.Errorf("expecting 1 signing request per scope (2), got %d", signer.Calls())
	}
	for _, item := range signed {
		for key, asset := range item.Assets {
			u, err := url.Parse(asset.Href)
			if err != nil || u.RawQuery == "" {
				t.Errorf("item %s asset %s not signed: %s", item.ID, key, asset.Href)
			}
		}
	}
	// inputs are untouched
	if items[0].Assets["B04"].Href != "https://acct.blob.core.windows.net/container/a/B04.tif" {
		t.Errorf("input item was modified: %s", items[0].Assets["B04"].Href)
	}
}

func TestExpiredTokenIsNeverReused(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	signer := &fakeSigner{validity: time.Hour, now: clock}
	r := New(signer, WithCache(NewCache(WithClock(clock), WithMargin(time.Minute))))

	href := "https://acct.blob.core.windows.net/container/file.tif"
	first, err := r.SignURL(ctx, href)
	if err != nil {
		t.Fatal(err)
	}

	// still valid: served from the cache
	now = now.Add(30 * time.Minute)
	if _, err := r.SignURL(ctx, href); err != nil {
		t.Fatal(err)
	}
	if signer.Calls() != 1 {
		t.Fatalf("expecting cached token, got %d signing requests", signer.Calls())
	}

	// within the expiry margin: a fresh token is requested
	now = now.Add(30 * time.Minute)
	second, err := r.SignURL(ctx, href)
	if err != nil {
		t.Fatal(err)
	}
	if signer.Calls() != 2 {
		t.Errorf("expecting a fresh signing request after expiry, got %d", signer.Calls())
	}
	if first == second {
		t.Errorf("expired token was reused: %s", second)
	}
}

func TestConcurrentSigningIsCoalesced(t *testing.T) {
	ctx := context.Background()
	signer := &fakeSigner{validity: time.Hour}
	r := New(signer)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.SignURL(ctx, "https://acct.blob.core.windows.net/container/file.tif")
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if signer.Calls() > 1 {
		t.Errorf("expecting at most 1 in-flight signing request, got %d", signer.Calls())
	}
}

func TestResignPolicy(t *testing.T) {
	ctx := context.Background()
	signed := "https://acct.blob.core.windows.net/container/file.tif?st=old&sig=stale"

	r := New(&fakeSigner{validity: time.Hour})
	out, err := r.SignURL(ctx, signed)
	if err != nil {
		t.Fatal(err)
	}
	if u, _ := url.Parse(out); u.Query().Get("sig") == "stale" {
		t.Errorf("ResignOverwrite must replace the token: %s", out)
	}

	r = New(&fakeSigner{validity: time.Hour}, WithResignPolicy(ResignError))
	if _, err := r.SignURL(ctx, signed); err == nil {
		t.Errorf("ResignError must refuse an already-signed locator")
	}
}

func TestMalformedLocatorIsSkipped(t *testing.T) {
	ctx := context.Background()
	signer := &fakeSigner{validity: time.Hour}
	r := New(signer)

	item := &stac.Item{ID: "a", Assets: map[string]stac.Asset{
		"ok":        {Href: "https://acct.blob.core.windows.net/container/a.tif"},
		"malformed": {Href: "https://acct.blob.core.windows.net/"},
		"mirror":    {Href: "gs://public-bucket/a.tif"},
	}}
	signed, err := r.SignItem(ctx, item)
	if err != nil {
		t.Fatal(err)
	}
	if u, _ := url.Parse(signed.Assets["ok"].Href); u.RawQuery == "" {
		t.Errorf("ok asset must be signed")
	}
	if signed.Assets["malformed"].Href != "https://acct.blob.core.windows.net/" {
		t.Errorf("malformed asset must be left unsigned")
	}
	if signed.Assets["mirror"].Href != "gs://public-bucket/a.tif" {
		t.Errorf("non-http asset must be left untouched")
	}
}

func TestSignerFailureIsNotSkipped(t *testing.T) {
	ctx := context.Background()
	// a plain, unclassified error from the signing endpoint must surface:
	// skipping is reserved for locators whose scope cannot be parsed
	r := New(&fakeSigner{fail: errors.New("decode response: unexpected EOF")})

	item := &stac.Item{ID: "a", Assets: map[string]stac.Asset{
		"B04": {Href: "https://acct.blob.core.windows.net/container/B04.tif"},
	}}
	if _, err := r.SignItem(ctx, item); err == nil {
		t.Errorf("a signing endpoint failure must fail SignItem")
	}
	if _, err := r.SignItems(ctx, []*stac.Item{item}); err == nil {
		t.Errorf("a signing endpoint failure must fail SignItems")
	}
}

func TestSignItemKeepsStructure(t *testing.T) {
	ctx := context.Background()
	r := New(&fakeSigner{validity: time.Hour})

	cc := 3.14
	item := &stac.Item{
		ID:         "S2A_MSIL2A_20210501T101031",
		Collection: "sentinel-2-l2a",
		Properties: stac.Properties{Datetime: "2021-05-01T10:10:31Z", CloudCover: &cc, Extra: map[string]interface{}{"s2:mgrs_tile": "32TMR"}},
		Assets:     map[string]stac.Asset{"B04": {Href: "https://acct.blob.core.windows.net/container/B04.tif", Roles: []string{"data"}}},
	}
	signed, err := r.SignItem(ctx, item)
	if err != nil {
		t.Fatal(err)
	}
	a, b := *item, *signed
	a.Assets, b.Assets = nil, nil
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Errorf("signing must only rewrite asset locators:\n%s\n%s", ja, jb)
	}
	if signed.Assets["B04"].Type != item.Assets["B04"].Type || len(signed.Assets["B04"].Roles) != 1 {
		t.Errorf("asset metadata lost in signing")
	}
}
