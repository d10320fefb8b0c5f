package jar

import (
	"net/url"
	"testing"
)

func TestSetAndGetCookieRoundTrip(t *testing.T) {
	j := New(nil)
	u, _ := url.Parse("https://example.com/a/b")
	j.SetCookies(u, []*Cookie{{Name: "sid", Value: "abc"}})

	got := j.Cookies(u)
	if len(got) != 1 || got[0].Value != "abc" {
		t.Fatalf("got %+v", got)
	}
}

func TestCookieNotSentToDifferentHost(t *testing.T) {
	j := New(nil)
	u1, _ := url.Parse("https://example.com/")
	j.SetCookies(u1, []*Cookie{{Name: "sid", Value: "abc"}})

	u2, _ := url.Parse("https://evil.example.net/")
	if got := j.Cookies(u2); len(got) != 0 {
		t.Fatalf("expected no cookies for unrelated host, got %+v", got)
	}
}

func TestCookieSecureOnlySentOverHTTPS(t *testing.T) {
	j := New(nil)
	u, _ := url.Parse("https://example.com/")
	j.SetCookies(u, []*Cookie{{Name: "sid", Value: "abc", Secure: true}})

	plain, _ := url.Parse("http://example.com/")
	if got := j.Cookies(plain); len(got) != 0 {
		t.Fatalf("secure cookie leaked over http: %+v", got)
	}
	secure, _ := url.Parse("https://example.com/")
	if got := j.Cookies(secure); len(got) != 1 {
		t.Fatalf("secure cookie missing over https: %+v", got)
	}
}

func TestMaxAgeNegativeDeletesCookie(t *testing.T) {
	j := New(nil)
	u, _ := url.Parse("https://example.com/")
	j.SetCookies(u, []*Cookie{{Name: "sid", Value: "abc"}})
	j.SetCookies(u, []*Cookie{{Name: "sid", Value: "abc", MaxAge: -1}})

	if got := j.Cookies(u); len(got) != 0 {
		t.Fatalf("expected cookie deleted by MaxAge<0, got %+v", got)
	}
}
