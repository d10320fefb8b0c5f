package urlutil

import "testing"

func TestCanonicalizeHostIPv4(t *testing.T) {
	got, err := CanonicalizeHost("192.0.2.1")
	if err != nil || got != "192.0.2.1" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestCanonicalizeHostIPv6Bracketed(t *testing.T) {
	got, err := CanonicalizeHost("[2001:db8::1]")
	if err != nil {
		t.Fatal(err)
	}
	if !IsIPLiteral(got) {
		t.Fatalf("expected IP literal, got %q", got)
	}
}

func TestCanonicalizeHostIDN(t *testing.T) {
	got, err := CanonicalizeHost("ExAmple.COM")
	if err != nil || got != "example.com" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestCanonicalizeHostLabelTooLong(t *testing.T) {
	long := ""
	for i := 0; i < 64; i++ {
		long += "a"
	}
	if _, err := CanonicalizeHost(long + ".com"); err == nil {
		t.Fatal("expected error for over-long label")
	}
}

func TestPublicSuffixBasic(t *testing.T) {
	list := NewInMemoryList([]string{"com", "co.uk", "*.ck"}, nil)
	if got := list.PublicSuffix("example.com"); got != "com" {
		t.Fatalf("got %q", got)
	}
	if got := list.PublicSuffix("example.co.uk"); got != "co.uk" {
		t.Fatalf("got %q", got)
	}
	if got := list.PublicSuffix("www.foo.ck"); got != "foo.ck" {
		t.Fatalf("got %q", got)
	}
}

func TestPublicSuffixException(t *testing.T) {
	list := NewInMemoryList([]string{"*.kawasaki.jp"}, []string{"city.kawasaki.jp"})
	if got := list.PublicSuffix("city.kawasaki.jp"); got != "kawasaki.jp" {
		t.Fatalf("got %q", got)
	}
	if got := list.PublicSuffix("foo.kawasaki.jp"); got != "foo.kawasaki.jp" {
		t.Fatalf("got %q", got)
	}
}

func TestEffectiveTLDPlusOne(t *testing.T) {
	list := NewInMemoryList([]string{"com", "co.uk"}, nil)
	got, ok := EffectiveTLDPlusOne("www.example.co.uk", list)
	if !ok || got != "example.co.uk" {
		t.Fatalf("got %q, %v", got, ok)
	}
}
