package authz

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"api/v1/usuarios", "/api/v1/usuarios"},
		{"/api/v1/usuarios/", "/api/v1/usuarios"},
		{"/api/v1/usuarios?page=2", "/api/v1/usuarios"},
		{"/api/v1/usuarios#section", "/api/v1/usuarios"},
		{"/api/v1/usuarios/?page=2#x", "/api/v1/usuarios"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatchesExact(t *testing.T) {
	if !Matches("/api/v1/usuarios", "/api/v1/usuarios") {
		t.Fatal("exact pattern should match identical url")
	}
	if Matches("/api/v1/x", "/api/v1/x/y") {
		t.Fatal("exact pattern must not match deeper paths")
	}
	if Matches("/api/v1/x", "/api/v1/xy") {
		t.Fatal("exact pattern must not match by substring")
	}
}

func TestMatchesWildcard(t *testing.T) {
	pattern := "/api/v1/usuarios/*"
	cases := []struct {
		url  string
		want bool
	}{
		{"/api/v1/usuarios", true},
		{"/api/v1/usuarios/42", true},
		{"/api/v1/usuarios/42/perfil", true},
		{"/api/v1/usuariosx", false},
		{"/api/v1/otros", false},
		{"/other", false},
	}
	for _, tc := range cases {
		if got := Matches(pattern, tc.url); got != tc.want {
			t.Fatalf("Matches(%q, %q) = %v, want %v", pattern, tc.url, got, tc.want)
		}
	}
}

func TestMatchesGlobalWildcard(t *testing.T) {
	if !Matches("/*", "/") {
		t.Fatal("root url should match the global wildcard")
	}
	if !Matches("/*", "/anything/below") {
		t.Fatal("any url should match the global wildcard")
	}
	if Matches("/", "/anything") {
		t.Fatal("exact root policy must not match deeper paths")
	}
}

func TestIsWildcardAndBaseOf(t *testing.T) {
	if !IsWildcard("/api/*") || IsWildcard("/api") {
		t.Fatal("wildcard detection broken")
	}
	if BaseOf("/api/v1/*") != "/api/v1" {
		t.Fatalf("BaseOf returned %q", BaseOf("/api/v1/*"))
	}
	if BaseOf("/api/v1") != "/api/v1" {
		t.Fatal("BaseOf must leave exact patterns untouched")
	}
}

func TestCandidateWildcards(t *testing.T) {
	got := CandidateWildcards("/api/v1/usuarios/42")
	want := []string{"/api/v1/usuarios/*", "/api/v1/*", "/api/*", "/*"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CandidateWildcards = %v, want %v", got, want)
	}

	if got := CandidateWildcards("/"); !reflect.DeepEqual(got, []string{"/*"}) {
		t.Fatalf("root candidates = %v", got)
	}

	if got := CandidateWildcards("/solo"); !reflect.DeepEqual(got, []string{"/*"}) {
		t.Fatalf("single segment candidates = %v", got)
	}
}
