package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/pagewatch/horosafe"
)

func TestExpand(t *testing.T) {
	cases := []struct{ tpl, base, id, want string }{
		{"https://x.test/dl?id={id}", "", "a b", "https://x.test/dl?id=a+b"},
		{"", "https://x.test/list/", "../files/a.pdf", "https://x.test/files/a.pdf"},
		{"", "", "https://cdn.test/z.zip", "https://cdn.test/z.zip"},
		{"/get/{id}", "https://x.test/page", "42", "https://x.test/get/42"},
	}
	for _, tc := range cases {
		got, err := Expand(tc.tpl, tc.base, tc.id)
		if err != nil || got != tc.want {
			t.Errorf("Expand(%q, %q, %q) = %q, %v; want %q", tc.tpl, tc.base, tc.id, got, err, tc.want)
		}
	}
	if _, err := Expand("", "", "javascript:alert(1)"); err == nil {
		t.Error("non-http scheme accepted")
	}
}

func TestTemplate_Download(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA, gotLang = r.Header.Get("User-Agent"), r.Header.Get("Accept-Language")
		switch r.URL.Path {
		case "/files/report.pdf":
			w.Write([]byte("%PDF"))
		case "/attach":
			w.Header().Set("Content-Disposition", `attachment; filename="named.csv"`)
			w.Write([]byte("a,b"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(WithUserAgent("ua-test"), WithAcceptLanguage("fr-FR"))
	res, err := f.Template(srv.URL+"/files/{id}", "").Fetch(context.Background(), "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Data) != "%PDF" || res.Name != "report.pdf" {
		t.Fatalf("resource = %q / %q", res.Name, res.Data)
	}
	if gotUA != "ua-test" || gotLang != "fr-FR" {
		t.Fatalf("headers: ua=%q lang=%q", gotUA, gotLang)
	}

	res, err = f.Template("", srv.URL+"/").Fetch(context.Background(), "attach")
	if err != nil || res.Name != "named.csv" {
		t.Fatalf("content-disposition name = %q, %v", res.Name, err)
	}

	if _, err := f.Template("", srv.URL+"/").Fetch(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("404 err = %v", err)
	}
}

func TestGet_SizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := New(WithMaxBytes(10)).Get(context.Background(), srv.URL, "big")
	if !errors.Is(err, horosafe.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}
