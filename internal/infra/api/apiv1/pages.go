package apiv1

import (
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
)

var page = template.Must(template.New("result").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.success{color:#057a55} .failed{color:#b00020} .pending{color:#8a6d00}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{.Result}}">{{.Title}}</h2>
  <p>{{.Body}}</p>
</div>
</body>
</html>`))

var pageKeys = map[string]string{
	"success": "page.success",
	"failed":  "page.failure",
	"pending": "page.pending",
}

func (s *Server) resultPage(w http.ResponseWriter, r *http.Request) {
	result := chi.URLParam(r, "result")
	key, ok := pageKeys[result]
	if !ok {
		http.NotFound(w, r)
		return
	}
	tr, ok := s.pages[r.URL.Query().Get("lang")]
	if !ok {
		tr = s.pages[""]
	}

	code := http.StatusOK
	if result == "failed" {
		code = http.StatusPaymentRequired
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = page.Execute(w, struct {
		Lang   string
		Result string
		Title  string
		Body   string
	}{
		Lang:   tr.Lang(),
		Result: result,
		Title:  tr.T(key + ".title"),
		Body:   tr.T(key + ".body"),
	})
}
