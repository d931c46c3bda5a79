// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"

	"github.com/gorilla/handlers"
	"github.com/greyfuzz/greyfuzz/pkg/log"
	"github.com/greyfuzz/greyfuzz/pkg/osutil"
	"github.com/greyfuzz/greyfuzz/pkg/stat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (mgr *Manager) serveHTTP(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	log.Logf(0, "serving http on http://%v", addr)
	server := &http.Server{Addr: addr, Handler: mgr.httpHandler(gatherer)}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	err := server.ListenAndServe()
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (mgr *Manager) httpHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, handler func(http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, handlers.CompressHandler(http.HandlerFunc(handler)))
	}
	handle("/", mgr.httpMain)
	handle("/config", mgr.httpConfig)
	handle("/corpus", mgr.httpCorpus)
	handle("/corpus.db", mgr.httpDownloadCorpus)
	handle("/log", mgr.httpLog)
	handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	handle("/stats", mgr.httpStats)
	handle("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {})
	return mux
}

func (mgr *Manager) httpMain(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := &UISummaryData{
		Header:  mgr.pageHeader("summary"),
		Summary: mgr.Summary(),
		Log:     log.CachedLogOutput(),
	}
	for _, s := range mgr.fuzzer.StatSet().Collect(stat.Simple) {
		data.Stats = append(data.Stats, UIStat{
			Name:  s.Name,
			Value: s.Value,
			Hint:  s.Desc,
			Link:  s.Link,
		})
	}
	executeTemplate(w, mainTemplate, data)
}

func (mgr *Manager) httpStats(w http.ResponseWriter, r *http.Request) {
	buf := new(bytes.Buffer)
	for _, s := range mgr.fuzzer.StatSet().Collect(stat.All) {
		fmt.Fprintf(buf, "%v: %v\n", s.Name, s.Value)
	}
	if mgr.cfg.AdaptiveMutation {
		ops := mgr.fuzzer.OperatorStats()
		names := make([]string, 0, len(ops))
		for name := range ops {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(buf, "operator %v: %+v\n", name, ops[name])
		}
	}
	mgr.textPage(w, r, "stats", buf.Bytes())
}

func (mgr *Manager) httpConfig(w http.ResponseWriter, r *http.Request) {
	text, err := json.MarshalIndent(mgr.cfg, "", "\t")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode json: %v", err), http.StatusInternalServerError)
		return
	}
	mgr.textPage(w, r, "config", text)
}

func (mgr *Manager) httpLog(w http.ResponseWriter, r *http.Request) {
	mgr.textPage(w, r, "log", []byte(log.CachedLogOutput()))
}

func (mgr *Manager) textPage(w http.ResponseWriter, r *http.Request, title string, text []byte) {
	if r.FormValue("raw") != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(text)
		return
	}
	executeTemplate(w, textTemplate, &UITextPage{
		Header: mgr.pageHeader(title),
		Text:   text,
	})
}

func (mgr *Manager) httpCorpus(w http.ResponseWriter, r *http.Request) {
	data := &UICorpusData{
		Header: mgr.pageHeader("corpus"),
	}
	freq := mgr.fuzzer.PathFrequency()
	for _, seed := range mgr.fuzzer.Population().Seeds() {
		data.Seeds = append(data.Seeds, UISeed{
			Path:      seed.PathID.Short(),
			Cover:     len(seed.Cover),
			Frequency: freq.Get(seed.PathID),
			Data:      seed.Data,
		})
	}
	executeTemplate(w, corpusTemplate, data)
}

func (mgr *Manager) httpDownloadCorpus(w http.ResponseWriter, r *http.Request) {
	if mgr.cfg.CorpusDB == "" || !osutil.IsExist(mgr.cfg.CorpusDB) {
		http.Error(w, "no corpus database", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, mgr.cfg.CorpusDB)
}

func (mgr *Manager) pageHeader(title string) UIPageHeader {
	name := mgr.cfg.Name
	if name == "" {
		name = "greyfuzz"
	}
	return UIPageHeader{
		Name:  name,
		Title: title,
		RunID: mgr.fuzzer.RunID().String(),
	}
}

func executeTemplate(w http.ResponseWriter, templ *template.Template, data interface{}) {
	buf := new(bytes.Buffer)
	if err := templ.Execute(buf, data); err != nil {
		log.Logf(0, "failed to execute template: %v", err)
		http.Error(w, fmt.Sprintf("failed to execute template: %v", err), http.StatusInternalServerError)
		return
	}
	w.Write(buf.Bytes())
}

type UIPageHeader struct {
	Name  string
	Title string
	RunID string
}

type UISummaryData struct {
	Header  UIPageHeader
	Stats   []UIStat
	Summary *Summary
	Log     string
}

type UIStat struct {
	Name  string
	Value string
	Hint  string
	Link  string
}

type UITextPage struct {
	Header UIPageHeader
	Text   []byte
}

type UICorpusData struct {
	Header UIPageHeader
	Seeds  []UISeed
}

type UISeed struct {
	Path      string
	Cover     int
	Frequency int
	Data      string
}

//go:embed html/*.html
var htmlFiles embed.FS

var (
	mainTemplate   = createPage("main")
	corpusTemplate = createPage("corpus")
	textTemplate   = createPage("text")
)

func createPage(name string) *template.Template {
	common := mustReadHTML("common")
	return template.Must(template.New(name).Parse(fmt.Sprintf(string(common), mustReadHTML(name))))
}

func mustReadHTML(name string) []byte {
	data, err := htmlFiles.ReadFile("html/" + name + ".html")
	if err != nil {
		panic(err)
	}
	return data
}
