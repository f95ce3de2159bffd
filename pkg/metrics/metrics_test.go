// Unit tests for the metrics collection and exposition
//
// Copyright (C) 2026  SerialPrint Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "A test counter")
	c.Inc(nil)
	c.Add(nil, 4)
	c.Inc(Labels{"kind": "other"})

	if got := c.Get(nil); got != 5 {
		t.Errorf("Get(nil) = %d, want 5", got)
	}
	if got := c.Get(Labels{"kind": "other"}); got != 1 {
		t.Errorf("labeled value = %d, want 1", got)
	}
	if got := c.Get(Labels{"kind": "missing"}); got != 0 {
		t.Errorf("missing label set = %d, want 0", got)
	}

	var sb strings.Builder
	c.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		"# HELP test_total A test counter",
		"# TYPE test_total counter",
		"test_total 5",
		`test_total{kind="other"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "A test gauge")
	g.Set(nil, 21.5)
	g.Add(nil, -1.5)

	if got := g.Get(nil); got != 20 {
		t.Errorf("Get(nil) = %g, want 20", got)
	}

	var sb strings.Builder
	g.Write(&sb)
	if !strings.Contains(sb.String(), "test_gauge 20\n") {
		t.Errorf("output:\n%s", sb.String())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_seconds", "A test histogram", []float64{0.1, 1, 10})
	h.Observe(nil, 0.05)
	h.Observe(nil, 0.5)
	h.Observe(nil, 100)

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, want := range []string{
		`test_seconds_bucket{le="0.1"} 1`,
		`test_seconds_bucket{le="1"} 2`,
		`test_seconds_bucket{le="10"} 2`,
		`test_seconds_bucket{le="+Inf"} 3`,
		"test_seconds_sum 100.55",
		"test_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLabelFormatting(t *testing.T) {
	labels := Labels{"zeta": "z", "alpha": `va"l`}
	got := formatLabels(labels)
	// Keys sorted, values escaped.
	want := `{alpha="va\"l",zeta="z"}`
	if got != want {
		t.Errorf("formatLabels = %s, want %s", got, want)
	}
	if formatLabels(nil) != "" {
		t.Errorf("nil labels formatted as %q", formatLabels(nil))
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(NewCounter("dup_total", "first")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(NewCounter("dup_total", "second")); err == nil {
		t.Fatal("duplicate register succeeded")
	}
}

func TestRegistryGatherOrder(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(NewCounter("first_total", "first"))
	reg.MustRegister(NewGauge("second_gauge", "second"))

	out := reg.Gather()
	first := strings.Index(out, "first_total")
	second := strings.Index(out, "second_gauge")
	if first < 0 || second < 0 || second < first {
		t.Errorf("registration order not preserved:\n%s", out)
	}
}

func TestRegistryServeHTTP(t *testing.T) {
	reg := NewRegistry()
	c := NewCounter("hits_total", "Scrape hits")
	reg.MustRegister(c)
	c.Inc(nil)

	rec := httptest.NewRecorder()
	reg.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "hits_total 1") {
		t.Errorf("body:\n%s", rec.Body.String())
	}
}
