package poll

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Remote fetches structured facts from the REST endpoints and translates each
// one into the internal line grammar, feeding the same sink as the poll loops.
// Downstream parsing never special-cases the source. REST facts carry no
// message ids, so they bypass the dedup gate entirely.
type Remote struct {
	client *Client
	sink   Sink
	logger *slog.Logger
}

// NewRemote creates a REST fact fetcher sharing the poll client's connection
// and credentials.
func NewRemote(client *Client, sink Sink, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default().With("component", "poll-remote")
	}
	return &Remote{client: client, sink: sink, logger: logger}
}

type areasResponse struct {
	Areas []struct {
		Name      string `json:"name"`
		Locations []struct {
			Name    string `json:"name"`
			ProbeID string `json:"probeId"`
		} `json:"locations"`
	} `json:"areas"`
}

type statsResponse struct {
	Stats []struct {
		Area        string  `json:"area"`
		Metric      string  `json:"metric"`
		Min         float64 `json:"min"`
		Max         float64 `json:"max"`
		MinObserved float64 `json:"minObserved"`
		MaxObserved float64 `json:"maxObserved"`
	} `json:"stats"`
}

type thresholdsResponse struct {
	Thresholds []struct {
		Area   string    `json:"area"`
		Metric string    `json:"metric"`
		Values []float64 `json:"values"`
	} `json:"thresholds"`
}

type pixelsResponse struct {
	Pixels []struct {
		Area  string `json:"area"`
		Count string `json:"count"`
	} `json:"pixels"`
}

// FetchAreas pulls the area/location/probe assignments. An area with no
// locations is emitted as the explicit no-probes sentinel so the reconciler
// clears its location map.
func (r *Remote) FetchAreas(ctx context.Context) error {
	var resp areasResponse
	if err := r.client.getJSON(ctx, "/areas", &resp); err != nil {
		return err
	}

	for _, area := range resp.Areas {
		if len(area.Locations) == 0 {
			r.sink("", fmt.Sprintf("AREA: %s (no probes)", area.Name))
			continue
		}
		for _, loc := range area.Locations {
			r.sink("", fmt.Sprintf("AREA: %s %s %s", area.Name, loc.Name, loc.ProbeID))
		}
	}
	return nil
}

// FetchStats pulls per-area metric statistics.
func (r *Remote) FetchStats(ctx context.Context) error {
	var resp statsResponse
	if err := r.client.getJSON(ctx, "/stats", &resp); err != nil {
		return err
	}

	for _, s := range resp.Stats {
		r.sink("", fmt.Sprintf("STAT: %s %s min:%s max:%s min_o:%s max_o:%s",
			s.Area, s.Metric,
			formatValue(s.Min), formatValue(s.Max),
			formatValue(s.MinObserved), formatValue(s.MaxObserved)))
	}
	return nil
}

// FetchThresholds pulls per-area threshold bands.
func (r *Remote) FetchThresholds(ctx context.Context) error {
	var resp thresholdsResponse
	if err := r.client.getJSON(ctx, "/thresholds", &resp); err != nil {
		return err
	}

	for _, t := range resp.Thresholds {
		values := make([]string, len(t.Values))
		for i, v := range t.Values {
			values[i] = formatValue(v)
		}
		r.sink("", fmt.Sprintf("THRESHOLDS %s %s [%s]",
			t.Area, t.Metric, strings.Join(values, ", ")))
	}
	return nil
}

// FetchPixels pulls the per-area display pixel counts. The remote value may
// carry a trailing '*' marker; it is stripped here so the emitted line holds
// a bare number.
func (r *Remote) FetchPixels(ctx context.Context) error {
	var resp pixelsResponse
	if err := r.client.getJSON(ctx, "/pixels", &resp); err != nil {
		return err
	}

	for _, p := range resp.Pixels {
		count := strings.TrimSuffix(strings.TrimSpace(p.Count), "*")
		if count == "" {
			continue
		}
		r.sink("", fmt.Sprintf("PIXELS: %s %s", p.Area, count))
	}
	return nil
}

// FetchAll runs every fetcher, logging failures individually; one endpoint
// being down never blocks the others.
func (r *Remote) FetchAll(ctx context.Context) {
	for name, fetch := range map[string]func(context.Context) error{
		"areas":      r.FetchAreas,
		"stats":      r.FetchStats,
		"thresholds": r.FetchThresholds,
		"pixels":     r.FetchPixels,
	} {
		if err := fetch(ctx); err != nil {
			r.logger.Warn("fact fetch failed", "endpoint", name, "error", err)
		}
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
