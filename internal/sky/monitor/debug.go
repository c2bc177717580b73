package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/starfield/internal/httputil"
	"github.com/banshee-data/starfield/internal/sky/feature"
	"github.com/banshee-data/starfield/internal/sky/pipeline"
	"github.com/banshee-data/starfield/internal/sky/skyplot"
)

// unassignedCategory holds stars outside every constellation.
const unassignedCategory = "unassigned"

// handleDebugGraph renders the star field as a go-echarts graph: one
// category per constellation, constellation edges as links, and with
// ?mesh=1 the Delaunay edges too. Debug only.
func (s *Server) handleDebugGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	snap := s.runner.Snapshot()
	withMesh, _ := strconv.ParseBool(r.URL.Query().Get("mesh"))

	nodes, links, categories := graphData(snap, withMesh)

	width, height := snap.Width, snap.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	g := charts.NewGraph()
	g.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Starfield",
			Theme:     "dark",
			Width:     fmt.Sprintf("%dpx", width*2),
			Height:    fmt.Sprintf("%dpx", height*2),
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Starfield",
			Subtitle: fmt.Sprintf("frame=%d stars=%d constellations=%d", snap.Frame, snap.Stars, len(snap.Constellations)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	g.AddSeries("sky", nodes, links, charts.WithGraphChartOpts(opts.GraphChart{
		Layout:     "none",
		Roam:       opts.Bool(true),
		Categories: categories,
	}))

	var buf bytes.Buffer
	if err := g.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// graphData converts a snapshot to graph nodes and links. Node names are
// feature IDs; categories are indexed in snapshot constellation order with
// the unassigned category last.
func graphData(snap *pipeline.Snapshot, withMesh bool) ([]opts.GraphNode, []opts.GraphLink, []*opts.GraphCategory) {
	category := make(map[feature.ID]int)
	categories := make([]*opts.GraphCategory, 0, len(snap.Constellations)+1)
	for i, c := range snap.Constellations {
		categories = append(categories, &opts.GraphCategory{Name: c.Name})
		for _, id := range c.Stars {
			category[id] = i
		}
	}
	unassigned := len(categories)
	categories = append(categories, &opts.GraphCategory{Name: unassignedCategory})

	nodes := make([]opts.GraphNode, 0, snap.Stars)
	for _, f := range snap.Features {
		if !f.Star {
			continue
		}
		cat, ok := category[f.ID]
		if !ok {
			cat = unassigned
		}
		nodes = append(nodes, opts.GraphNode{
			Name:       nodeName(f.ID),
			X:          float32(f.X),
			Y:          float32(f.Y),
			Category:   cat,
			SymbolSize: 4 + min(f.Weight, 40)/8,
		})
	}

	var links []opts.GraphLink
	if withMesh {
		for _, e := range snap.MeshEdges {
			links = append(links, opts.GraphLink{Source: nodeName(e.A), Target: nodeName(e.B)})
		}
	}
	for _, c := range snap.Constellations {
		for _, e := range c.Edges {
			links = append(links, opts.GraphLink{Source: nodeName(e.A), Target: nodeName(e.B)})
		}
	}
	return nodes, links, categories
}

func nodeName(id feature.ID) string { return strconv.FormatInt(int64(id), 10) }

// handleDebugPNG renders the snapshot with skyplot.
func (s *Server) handleDebugPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	hideMesh, _ := strconv.ParseBool(r.URL.Query().Get("hide_mesh"))

	var buf bytes.Buffer
	if err := skyplot.WritePNG(&buf, s.runner.Snapshot(), skyplot.Options{HideMesh: hideMesh}); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
