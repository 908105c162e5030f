package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/notargets/HPCGKernel/cgdata"
	"github.com/notargets/HPCGKernel/config"
	"github.com/notargets/HPCGKernel/device"
	"github.com/notargets/HPCGKernel/exchange"
	"github.com/notargets/HPCGKernel/halo"
	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/metrics"
	"github.com/notargets/HPCGKernel/multigrid"
	"github.com/notargets/HPCGKernel/problem"
	"github.com/notargets/HPCGKernel/utils"
	"github.com/prometheus/client_golang/prometheus"
)

// LevelSummary describes one built level
type LevelSummary struct {
	Name           string
	Geometry       string
	Rows           int64
	Nonzeros       int64
	ExternalValues int
	ValuesSent     int
	MaxNeighbors   int
}

// Summary is what a setup run reports
type Summary struct {
	Levels       []LevelSummary
	Elapsed      time.Duration
	DeviceMode   string
	DeviceBytes  int64
	MetricSeries int
}

// run builds the full setup described by cfg, validates it and releases it
func run(ctx context.Context, cfg *config.Config, logOut io.Writer) (*Summary, error) {
	start := time.Now()
	log := utils.NewLogger(logOut, cfg.LogFormat, utils.ParseLevel(cfg.LogLevel))

	geom, err := cfg.Geometry()
	if err != nil {
		return nil, err
	}
	log.Info("setup starting", "geometry", geom.String(), "levels", cfg.Levels)

	reg := prometheus.NewRegistry()
	b := multigrid.NewBuilder(problem.NewStencil27(), exchange.NewNetwork(geom.Size))
	b.Logger = log
	b.Metrics = metrics.New(reg)

	fine, err := b.SetupLevel(ctx, geom, 0)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := matrix.DeallocateHierarchy(fine); err != nil {
			log.Error("releasing hierarchy", "error", err)
		}
	}()

	levels, err := b.BuildHierarchy(ctx, fine, cfg.Levels)
	if err != nil {
		return nil, err
	}
	if levels < cfg.Levels {
		log.Warn("grid cannot be halved further", "requested", cfg.Levels, "built", levels)
	}

	summary := &Summary{}
	for _, m := range fine.Levels() {
		if err = halo.ValidateSymmetry(m); err != nil {
			return nil, err
		}
		summary.Levels = append(summary.Levels, summarize(m))
	}

	vectors, err := problem.NewVectors(fine)
	if err != nil {
		return nil, err
	}
	defer vectors.Deallocate()

	aux := cgdata.New()
	if err = aux.Allocate(geom); err != nil {
		return nil, err
	}
	defer aux.Deallocate()
	if err = aux.PartitionBy(fine.Layout()); err != nil {
		return nil, err
	}

	mgData, err := multigrid.NewHierarchyData(fine)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, d := range mgData {
			_ = d.Deallocate()
		}
	}()

	if cfg.Device != "" {
		dev, err := utils.CreateDevice(cfg.Device)
		if err != nil {
			return nil, err
		}
		defer dev.Free()
		mirror := device.NewMirror(dev)
		defer mirror.Free()
		for _, m := range fine.Levels() {
			if err = device.UploadMatrix(mirror, m); err != nil {
				return nil, err
			}
		}
		summary.DeviceMode = mirror.Mode()
		summary.DeviceBytes = mirror.TotalBytes()
		log.Info("hierarchy mirrored", "mode", summary.DeviceMode, "bytes", summary.DeviceBytes)
	}

	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range families {
		summary.MetricSeries += len(mf.GetMetric())
	}

	summary.Elapsed = time.Since(start)
	log.Info("setup complete", "levels", levels, "elapsed", summary.Elapsed)
	return summary, nil
}

func summarize(m *matrix.Matrix) LevelSummary {
	ls := LevelSummary{
		Name:     m.Name,
		Geometry: fmt.Sprintf("%dx%dx%d", m.Geom.Nx, m.Geom.Ny, m.Geom.Nz),
		Rows:     m.Geom.TotalRows(),
		Nonzeros: m.TotalNumberOfNonzeros(),
	}
	for _, sh := range m.Shards {
		ls.ExternalValues += sh.NumberOfExternalValues
		ls.ValuesSent += sh.TotalToBeSent
		ls.MaxNeighbors = max(ls.MaxNeighbors, len(sh.Neighbors))
	}
	return ls
}

// Print writes the summary as an aligned table
func (s *Summary) Print(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tGRID\tROWS\tNONZEROS\tEXTERNAL\tSENT\tMAX NEIGHBORS")
	for _, ls := range s.Levels {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			ls.Name, ls.Geometry, ls.Rows, ls.Nonzeros, ls.ExternalValues, ls.ValuesSent, ls.MaxNeighbors)
	}
	tw.Flush()
	if s.DeviceMode != "" {
		fmt.Fprintf(w, "device %s: %d bytes mirrored\n", s.DeviceMode, s.DeviceBytes)
	}
	fmt.Fprintf(w, "setup took %v\n", s.Elapsed.Round(time.Microsecond))
}
