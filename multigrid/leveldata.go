package multigrid

import (
	"context"

	"github.com/notargets/HPCGKernel/matrix"
	"github.com/notargets/HPCGKernel/partitions"
	"github.com/notargets/HPCGKernel/utils"
)

// Smoother sweeps applied before and after the coarse-grid correction
const (
	DefaultPresmootherSteps  = 1
	DefaultPostsmootherSteps = 1
)

// LevelData is the work storage of one fine/coarse link: the coarse
// residual and correction, and the fine-level product A*xf the residual is
// restricted from.
type LevelData struct {
	Fine   *matrix.Matrix
	Coarse *matrix.Matrix

	NumberOfPresmootherSteps  int
	NumberOfPostsmootherSteps int

	Rc  *partitions.PartitionedArray[float64] // coarse layout
	Xc  *partitions.PartitionedArray[float64] // coarse layout
	Axf *partitions.PartitionedArray[float64] // fine layout
}

// NewLevelData allocates the work vectors for the link fine -> fine.NextCoarser
func NewLevelData(fine *matrix.Matrix) (*LevelData, error) {
	if err := fine.Check(); err != nil {
		return nil, err
	}
	coarse := fine.NextCoarser
	if coarse == nil {
		return nil, utils.Invariantf("%s has no coarse level", fine.Name)
	}
	if err := coarse.Check(); err != nil {
		return nil, err
	}
	if coarse.FineToCoarseRow == nil {
		return nil, utils.Invariantf("%s has no fine-to-coarse map", coarse.Name)
	}

	d := &LevelData{
		Fine:                      fine,
		Coarse:                    coarse,
		NumberOfPresmootherSteps:  DefaultPresmootherSteps,
		NumberOfPostsmootherSteps: DefaultPostsmootherSteps,
	}
	var err error
	if d.Rc, err = vectorOn(coarse, "rc"); err != nil {
		return nil, err
	}
	if d.Xc, err = vectorOn(coarse, "xc"); err != nil {
		return nil, err
	}
	if d.Axf, err = vectorOn(fine, "Axf"); err != nil {
		return nil, err
	}
	return d, nil
}

// NewHierarchyData allocates LevelData for every link below fine, finest first
func NewHierarchyData(fine *matrix.Matrix) ([]*LevelData, error) {
	var data []*LevelData
	for cur := fine; cur.NextCoarser != nil; cur = cur.NextCoarser {
		d, err := NewLevelData(cur)
		if err != nil {
			for _, prev := range data {
				_ = prev.Deallocate()
			}
			return nil, err
		}
		data = append(data, d)
	}
	return data, nil
}

func vectorOn(m *matrix.Matrix, name string) (*partitions.PartitionedArray[float64], error) {
	pa, err := partitions.AllocatePartitionedArray[float64](m.Name+"."+name, m.Geom.TotalRows(), 1)
	if err != nil {
		return nil, err
	}
	if _, err = pa.PartitionBy(m.Layout()); err != nil {
		return nil, err
	}
	return pa, nil
}

// Restrict injects the fine residual onto the coarse grid:
// Rc[i] = rf[f2c[i]] - Axf[f2c[i]]. rf holds the whole fine vector in
// global row order.
func (d *LevelData) Restrict(ctx context.Context, rf []float64) error {
	if err := d.check(len(rf)); err != nil {
		return err
	}
	axf := d.Axf.GlobalData
	return d.Coarse.Domain().ParallelFor(ctx, func(ctx context.Context, k int) error {
		rc := d.Rc.GetPartitionData(k)
		f2c := d.Coarse.FineToCoarseRow.GetPartitionData(k)
		for i, f := range f2c {
			rc[i] = rf[f] - axf[f]
		}
		return nil
	})
}

// Prolong adds the coarse correction back onto the fine points it was
// injected from: xf[f2c[i]] += Xc[i]. The map is injective, so shards write
// disjoint entries of xf.
func (d *LevelData) Prolong(ctx context.Context, xf []float64) error {
	if err := d.check(len(xf)); err != nil {
		return err
	}
	return d.Coarse.Domain().ParallelFor(ctx, func(ctx context.Context, k int) error {
		xc := d.Xc.GetPartitionData(k)
		f2c := d.Coarse.FineToCoarseRow.GetPartitionData(k)
		for i, f := range f2c {
			xf[f] += xc[i]
		}
		return nil
	})
}

func (d *LevelData) check(fineLen int) error {
	if d.Rc == nil || d.Rc.Freed() {
		return utils.UseAfterFreef("%s level data used after deallocation", d.Coarse.Name)
	}
	if want := d.Fine.Geom.TotalRows(); int64(fineLen) != want {
		return utils.Configf("%s: fine vector of length %d, want %d", d.Fine.Name, fineLen, want)
	}
	return d.Coarse.Check()
}

// Deallocate releases the work vectors. The matrices are not touched.
func (d *LevelData) Deallocate() error {
	for _, pa := range []*partitions.PartitionedArray[float64]{d.Rc, d.Xc, d.Axf} {
		if err := pa.Deallocate(); err != nil {
			return err
		}
	}
	return nil
}
