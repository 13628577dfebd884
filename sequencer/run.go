package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/nasa-jpl/tascan/catalog"
	"github.com/nasa-jpl/tascan/delay"
	"github.com/nasa-jpl/tascan/dls"
	"github.com/nasa-jpl/tascan/persist"
	"github.com/nasa-jpl/tascan/spectra"
)

// run is one measurement in progress
type run struct {
	id      string
	seq     *Sequencer
	prog    delay.Program
	meta    persist.Metadata
	stepper Stepper
	cancel  context.CancelFunc
	done    chan struct{}

	begun      bool
	catalogued bool
	writer     *persist.Writer

	// scan is 1-based; rows and dA hold the scan in progress
	scan      int
	points    int
	rows      []persist.Row
	dA        []persist.Row
	persisted bool
	averaged  bool

	// finished scans, for the average and the FITS export
	scans   [][]persist.Row
	dAScans [][]persist.Row

	// per point means over scans
	probeMeans []spectra.RunningMean
	dAMeans    []spectra.RunningMean
}

func (r *run) setState(st State) {
	r.seq.updateStatus(func(s *Status) { s.State = st })
	r.seq.publish(Event{Kind: EventState, RunID: r.id, State: st, Scan: r.scan})
	log.Infof("run %s: %s", r.id, st)
}

func (r *run) work(ctx context.Context) {
	s := r.seq
	defer close(r.done)
	if s.Monitor != nil {
		s.Monitor.Suspend()
	}
	if s.Catalog != nil {
		_, err := s.Catalog.Begin(catalog.Run{
			ID:          r.id,
			Name:        r.meta.Name,
			Directory:   r.meta.Directory,
			Points:      r.prog.Len(),
			Scans:       r.prog.Scans,
			Shots:       r.prog.Shots,
			Orientation: string(r.prog.Orientation),
			State:       string(Starting),
		})
		if err != nil {
			log.Errorf("run %s not catalogued: %v", r.id, err)
		} else {
			r.catalogued = true
		}
	}
	r.probeMeans = make([]spectra.RunningMean, r.prog.Len())
	r.dAMeans = make([]spectra.RunningMean, r.prog.Len())

	err := r.measure(ctx)
	if err != nil && ctx.Err() != nil {
		// whatever failed did so because the run was stopped
		err = ctx.Err()
	}
	r.finish(err)
}

func (r *run) measure(ctx context.Context) error {
	s := r.seq
	r.setState(Starting)
	if s.Channel == nil {
		return &dls.ChannelError{Op: dls.GetReference, Err: errors.New("no command channel configured")}
	}
	f, err := s.Channel.GetFrame(ctx)
	if err != nil {
		return err
	}
	s.updateStatus(func(st *Status) { st.Frame = f })

	r.setState(Validating)
	if err := r.prog.Validate(f.Reference); err != nil {
		return err
	}

	r.setState(Homing)
	tol := s.Config.HomeTolerance
	if tol <= 0 {
		tol = dls.DefaultHomeTolerance
	}
	if !f.Homed(tol) {
		log.Infof("stage is %g ps from reference, homing", f.Offset())
		f, err = s.Channel.MoveToReference(ctx)
		if err != nil {
			return err
		}
		s.updateStatus(func(st *Status) { st.Frame = f })
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.stepper.Begin(ctx, r.prog, f); err != nil {
		return err
	}
	r.begun = true

	reducer := spectra.NewReducer(s.Settings)
	counter := 0
	for scan := 1; scan <= r.prog.Scans; scan++ {
		r.scan = scan
		r.rows, r.dA = nil, nil
		r.points = 0
		r.persisted = false
		s.updateStatus(func(st *Status) { st.Scan = scan })
		r.setState(Stepping)

		for i, target := range r.prog.Delays {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.updateStatus(func(st *Status) { st.Point = i })
			reached, err := r.stepper.Next(ctx, target)
			var hse *dls.HardwareStateError
			if errors.As(err, &hse) {
				log.Warnf("scan %d point %d (%g ps) skipped: %v", scan, i, target, err)
				// keep rows aligned with the program, filled with NaN on write
				r.rows = append(r.rows, persist.Row{Delay: target})
				r.dA = append(r.dA, persist.Row{Delay: target})
				if err := r.stepper.Done(counter); err != nil {
					return err
				}
				counter++
				continue
			}
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if math.Abs(reached-target) > tol {
				log.Warnf("stage reached %g ps for a target of %g ps", reached, target)
			}

			block, err := s.Camera.AcquireBlock(ctx, r.prog.Shots, counter)
			if err != nil {
				return fmt.Errorf("acquiring point %d of scan %d: %w", i, scan, err)
			}
			sp, err := reducer.Reduce(block)
			if err != nil {
				return fmt.Errorf("reducing point %d of scan %d: %w", i, scan, err)
			}
			r.record(scan, i, target, reached, sp)

			if err := r.stepper.Done(counter); err != nil {
				return err
			}
			counter++
		}

		r.setState(ScanBoundary)
		if err := r.closeScan(); err != nil {
			return err
		}
		if scan == r.prog.Scans && r.prog.Scans > 1 {
			if err := r.writeAverage(); err != nil {
				return err
			}
		}
	}
	if s.Config.FITS {
		if err := r.writeFITS(); err != nil {
			return err
		}
	}
	return nil
}

// record appends one reduced point to the scan and publishes it
func (r *run) record(scan, i int, target, reached float64, sp spectra.Spectra) {
	values := sp.Probe
	if r.seq.Config.Record == RecordDeltaA {
		values = sp.DeltaA
	}
	r.points++
	r.rows = append(r.rows, persist.Row{Delay: target, Values: values})
	r.dA = append(r.dA, persist.Row{Delay: target, Values: sp.DeltaA})
	r.probeMeans[i].Add(sp.Probe)
	r.dAMeans[i].Add(sp.DeltaA)

	r.seq.publish(Event{
		Kind:           EventUpdate,
		RunID:          r.id,
		Scan:           scan,
		Point:          i,
		Delay:          reached,
		Probe:          sp.Probe,
		DeltaA:         sp.DeltaA,
		ProbeAverage:   r.probeMeans[i].Mean(),
		DeltaAAverage:  r.dAMeans[i].Mean(),
		RejectedProbe:  sp.RejectedProbe,
		RejectedDeltaA: sp.RejectedDeltaA,
	})
}

func (r *run) labels(width int) []string {
	a := r.seq.Axis
	if len(a.Values) == 0 {
		a = spectra.PixelAxis(width)
	}
	return a.Fit(width).Labels()
}

func (r *run) getWriter(width int) *persist.Writer {
	if r.writer == nil {
		r.writer = persist.NewWriter(r.meta, r.labels(width))
	}
	return r.writer
}

func (r *run) addFile(path string) {
	s := r.seq
	s.updateStatus(func(st *Status) { st.Files = append(st.Files, path) })
	if r.catalogued {
		if err := s.Catalog.AddFile(r.id, path); err != nil {
			log.Errorf("cataloguing %s: %v", path, err)
		}
	}
	s.publish(Event{Kind: EventFile, RunID: r.id, Scan: r.scan, File: path})
}

// closeScan writes the scan in progress, if it holds any point, and moves it
// to the finished scans
func (r *run) closeScan() error {
	if r.persisted {
		return nil
	}
	r.persisted = true
	if r.points == 0 {
		log.Warnf("scan %d has no points, nothing written", r.scan)
		return nil
	}
	width := fillSkipped(r.rows)
	fillSkipped(r.dA)
	r.scans = append(r.scans, r.rows)
	r.dAScans = append(r.dAScans, r.dA)
	path, err := r.getWriter(width).WriteScan(r.scan, r.prog.Scans, r.rows)
	if err != nil {
		return fmt.Errorf("writing scan %d: %w", r.scan, err)
	}
	r.addFile(path)
	return nil
}

// fillSkipped gives the rows of skipped points NaN values and returns the
// row width
func fillSkipped(rows []persist.Row) int {
	width := 0
	for _, row := range rows {
		if len(row.Values) > 0 {
			width = len(row.Values)
			break
		}
	}
	for i := range rows {
		if rows[i].Values == nil {
			rows[i].Values = make([]float64, width)
			for j := range rows[i].Values {
				rows[i].Values[j] = math.NaN()
			}
		}
	}
	return width
}

func (r *run) writeAverage() error {
	if r.averaged || len(r.scans) == 0 {
		return nil
	}
	r.averaged = true
	path, err := r.getWriter(len(r.scans[0][0].Values)).WriteAverage(r.prog.Delays, r.scans)
	if err != nil {
		return fmt.Errorf("writing average: %w", err)
	}
	r.addFile(path)
	return nil
}

func (r *run) writeFITS() error {
	if len(r.dAScans) == 0 {
		return nil
	}
	vals := make([][][]float64, len(r.dAScans))
	for i, sc := range r.dAScans {
		vals[i] = make([][]float64, len(sc))
		for j, row := range sc {
			vals[i][j] = row.Values
		}
	}
	path := filepath.Join(r.meta.Directory, r.meta.Name+"_DeltaA.fits")
	if err := persist.WriteFITS(path, r.meta, r.prog.Delays, persist.Average(vals)); err != nil {
		return fmt.Errorf("writing FITS: %w", err)
	}
	r.addFile(path)
	return nil
}

// flush writes what an unfinished run holds: the partial scan, and the
// partial average when the final scan of a multi-scan run was cut short
func (r *run) flush() {
	if r.scan == 0 {
		return
	}
	if err := r.closeScan(); err != nil {
		log.Errorf("run %s: %v", r.id, err)
	}
	if r.scan == r.prog.Scans && r.prog.Scans > 1 {
		if err := r.writeAverage(); err != nil {
			log.Errorf("run %s: %v", r.id, err)
		}
	}
}

func (r *run) finish(err error) {
	s := r.seq
	state := Completed
	requested := errors.Is(err, context.Canceled)
	if err != nil {
		state = Stopped
		if requested {
			log.Infof("run %s stopped", r.id)
		} else {
			log.Errorf("run %s aborted: %v", r.id, err)
		}
		if r.begun {
			if err := r.stepper.Stop(); err != nil {
				log.Debugf("stop message: %v", err)
			}
		}
		r.flush()
	}
	if r.begun {
		timeout := s.Config.StopTimeout
		if timeout <= 0 {
			timeout = DefaultStopTimeout
		}
		if cerr := r.stepper.Close(timeout); cerr != nil {
			log.Warnf("run %s: closing stepper: %v", r.id, cerr)
		}
	}
	r.cancel()

	if s.Monitor != nil {
		s.Monitor.Resume()
	}
	if s.Guard != nil {
		s.Guard.Unlock()
	}
	var reported error
	if err != nil && !requested {
		reported = err
	}
	if r.catalogued {
		if cerr := s.Catalog.Finish(r.id, string(state), reported); cerr != nil {
			log.Errorf("cataloguing end of run %s: %v", r.id, cerr)
		}
	}

	s.mu.Lock()
	s.status.State = state
	if reported != nil {
		s.status.Error = reported.Error()
	}
	s.run = nil
	s.mu.Unlock()

	if reported != nil {
		s.publish(Event{Kind: EventError, RunID: r.id, Scan: r.scan, Error: reported.Error()})
	}
	s.publish(Event{Kind: EventState, RunID: r.id, State: state, Scan: r.scan})
	log.Infof("run %s: %s", r.id, state)
}
