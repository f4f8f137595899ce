package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/golang/glog"
)

const (
	memProfileRate = 4096
	timeFormat     = "20060102_150405"
)

// Profiler writes cpu, heap, block and mutex profiles plus an execution trace
// into dir until stopped.
type Profiler struct {
	dir     string
	stops   []func()
	stopped bool
}

func StartProfiler(dir string) *Profiler {
	p := &Profiler{dir: dir}
	stamp := time.Now().Format(timeFormat)

	p.start("cpu", stamp, func(f *os.File) (func(), error) {
		if err := pprof.StartCPUProfile(f); err != nil {
			return nil, err
		}
		return pprof.StopCPUProfile, nil
	})
	p.start("trace", stamp, func(f *os.File) (func(), error) {
		if err := trace.Start(f); err != nil {
			return nil, err
		}
		return trace.Stop, nil
	})
	p.start("mem", stamp, func(f *os.File) (func(), error) {
		old := runtime.MemProfileRate
		runtime.MemProfileRate = memProfileRate
		return func() {
			writeLookup("heap", f, 0)
			runtime.MemProfileRate = old
		}, nil
	})
	p.start("block", stamp, func(f *os.File) (func(), error) {
		runtime.SetBlockProfileRate(1)
		return func() {
			writeLookup("block", f, 0)
			runtime.SetBlockProfileRate(0)
		}, nil
	})
	p.start("mutex", stamp, func(f *os.File) (func(), error) {
		runtime.SetMutexProfileFraction(1)
		return func() {
			writeLookup("mutex", f, 0)
			runtime.SetMutexProfileFraction(0)
		}, nil
	})
	return p
}

func (p *Profiler) start(kind, stamp string, begin func(f *os.File) (func(), error)) {
	fn := filepath.Join(p.dir, fmt.Sprintf("%s-%s.pprof", kind, stamp))
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: create %s: %v", fn, err)
		return
	}
	stop, err := begin(f)
	if err != nil {
		glog.Errorf("pprof: start %s: %v", kind, err)
		f.Close()
		return
	}
	glog.Infof("pprof: %s profiling enabled, %s", kind, fn)
	p.stops = append(p.stops, func() {
		stop()
		f.Close()
		glog.Infof("pprof: %s profiling disabled, %s", kind, fn)
	})
}

// Stop flushes every profile. Later calls are no-ops.
func (p *Profiler) Stop() {
	if p.stopped {
		return
	}
	p.stopped = true
	for _, stop := range p.stops {
		stop()
	}
}

func writeLookup(name string, f *os.File, debug int) {
	if prof := pprof.Lookup(name); prof != nil {
		if err := prof.WriteTo(f, debug); err != nil {
			glog.Errorf("pprof: write %s: %v", name, err)
		}
	}
}

func dumpGoroutines(dir string) {
	fn := filepath.Join(dir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(timeFormat)))
	glog.Infof("dumping goroutines to %s", fn)
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("dump goroutines: %v", err)
		return
	}
	defer f.Close()
	writeLookup("goroutine", f, 2)
}
